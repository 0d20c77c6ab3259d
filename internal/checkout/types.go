package checkout

import "time"

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	MethodRazorpay PaymentMethod = "Razorpay"
	MethodCOD      PaymentMethod = "COD"
)

// PaymentStatus of a checkout session.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "Pending"
	StatusPaid       PaymentStatus = "Paid"
	StatusCODPending PaymentStatus = "COD-Pending"
	StatusUnpaid     PaymentStatus = "Unpaid"
)

// Source tells whether the session was started from the cart or from a
// single "buy now" product. Only cart checkouts clear the cart on finalize.
type Source string

const (
	SourceCart   Source = "cart"
	SourceBuyNow Source = "buy-now"
)

// Item is one line of a checkout.
type Item struct {
	ProductID string  `json:"productId" dynamodbav:"product_id"`
	Name      string  `json:"name" dynamodbav:"name"`
	Image     string  `json:"image,omitempty" dynamodbav:"image,omitempty"`
	Price     float64 `json:"price" dynamodbav:"price"`
	Quantity  int     `json:"quantity" dynamodbav:"quantity"`
	Size      string  `json:"size,omitempty" dynamodbav:"size,omitempty"`
	Color     string  `json:"color,omitempty" dynamodbav:"color,omitempty"`
}

// ShippingAddress is where the order is delivered.
type ShippingAddress struct {
	Name       string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Address    string `json:"address" dynamodbav:"address"`
	City       string `json:"city" dynamodbav:"city"`
	PostalCode string `json:"postalCode" dynamodbav:"postal_code"`
	Country    string `json:"country" dynamodbav:"country"`
	Phone      string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
}

// Session is the item stored in the checkouts table. JSON names follow the
// storefront client's wire format.
type Session struct {
	ID              string                 `json:"_id" dynamodbav:"checkout_id"` // PK
	UserID          string                 `json:"user" dynamodbav:"user_id"`
	Items           []Item                 `json:"checkoutItems" dynamodbav:"items"`
	ShippingAddress ShippingAddress        `json:"shippingAddress" dynamodbav:"shipping_address"`
	PaymentMethod   PaymentMethod          `json:"paymentMethod" dynamodbav:"payment_method"`
	TotalPrice      float64                `json:"totalPrice" dynamodbav:"total_price"`
	PaymentStatus   PaymentStatus          `json:"paymentStatus" dynamodbav:"payment_status"`
	Paid            bool                   `json:"isPaid" dynamodbav:"paid"`
	PaidAt          *time.Time             `json:"paidAt,omitempty" dynamodbav:"paid_at,omitempty"`
	PaymentDetails  map[string]interface{} `json:"paymentDetails,omitempty" dynamodbav:"payment_details,omitempty"`
	Finalized       bool                   `json:"isFinalized" dynamodbav:"finalized"`
	FinalizedAt     *time.Time             `json:"finalizedAt,omitempty" dynamodbav:"finalized_at,omitempty"`
	GatewayOrderID  string                 `json:"gatewayOrderId,omitempty" dynamodbav:"gateway_order_id,omitempty"`
	Source          Source                 `json:"checkoutSource" dynamodbav:"source"`
	OrderID         string                 `json:"orderId,omitempty" dynamodbav:"order_id,omitempty"`
	CreatedAt       time.Time              `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt       time.Time              `json:"updatedAt" dynamodbav:"updated_at"`
}

// CanFinalize reports whether the finalize guard passes, ignoring the
// finalized latch itself.
func (s *Session) CanFinalize() bool {
	return s.Paid || s.PaymentMethod == MethodCOD
}
