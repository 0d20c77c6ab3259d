package orders

import (
	"time"

	"github.com/kixor/checkoutflow/internal/checkout"
)

// Order payment statuses. Lower-case on purpose: these are the values the
// storefront order pages filter on.
const (
	PaymentPaid       = "paid"
	PaymentCODPending = "cod-pending"
	PaymentUnpaid     = "unpaid"
)

// Order is the item stored in the orders table.
type Order struct {
	ID              string                   `json:"_id" dynamodbav:"order_id"` // PK
	UserID          string                   `json:"user" dynamodbav:"user_id"`
	Items           []checkout.Item          `json:"orderItems" dynamodbav:"items"`
	ShippingAddress checkout.ShippingAddress `json:"shippingAddress" dynamodbav:"shipping_address"`
	PaymentMethod   checkout.PaymentMethod   `json:"paymentMethod" dynamodbav:"payment_method"`
	TotalPrice      float64                  `json:"totalPrice" dynamodbav:"total_price"`
	Paid            bool                     `json:"isPaid" dynamodbav:"paid"`
	PaidAt          *time.Time               `json:"paidAt" dynamodbav:"paid_at,omitempty"`
	Delivered       bool                     `json:"isDelivered" dynamodbav:"delivered"`
	PaymentStatus   string                   `json:"paymentStatus" dynamodbav:"payment_status"`
	PaymentDetails  map[string]interface{}   `json:"paymentDetails,omitempty" dynamodbav:"payment_details,omitempty"`
	CheckoutID      string                   `json:"checkout" dynamodbav:"checkout_id"`
	CreatedAt       time.Time                `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt       time.Time                `json:"updatedAt" dynamodbav:"updated_at"`
}
