package validation

import "strings"

// Item is one checkout line as sent by the storefront.
type Item struct {
	ProductID string  `json:"productId" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	Image     string  `json:"image,omitempty"`
	Price     float64 `json:"price" validate:"gt=0"`
	Quantity  int     `json:"quantity" validate:"min=1"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
}

// ShippingAddress accepts either a single name or the storefront's
// firstName/lastName pair.
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Address    string `json:"address" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

// FullName is Name when set, otherwise first and last name joined.
func (a ShippingAddress) FullName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

// CreateCheckoutRequest is the payload for POST /api/checkout
type CreateCheckoutRequest struct {
	CheckoutItems   []Item          `json:"checkoutItems" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required,oneof=Razorpay COD"`
	TotalPrice      float64         `json:"totalPrice" validate:"gt=0"` // must match the items
	CheckoutSource  string          `json:"checkoutSource,omitempty" validate:"omitempty,oneof=cart buy-now"`
}

// PayRequest is the payload for PUT /api/checkout/:id/pay
type PayRequest struct {
	PaymentStatus     string                 `json:"paymentStatus"`
	PaymentDetails    map[string]interface{} `json:"paymentDetails" validate:"required"`
	RazorpaySignature string                 `json:"razorpay_signature"`
}

// GatewayIDs returns the Razorpay order and payment ids from the details.
func (r PayRequest) GatewayIDs() (orderID, paymentID string) {
	orderID, _ = r.PaymentDetails["razorpay_order_id"].(string)
	paymentID, _ = r.PaymentDetails["razorpay_payment_id"].(string)
	return orderID, paymentID
}
