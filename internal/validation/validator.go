package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the checkout struct-level rules
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(createCheckoutStructValidation, CreateCheckoutRequest{})
	v.RegisterStructValidation(payStructValidation, PayRequest{})

	return v
}

// createCheckoutStructValidation verifies totalPrice equals the sum of
// price * quantity over the items, compared in paise.
func createCheckoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateCheckoutRequest)
	if len(req.CheckoutItems) == 0 {
		return
	}

	var sum float64
	for _, it := range req.CheckoutItems {
		sum += float64(it.Quantity) * it.Price
	}

	sumCents := int64(math.Round(sum * 100))
	totalCents := int64(math.Round(req.TotalPrice * 100))
	if sumCents != totalCents {
		sl.ReportError(req.TotalPrice, "totalPrice", "TotalPrice", "total_match_items", fmt.Sprintf("%.2f", sum))
	}
}

func payStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PayRequest)
	if req.PaymentDetails == nil {
		return
	}
	orderID, paymentID := req.GatewayIDs()
	if orderID == "" {
		sl.ReportError(req.PaymentDetails, "paymentDetails.razorpay_order_id", "PaymentDetails", "required", "")
	}
	if paymentID == "" {
		sl.ReportError(req.PaymentDetails, "paymentDetails.razorpay_payment_id", "PaymentDetails", "required", "")
	}
}
