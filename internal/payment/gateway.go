package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrGateway covers every failure talking to the payment provider:
	// transport, API rejection, timeout and an open breaker.
	ErrGateway       = errors.New("payment gateway error")
	ErrInvalidAmount = errors.New("invalid payment amount")
)

const defaultTimeout = 10 * time.Second

type Config struct {
	KeyID     string
	SecretKey string
	Currency  string
	Timeout   time.Duration
}

// GatewayOrder is the provider-side order a client pays against.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

// OrderCreator is the Razorpay SDK order resource.
type OrderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Gateway creates Razorpay orders and checks payment signatures.
type Gateway struct {
	orders  OrderCreator
	secret  string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[map[string]interface{}]
}

// NewRazorpay builds a Gateway backed by the Razorpay REST API.
func NewRazorpay(cfg Config) *Gateway {
	client := razorpay.NewClient(cfg.KeyID, cfg.SecretKey)
	return NewGateway(client.Order, cfg)
}

// NewGateway wraps an OrderCreator with a circuit breaker and timeout.
func NewGateway(orders OrderCreator, cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cb := gobreaker.NewCircuitBreaker[map[string]interface{}](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Gateway{
		orders:  orders,
		secret:  cfg.SecretKey,
		timeout: timeout,
		cb:      cb,
	}
}

// ToMinorUnits converts a major-unit amount (rupees) to paise, rounding
// half away from zero.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

// CreateOrder creates a provider order for amount in currency.
func (g *Gateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error) {
	minor, err := ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"amount":          minor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := g.cb.Execute(func() (map[string]interface{}, error) {
		return g.call(ctx, data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrGateway, err)
	}

	order, err := parseOrder(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if order.Currency == "" {
		order.Currency = currency
	}
	if order.Amount == 0 {
		order.Amount = minor
	}
	return order, nil
}

// VerifySignature checks a checkout callback against the configured secret.
func (g *Gateway) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifySignature(orderID, paymentID, signature, g.secret)
}

type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs the blocking SDK request and gives up when ctx ends.
func (g *Gateway) call(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	done := make(chan callResult, 1)
	go func() {
		body, err := g.orders.Create(data, nil)
		done <- callResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

func parseOrder(body map[string]interface{}) (*GatewayOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, errors.New("response has no order id")
	}
	o := &GatewayOrder{ID: id}
	o.Currency, _ = body["currency"].(string)
	o.Receipt, _ = body["receipt"].(string)
	switch v := body["amount"].(type) {
	case float64:
		o.Amount = int64(v)
	case int64:
		o.Amount = v
	case int:
		o.Amount = int64(v)
	}
	return o, nil
}
