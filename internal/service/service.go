package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/checkout"
	"github.com/kixor/checkoutflow/internal/idempotency"
	"github.com/kixor/checkoutflow/internal/orders"
	"github.com/kixor/checkoutflow/internal/payment"
)

const (
	msgNoItems          = "No items in checkout"
	msgCheckoutNotFound = "Checkout not found"
	msgOrderNotFound    = "Order not found"
	msgInvalidStatus    = "Invalid payment status"
	msgInvalidSignature = "Invalid Razorpay signature"
	msgOrderMismatch    = "Razorpay order does not match checkout"
	msgNoGatewayOrder   = "No Razorpay order created for this checkout"
	msgAlreadyFinalized = "Checkout already finalized"
	msgAlreadyPaid      = "Checkout already paid"
	msgNotPaid          = "Checkout is not paid"
	msgGatewayFailed    = "Failed to create Razorpay order"
	msgInvalidAmount    = "Invalid checkout total"
	msgDuplicateRequest = "Request with this Idempotency-Key is still in progress"
)

// Gateway is the payment provider used by the checkout flow.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*payment.GatewayOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type Deps struct {
	Checkouts    *checkout.Store
	Orders       *orders.Store
	Idempotency  *idempotency.Store
	Materializer *orders.Materializer
	Gateway      Gateway
	Metrics      *aws.Metrics
	Logger       *slog.Logger
	Currency     string
}

// Service sequences the checkout workflow: create, create gateway order,
// confirm payment and finalize. Every call re-checks its guards against
// the stored session.
type Service struct {
	checkouts    *checkout.Store
	orders       *orders.Store
	idempotency  *idempotency.Store
	materializer *orders.Materializer
	gateway      Gateway
	metrics      *aws.Metrics
	logger       *slog.Logger
	currency     string
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := d.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		checkouts:    d.Checkouts,
		orders:       d.Orders,
		idempotency:  d.Idempotency,
		materializer: d.Materializer,
		gateway:      d.Gateway,
		metrics:      d.Metrics,
		logger:       logger,
		currency:     currency,
	}
}

type CreateInput struct {
	UserID          string
	Items           []checkout.Item
	ShippingAddress checkout.ShippingAddress
	PaymentMethod   checkout.PaymentMethod
	TotalPrice      float64
	Source          checkout.Source
	// IdempotencyKey is the optional client supplied Idempotency-Key header.
	IdempotencyKey string
}

// CreateCheckout stores a new session in Pending/unpaid state. With an
// idempotency key, a repeated request returns the session created by the
// first one and replayed is true.
func (s *Service) CreateCheckout(ctx context.Context, in CreateInput) (sess *checkout.Session, replayed bool, err error) {
	if len(in.Items) == 0 {
		return nil, false, newError(ErrValidation, msgNoItems, checkout.ErrEmptyItems)
	}

	draft := checkout.Session{
		UserID:          in.UserID,
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		TotalPrice:      in.TotalPrice,
		Source:          in.Source,
	}

	if in.IdempotencyKey == "" || s.idempotency == nil {
		created, err := s.checkouts.Create(ctx, draft)
		if err != nil {
			return nil, false, s.mapCheckoutErr(err)
		}
		return created, false, nil
	}

	key := idempotency.Key(in.UserID, in.IdempotencyKey)
	if prev, err := s.replay(ctx, key); err != nil || prev != nil {
		return prev, prev != nil, err
	}

	draft.ID = uuid.NewString()
	guard, err := s.idempotency.PutInProgress(key, draft.ID)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency record: %w", err)
	}
	created, err := s.checkouts.Create(ctx, draft, guard)
	if errors.Is(err, checkout.ErrDuplicate) {
		// Lost a race with a concurrent request carrying the same key.
		prev, rerr := s.replay(ctx, key)
		if rerr != nil {
			return nil, false, rerr
		}
		if prev == nil {
			return nil, false, newError(ErrStateConflict, msgDuplicateRequest, err)
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, s.mapCheckoutErr(err)
	}

	if err := s.idempotency.MarkDone(ctx, key, 201); err != nil {
		s.logger.WarnContext(ctx, "mark idempotency key done failed",
			slog.String("checkout_id", created.ID),
			slog.Any("error", err),
		)
	}
	return created, false, nil
}

// replay returns the session a previous request with key produced, or nil.
func (s *Service) replay(ctx context.Context, key string) (*checkout.Session, error) {
	rec, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	sess, err := s.checkouts.Get(ctx, rec.CheckoutID)
	if errors.Is(err, checkout.ErrNotFound) {
		return nil, newError(ErrStateConflict, msgDuplicateRequest, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load replayed checkout: %w", err)
	}
	return sess, nil
}

// GetCheckout returns the session when userID owns it.
func (s *Service) GetCheckout(ctx context.Context, userID, id string) (*checkout.Session, error) {
	sess, err := s.checkouts.Get(ctx, id)
	if err != nil {
		return nil, s.mapCheckoutErr(err)
	}
	if sess.UserID != userID {
		return nil, newError(ErrNotFound, msgCheckoutNotFound, nil)
	}
	return sess, nil
}

// CreateGatewayOrder opens a Razorpay order for the stored session total and
// records its id on the session.
func (s *Service) CreateGatewayOrder(ctx context.Context, userID, id string) (*payment.GatewayOrder, error) {
	sess, err := s.GetCheckout(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sess.Finalized {
		return nil, newError(ErrStateConflict, msgAlreadyFinalized, checkout.ErrAlreadyFinalized)
	}
	if sess.Paid {
		return nil, newError(ErrStateConflict, msgAlreadyPaid, nil)
	}

	amount := decimal.NewFromFloat(sess.TotalPrice)
	gwOrder, err := s.gateway.CreateOrder(ctx, amount, s.currency, Receipt(sess.ID))
	if errors.Is(err, payment.ErrInvalidAmount) {
		return nil, newError(ErrValidation, msgInvalidAmount, err)
	}
	if err != nil {
		s.count(ctx, aws.MetricGatewayError)
		s.logger.ErrorContext(ctx, "create gateway order failed",
			slog.String("checkout_id", sess.ID),
			slog.Any("error", err),
		)
		return nil, newError(ErrGateway, msgGatewayFailed, err)
	}

	// Payment confirmation only accepts the recorded gateway order, so an
	// unrecorded one is useless to the client.
	if _, err := s.checkouts.SetGatewayOrder(ctx, sess.ID, gwOrder.ID); err != nil {
		s.logger.ErrorContext(ctx, "record gateway order failed",
			slog.String("checkout_id", sess.ID),
			slog.String("gateway_order_id", gwOrder.ID),
			slog.Any("error", err),
		)
		return nil, s.mapCheckoutErr(fmt.Errorf("record gateway order %s: %w", gwOrder.ID, err))
	}
	return gwOrder, nil
}

// Receipt is the merchant receipt sent with a gateway order. Razorpay caps
// receipts at 40 characters, so the UUID goes in without hyphens.
func Receipt(checkoutID string) string {
	return "rcpt_" + strings.ReplaceAll(checkoutID, "-", "")
}

type PayInput struct {
	PaymentStatus  string
	GatewayOrderID string
	PaymentID      string
	Signature      string
	// Details is stored verbatim on the session.
	Details map[string]interface{}
}

// ConfirmPayment verifies the gateway callback and marks the session paid.
// The callback must be for the gateway order recorded on this session; a
// failed check leaves the session untouched so the client can retry.
func (s *Service) ConfirmPayment(ctx context.Context, userID, id string, in PayInput) (*checkout.Session, error) {
	sess, err := s.GetCheckout(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sess.Finalized {
		return nil, newError(ErrStateConflict, msgAlreadyFinalized, checkout.ErrAlreadyFinalized)
	}
	if in.PaymentStatus != "" && !strings.EqualFold(in.PaymentStatus, "paid") {
		return nil, newError(ErrValidation, msgInvalidStatus, nil)
	}

	if sess.GatewayOrderID == "" {
		s.signatureRejected(ctx, sess, in, "no gateway order on checkout")
		return nil, newError(ErrSignatureMismatch, msgNoGatewayOrder, nil)
	}
	if in.GatewayOrderID != sess.GatewayOrderID {
		s.signatureRejected(ctx, sess, in, "gateway order mismatch")
		return nil, newError(ErrSignatureMismatch, msgOrderMismatch, nil)
	}
	if !s.gateway.VerifySignature(in.GatewayOrderID, in.PaymentID, in.Signature) {
		s.signatureRejected(ctx, sess, in, "signature mismatch")
		return nil, newError(ErrSignatureMismatch, msgInvalidSignature, nil)
	}

	paid, err := s.checkouts.MarkPaid(ctx, sess.ID, checkout.StatusPaid, in.Details)
	if err != nil {
		return nil, s.mapCheckoutErr(err)
	}
	s.logger.InfoContext(ctx, "checkout paid",
		slog.String("checkout_id", paid.ID),
		slog.String("gateway_order_id", in.GatewayOrderID),
		slog.String("payment_id", in.PaymentID),
	)
	return paid, nil
}

func (s *Service) signatureRejected(ctx context.Context, sess *checkout.Session, in PayInput, reason string) {
	s.count(ctx, aws.MetricSignatureMismatch)
	s.logger.WarnContext(ctx, "payment confirmation rejected",
		slog.String("reason", reason),
		slog.String("checkout_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.String("gateway_order_id", in.GatewayOrderID),
		slog.String("payment_id", in.PaymentID),
	)
}

// Finalize converts a paid (or cash on delivery) session into an order.
// The finalized flag is claimed before the order is written, so concurrent
// calls produce one order and the rest get ErrStateConflict.
func (s *Service) Finalize(ctx context.Context, userID, id string) (*orders.Order, error) {
	sess, err := s.GetCheckout(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sess.Finalized {
		return nil, newError(ErrStateConflict, msgAlreadyFinalized, checkout.ErrAlreadyFinalized)
	}
	if !sess.CanFinalize() {
		return nil, newError(ErrStateConflict, msgNotPaid, nil)
	}

	claimed, err := s.checkouts.ClaimFinalize(ctx, sess.ID)
	if err != nil {
		return nil, s.mapCheckoutErr(err)
	}

	order, err := s.materializer.Materialize(ctx, claimed)
	if err != nil {
		if relErr := s.checkouts.ReleaseFinalize(ctx, claimed.ID); relErr != nil {
			s.logger.ErrorContext(ctx, "release finalize claim failed",
				slog.String("checkout_id", claimed.ID),
				slog.Any("error", relErr),
			)
		}
		return nil, fmt.Errorf("materialize order: %w", err)
	}

	if err := s.checkouts.SetOrderID(ctx, claimed.ID, order.ID); err != nil {
		s.logger.WarnContext(ctx, "link order to checkout failed",
			slog.String("checkout_id", claimed.ID),
			slog.String("order_id", order.ID),
			slog.Any("error", err),
		)
	}
	s.count(ctx, aws.MetricOrderFinalized)
	s.logger.InfoContext(ctx, "checkout finalized",
		slog.String("checkout_id", claimed.ID),
		slog.String("order_id", order.ID),
		slog.String("payment_status", order.PaymentStatus),
	)
	return order, nil
}

// GetOrder returns the order when userID owns it.
func (s *Service) GetOrder(ctx context.Context, userID, id string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, newError(ErrNotFound, msgOrderNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.UserID != userID {
		return nil, newError(ErrNotFound, msgOrderNotFound, nil)
	}
	return o, nil
}

func (s *Service) mapCheckoutErr(err error) error {
	switch {
	case errors.Is(err, checkout.ErrNotFound):
		return newError(ErrNotFound, msgCheckoutNotFound, err)
	case errors.Is(err, checkout.ErrEmptyItems):
		return newError(ErrValidation, msgNoItems, err)
	case errors.Is(err, checkout.ErrAlreadyFinalized):
		return newError(ErrStateConflict, msgAlreadyFinalized, err)
	default:
		return err
	}
}

func (s *Service) count(ctx context.Context, metric string) {
	if err := s.metrics.Count(ctx, metric, 1); err != nil {
		s.logger.ErrorContext(ctx, "put metric failed",
			slog.String("metric", metric),
			slog.Any("error", err),
		)
	}
}
