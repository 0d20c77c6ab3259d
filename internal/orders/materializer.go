package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/checkout"
)

// orderNamespace seeds the name-based order ids.
var orderNamespace = uuid.MustParse("6f1c3a52-8d4e-4b0a-9c57-2f0e8d1b7a64")

// EventPublisher is the part of aws.Publisher the materializer needs.
type EventPublisher interface {
	Publish(ctx context.Context, msg aws.Message) error
}

// OrderID returns the id of the order produced by checkoutID. The same
// checkout always maps to the same order.
func OrderID(checkoutID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(checkoutID)).String()
}

// PaymentStatusFor derives the order payment status from a session.
func PaymentStatusFor(sess *checkout.Session) string {
	switch {
	case sess.Paid:
		return PaymentPaid
	case sess.PaymentMethod == checkout.MethodCOD:
		return PaymentCODPending
	default:
		return PaymentUnpaid
	}
}

// FromCheckout builds the order for a session. It does not touch storage.
func FromCheckout(sess *checkout.Session) *Order {
	items := make([]checkout.Item, len(sess.Items))
	copy(items, sess.Items)

	var details map[string]interface{}
	if len(sess.PaymentDetails) > 0 {
		details = make(map[string]interface{}, len(sess.PaymentDetails))
		for k, v := range sess.PaymentDetails {
			details[k] = v
		}
	}

	return &Order{
		ID:              OrderID(sess.ID),
		UserID:          sess.UserID,
		Items:           items,
		ShippingAddress: sess.ShippingAddress,
		PaymentMethod:   sess.PaymentMethod,
		TotalPrice:      sess.TotalPrice,
		Paid:            sess.Paid,
		PaidAt:          sess.PaidAt,
		Delivered:       false,
		PaymentStatus:   PaymentStatusFor(sess),
		PaymentDetails:  details,
		CheckoutID:      sess.ID,
	}
}

// Materializer turns a claimed checkout session into a stored order and
// clears the buyer's cart.
type Materializer struct {
	orders    *Store
	carts     carts.Repository
	publisher EventPublisher
	metrics   *aws.Metrics
	logger    *slog.Logger
}

func NewMaterializer(store *Store, cartRepo carts.Repository, publisher EventPublisher, metrics *aws.Metrics, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		orders:    store,
		carts:     cartRepo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Materialize writes the order for sess. A retry for a session whose order
// already landed returns the stored order. Cart and event failures are
// logged and never fail the call.
func (m *Materializer) Materialize(ctx context.Context, sess *checkout.Session) (*Order, error) {
	order := FromCheckout(sess)

	err := m.orders.Create(ctx, order)
	if errors.Is(err, ErrExists) {
		existing, getErr := m.orders.Get(ctx, order.ID)
		if getErr != nil {
			return nil, fmt.Errorf("load existing order: %w", getErr)
		}
		order = existing
	} else if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if sess.Source != checkout.SourceBuyNow {
		m.clearCart(ctx, sess)
	}

	m.publish(ctx, aws.Message{
		EventType:  aws.EventOrderFinalized,
		CheckoutID: sess.ID,
		OrderID:    order.ID,
		UserID:     sess.UserID,
	})

	return order, nil
}

func (m *Materializer) clearCart(ctx context.Context, sess *checkout.Session) {
	if m.carts == nil {
		return
	}
	err := m.carts.DeleteByUser(ctx, sess.UserID)
	if err == nil || errors.Is(err, carts.ErrCartNotFound) {
		return
	}

	m.logger.WarnContext(ctx, "cart clear failed, queued for retry",
		slog.String("checkout_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.Any("error", err),
	)
	if mErr := m.metrics.Count(ctx, aws.MetricCartClearFailed, 1); mErr != nil {
		m.logger.ErrorContext(ctx, "metric failed", slog.Any("error", mErr))
	}
	m.publish(ctx, aws.Message{
		EventType:  aws.EventCartClear,
		CheckoutID: sess.ID,
		UserID:     sess.UserID,
	})
}

func (m *Materializer) publish(ctx context.Context, msg aws.Message) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, msg); err != nil {
		m.logger.ErrorContext(ctx, "publish event failed",
			slog.String("event_type", msg.EventType),
			slog.String("checkout_id", msg.CheckoutID),
			slog.Any("error", err),
		)
	}
}
