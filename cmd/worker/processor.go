package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/orders"
)

// Processor consumes the checkout events queue.
type Processor struct {
	carts  carts.Repository
	orders *orders.Store
	logger *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(cartRepo carts.Repository, orderStore *orders.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		carts:  cartRepo,
		orders: orderStore,
		logger: logger,
	}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so SQS only redelivers those; after the queue's max receive count they go
// to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.ErrorContext(ctx, "worker message failed",
				slog.String("message_id", rec.MessageId),
				slog.Any("error", err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	switch msg.EventType {
	case aws.EventCartClear:
		return p.clearCart(ctx, msg)
	case aws.EventOrderFinalized:
		return p.orderFinalized(ctx, msg)
	default:
		p.logger.WarnContext(ctx, "skipping unknown event",
			slog.String("event_type", msg.EventType),
			slog.String("message_id", rec.MessageId),
		)
		return nil
	}
}

func (p *Processor) clearCart(ctx context.Context, msg aws.Message) error {
	if msg.UserID == "" {
		return errors.New("cart.clear without user_id")
	}
	err := p.carts.DeleteByUser(ctx, msg.UserID)
	if err != nil && !errors.Is(err, carts.ErrCartNotFound) {
		return fmt.Errorf("clear cart for %s: %w", msg.UserID, err)
	}
	p.logger.InfoContext(ctx, "cart cleared",
		slog.String("user_id", msg.UserID),
		slog.String("checkout_id", msg.CheckoutID),
	)
	return nil
}

func (p *Processor) orderFinalized(ctx context.Context, msg aws.Message) error {
	attrs := []any{
		slog.String("order_id", msg.OrderID),
		slog.String("checkout_id", msg.CheckoutID),
		slog.String("user_id", msg.UserID),
	}
	if p.orders != nil && msg.OrderID != "" {
		o, err := p.orders.Get(ctx, msg.OrderID)
		if errors.Is(err, orders.ErrNotFound) {
			p.logger.WarnContext(ctx, "finalized order missing", attrs...)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load order %s: %w", msg.OrderID, err)
		}
		attrs = append(attrs,
			slog.String("payment_status", o.PaymentStatus),
			slog.Float64("total_price", o.TotalPrice),
		)
	}
	p.logger.InfoContext(ctx, "order finalized", attrs...)
	return nil
}
