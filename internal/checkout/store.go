package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/kixor/checkoutflow/internal/aws"
)

var (
	ErrEmptyItems       = errors.New("no items in checkout")
	ErrNotFound         = errors.New("checkout not found")
	ErrAlreadyFinalized = errors.New("checkout already finalized")
	// ErrDuplicate is returned by Create when a guarding transaction item
	// (an idempotency record) already exists.
	ErrDuplicate = errors.New("duplicate checkout request")
)

// Store encapsulates operations on the checkouts table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new checkout Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new session. Payment and finalize state is reset to
// Pending/unpaid/unfinalized regardless of what the caller set; ID is
// generated when empty.
//
// When guards are given the session is written in the same TransactWriteItems
// call, so either all of them land or none do.
func (s *Store) Create(ctx context.Context, sess Session, guards ...types.TransactWriteItem) (*Session, error) {
	if len(sess.Items) == 0 {
		return nil, ErrEmptyItems
	}

	now := s.nowFunc().UTC()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Source == "" {
		sess.Source = SourceCart
	}
	sess.PaymentStatus = StatusPending
	sess.Paid = false
	sess.PaidAt = nil
	sess.PaymentDetails = nil
	sess.Finalized = false
	sess.FinalizedAt = nil
	sess.GatewayOrderID = ""
	sess.OrderID = ""
	sess.CreatedAt = now
	sess.UpdatedAt = now

	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout: %w", err)
	}

	put := &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(checkout_id)"),
	}

	if len(guards) == 0 {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			return nil, fmt.Errorf("put checkout: %w", err)
		}
		return &sess, nil
	}

	transactItems := append([]types.TransactWriteItem{}, guards...)
	transactItems = append(transactItems, types.TransactWriteItem{Put: put})
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return nil, fmt.Errorf("transact write checkout: %w", err)
	}
	return &sess, nil
}

// Get fetches a session by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get checkout: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout: %w", err)
	}
	return &sess, nil
}

// MarkPaid records a confirmed payment. paid_at is only written on the first
// confirmation. Fails with ErrAlreadyFinalized once the session is finalized.
func (s *Store) MarkPaid(ctx context.Context, id string, status PaymentStatus, details map[string]interface{}) (*Session, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	pd, err := attributevalue.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal payment details: %w", err)
	}
	now, err := s.now()
	if err != nil {
		return nil, err
	}

	return s.update(ctx, id, &dyn.UpdateItemInput{
		UpdateExpression: awsString("SET #paid = :true, #ps = :ps, #pd = :pd, #pa = if_not_exists(#pa, :now), #ua = :now"),
		ConditionExpression: awsString("attribute_exists(checkout_id) AND #fin = :false"),
		ExpressionAttributeNames: map[string]string{
			"#paid": "paid",
			"#ps":   "payment_status",
			"#pd":   "payment_details",
			"#pa":   "paid_at",
			"#ua":   "updated_at",
			"#fin":  "finalized",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":ps":    &types.AttributeValueMemberS{Value: string(status)},
			":pd":    pd,
			":now":   now,
		},
	})
}

// SetGatewayOrder records the payment gateway order created for the session.
func (s *Store) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) (*Session, error) {
	now, err := s.now()
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, &dyn.UpdateItemInput{
		UpdateExpression:    awsString("SET #go = :go, #ua = :now"),
		ConditionExpression: awsString("attribute_exists(checkout_id)"),
		ExpressionAttributeNames: map[string]string{
			"#go": "gateway_order_id",
			"#ua": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":go":  &types.AttributeValueMemberS{Value: gatewayOrderID},
			":now": now,
		},
	})
}

// ClaimFinalize flips finalized from false to true in a single conditional
// write and returns the claimed session. Of two concurrent callers exactly
// one succeeds; the other gets ErrAlreadyFinalized.
func (s *Store) ClaimFinalize(ctx context.Context, id string) (*Session, error) {
	now, err := s.now()
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, &dyn.UpdateItemInput{
		UpdateExpression:    awsString("SET #fin = :true, #fa = :now, #ua = :now"),
		ConditionExpression: awsString("attribute_exists(checkout_id) AND #fin = :false"),
		ExpressionAttributeNames: map[string]string{
			"#fin": "finalized",
			"#fa":  "finalized_at",
			"#ua":  "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   now,
		},
	})
}

// ReleaseFinalize undoes a claim whose order could not be written.
func (s *Store) ReleaseFinalize(ctx context.Context, id string) error {
	now, err := s.now()
	if err != nil {
		return err
	}
	_, err = s.update(ctx, id, &dyn.UpdateItemInput{
		UpdateExpression:    awsString("SET #fin = :false, #ua = :now REMOVE #fa"),
		ConditionExpression: awsString("attribute_exists(checkout_id) AND #fin = :true"),
		ExpressionAttributeNames: map[string]string{
			"#fin": "finalized",
			"#fa":  "finalized_at",
			"#ua":  "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   now,
		},
	})
	return err
}

// SetOrderID links the session to the order it produced.
func (s *Store) SetOrderID(ctx context.Context, id, orderID string) error {
	now, err := s.now()
	if err != nil {
		return err
	}
	_, err = s.update(ctx, id, &dyn.UpdateItemInput{
		UpdateExpression:    awsString("SET #oid = :oid, #ua = :now"),
		ConditionExpression: awsString("attribute_exists(checkout_id)"),
		ExpressionAttributeNames: map[string]string{
			"#oid": "order_id",
			"#ua":  "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
			":now": now,
		},
	})
	return err
}

// update runs a conditional UpdateItem and returns the new image. A failed
// condition is resolved into ErrNotFound or ErrAlreadyFinalized by re-reading
// the item.
func (s *Store) update(ctx context.Context, id string, input *dyn.UpdateItemInput) (*Session, error) {
	input.TableName = &s.tableName
	input.Key = s.key(id)
	input.ReturnValues = types.ReturnValueAllNew

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("update checkout: %w", err)
		}
		cur, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Finalized {
			return nil, ErrAlreadyFinalized
		}
		return nil, fmt.Errorf("update checkout: condition failed on %s: %w", id, err)
	}

	var sess Session
	if err := attributevalue.UnmarshalMap(out.Attributes, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout: %w", err)
	}
	return &sess, nil
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"checkout_id": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *Store) now() (types.AttributeValue, error) {
	av, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	return av, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
