package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kixor/checkoutflow/internal/aws/awstest"
)

func TestPutInProgress_Get_MarkDone(t *testing.T) {
	mock := awstest.NewDynamo(map[string]string{"idempotency-table": "idempotency_key"})
	s := NewStore(mock, "idempotency-table", 48*time.Hour)
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	ctx := context.Background()
	key := Key("user-1", "abc")
	if key != "user-1:abc" {
		t.Fatalf("unexpected scoped key %q", key)
	}

	put, err := s.PutInProgress(key, "checkout-1")
	if err != nil {
		t.Fatalf("PutInProgress error: %v", err)
	}
	if *put.Put.ConditionExpression != "attribute_not_exists(idempotency_key)" {
		t.Fatalf("put must be guarded")
	}

	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{put}}); err != nil {
		t.Fatalf("first transact: %v", err)
	}
	// second use of the same key is cancelled
	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{put}}); err == nil {
		t.Fatalf("expected transaction cancel on duplicate key")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress || rec.CheckoutID != "checkout-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt != fixed.Add(48*time.Hour).Unix() {
		t.Fatalf("ttl not applied")
	}

	if err := s.MarkDone(ctx, key, 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	item := mock.Item("idempotency-table", key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rs, ok := item["response_status"].(*types.AttributeValueMemberN); !ok || rs.Value != "201" {
		t.Fatalf("response_status not set correctly: %+v", item["response_status"])
	}
}

func TestGet_Missing(t *testing.T) {
	mock := awstest.NewDynamo(map[string]string{"idempotency-table": "idempotency_key"})
	s := NewStore(mock, "idempotency-table", time.Hour)

	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestMarkDone_MissingKey(t *testing.T) {
	mock := awstest.NewDynamo(map[string]string{"idempotency-table": "idempotency_key"})
	s := NewStore(mock, "idempotency-table", time.Hour)

	if err := s.MarkDone(context.Background(), "nope", 201); err == nil {
		t.Fatalf("expected conditional failure for unknown key")
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	// ensure our types marshal/unmarshal cleanly
	rec := Record{
		IdempotencyKey: "k1",
		Status:         StatusInProgress,
		CheckoutID:     "c1",
		CreatedAt:      time.Now().Round(time.Second),
		UpdatedAt:      time.Now().Round(time.Second),
		ExpiresAt:      time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Record
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.IdempotencyKey != rec.IdempotencyKey || out.CheckoutID != rec.CheckoutID {
		t.Fatalf("unmarshal mismatch")
	}
}
