package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kixor/checkoutflow/internal/auth"
	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/aws/awstest"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/payment"
)

const testSecret = "rzp_secret"

type stubGateway struct {
	err error
}

func (g *stubGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*payment.GatewayOrder, error) {
	if g.err != nil {
		return nil, g.err
	}
	minor, err := payment.ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}
	return &payment.GatewayOrder{ID: "order_test1", Amount: minor, Currency: currency, Receipt: receipt}, nil
}

func (g *stubGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return payment.VerifySignature(orderID, paymentID, signature, testSecret)
}

type recordingSQS struct {
	bodies []string
}

func (r *recordingSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.bodies = append(r.bodies, *params.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

type testServer struct {
	router  *gin.Engine
	auth    *auth.Authenticator
	dynamo  *awstest.Dynamo
	carts   *carts.MemoryRepository
	gateway *stubGateway
	sqs     *recordingSQS
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		auth: auth.New("jwt-secret"),
		dynamo: awstest.NewDynamo(map[string]string{
			"checkouts":   "checkout_id",
			"orders":      "order_id",
			"idempotency": "idempotency_key",
		}),
		carts:   carts.NewMemoryRepository(),
		gateway: &stubGateway{},
		sqs:     &recordingSQS{},
	}

	ts.router = gin.New()
	RegisterCheckoutRoutes(ts.router, HandlerConfig{
		DynamoDBClient:   ts.dynamo,
		SQSClient:        ts.sqs,
		CheckoutsTable:   "checkouts",
		OrdersTable:      "orders",
		IdempotencyTable: "idempotency",
		QueueURL:         "https://sqs.local/events",
		TTLWindow:        time.Hour,
		Currency:         "INR",
		Gateway:          ts.gateway,
		Carts:            ts.carts,
		Auth:             ts.auth,
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := ts.auth.Issue(auth.User{ID: user}, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func checkoutBody(method string) map[string]interface{} {
	return map[string]interface{}{
		"checkoutItems": []map[string]interface{}{
			{"productId": "p-1", "name": "Runner", "price": 1000, "quantity": 1, "size": "9", "color": "Black"},
			{"productId": "p-2", "name": "Sock", "price": 250, "quantity": 2},
		},
		"shippingAddress": map[string]interface{}{
			"address": "1 MG Road", "city": "Pune", "postalCode": "411001", "country": "India",
		},
		"paymentMethod": method,
		"totalPrice":    1500,
	}
}

func (ts *testServer) createCheckout(t *testing.T, user, method string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/checkout", user, checkoutBody(method))
	if w.Code != http.StatusCreated {
		t.Fatalf("create checkout: status %d body %s", w.Code, w.Body.String())
	}
	return decode(t, w)["_id"].(string)
}

func TestRoutes_RequireAuth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/checkout", "", checkoutBody("COD"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateCheckout_EmptyItems(t *testing.T) {
	ts := newTestServer(t)
	body := checkoutBody("COD")
	body["checkoutItems"] = []interface{}{}

	w := ts.do(t, http.MethodPost, "/api/checkout", "u-1", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := decode(t, w)["message"]; msg != "No items in checkout" {
		t.Fatalf("message = %v", msg)
	}
	if n := ts.dynamo.Count("checkouts"); n != 0 {
		t.Fatalf("expected nothing persisted, got %d", n)
	}
}

func TestCreateCheckout_InitialState(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/checkout", "u-1", checkoutBody("Razorpay"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["paymentStatus"] != "Pending" || got["isPaid"] != false || got["isFinalized"] != false {
		t.Fatalf("unexpected initial state: %v", got)
	}
	if got["user"] != "u-1" || got["checkoutSource"] != "cart" {
		t.Fatalf("unexpected owner/source: %v", got)
	}
}

func TestCreateCheckout_IdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	first := ts.do(t, http.MethodPost, "/api/checkout", "u-1", checkoutBody("COD"), "Idempotency-Key", "abc")
	second := ts.do(t, http.MethodPost, "/api/checkout", "u-1", checkoutBody("COD"), "Idempotency-Key", "abc")

	if first.Code != http.StatusCreated || second.Code != http.StatusOK {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if decode(t, first)["_id"] != decode(t, second)["_id"] {
		t.Fatalf("replay returned a different checkout")
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}
}

func TestCreateCheckout_StorefrontNameFields(t *testing.T) {
	ts := newTestServer(t)
	body := checkoutBody("COD")
	body["shippingAddress"] = map[string]interface{}{
		"firstName": "Asha", "lastName": "Rao",
		"address": "1 MG Road", "city": "Pune", "postalCode": "411001", "country": "India",
	}

	w := ts.do(t, http.MethodPost, "/api/checkout", "u-1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	addr, _ := decode(t, w)["shippingAddress"].(map[string]interface{})
	if addr["name"] != "Asha Rao" {
		t.Fatalf("unexpected shipping address: %v", addr)
	}
}

func TestGetCheckout_OwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCheckout(t, "u-1", "COD")

	if w := ts.do(t, http.MethodGet, "/api/checkout/"+id, "u-1", nil); w.Code != http.StatusOK {
		t.Fatalf("owner: %d", w.Code)
	}
	w := ts.do(t, http.MethodGet, "/api/checkout/"+id, "u-2", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("other user: %d", w.Code)
	}
	if decode(t, w)["message"] != "Checkout not found" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRazorpayFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.carts.Put("u-1", &carts.Cart{})
	id := ts.createCheckout(t, "u-1", "Razorpay")

	w := ts.do(t, http.MethodPost, "/api/checkout/"+id+"/create-razorpay-order", "u-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create gateway order: %d %s", w.Code, w.Body.String())
	}
	gw := decode(t, w)
	if gw["id"] != "order_test1" || gw["amount"] != float64(150000) || gw["currency"] != "INR" {
		t.Fatalf("unexpected gateway order: %v", gw)
	}

	// Not paid yet.
	if w := ts.do(t, http.MethodPost, "/api/checkout/"+id+"/finalize", "u-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("finalize unpaid: %d", w.Code)
	}

	tampered := map[string]interface{}{
		"paymentStatus":      "paid",
		"paymentDetails":     map[string]string{"razorpay_order_id": "order_test1", "razorpay_payment_id": "pay_1"},
		"razorpay_signature": payment.Sign("order_test1", "pay_1", "wrong"),
	}
	w = ts.do(t, http.MethodPut, "/api/checkout/"+id+"/pay", "u-1", tampered)
	if w.Code != http.StatusBadRequest || decode(t, w)["message"] != "Invalid Razorpay signature" {
		t.Fatalf("tampered pay: %d %s", w.Code, w.Body.String())
	}

	good := map[string]interface{}{
		"paymentStatus":      "paid",
		"paymentDetails":     map[string]string{"razorpay_order_id": "order_test1", "razorpay_payment_id": "pay_1"},
		"razorpay_signature": payment.Sign("order_test1", "pay_1", testSecret),
	}
	w = ts.do(t, http.MethodPut, "/api/checkout/"+id+"/pay", "u-1", good)
	if w.Code != http.StatusOK {
		t.Fatalf("pay: %d %s", w.Code, w.Body.String())
	}
	if paid := decode(t, w); paid["isPaid"] != true || paid["paymentStatus"] != "Paid" || paid["paidAt"] == nil {
		t.Fatalf("unexpected paid session: %v", paid)
	}

	w = ts.do(t, http.MethodPost, "/api/checkout/"+id+"/finalize", "u-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("finalize: %d %s", w.Code, w.Body.String())
	}
	order := decode(t, w)
	if order["paymentStatus"] != "paid" || order["isPaid"] != true || order["isDelivered"] != false || order["checkout"] != id {
		t.Fatalf("unexpected order: %v", order)
	}
	if ts.carts.Has("u-1") {
		t.Fatalf("cart should be cleared")
	}

	orderID := order["_id"].(string)
	if w := ts.do(t, http.MethodGet, "/api/orders/"+orderID, "u-1", nil); w.Code != http.StatusOK {
		t.Fatalf("get order: %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/orders/"+orderID, "u-2", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get order as other user: %d", w.Code)
	}

	if len(ts.sqs.bodies) != 1 {
		t.Fatalf("expected one event, got %v", ts.sqs.bodies)
	}
	var msg aws.Message
	if err := json.Unmarshal([]byte(ts.sqs.bodies[0]), &msg); err != nil || msg.EventType != aws.EventOrderFinalized || msg.OrderID != orderID {
		t.Fatalf("unexpected event %q: %v", ts.sqs.bodies[0], err)
	}
}

func TestCODFlow_DoubleFinalize(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCheckout(t, "u-1", "COD")

	w := ts.do(t, http.MethodPost, "/api/checkout/"+id+"/finalize", "u-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("finalize: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["paymentStatus"]; got != "cod-pending" {
		t.Fatalf("paymentStatus = %v", got)
	}

	w = ts.do(t, http.MethodPost, "/api/checkout/"+id+"/finalize", "u-1", nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["message"] != "Checkout already finalized" {
		t.Fatalf("second finalize: %d %s", w.Code, w.Body.String())
	}
	if n := ts.dynamo.Count("orders"); n != 1 {
		t.Fatalf("expected 1 order, got %d", n)
	}
}

func TestFinalize_NotFound(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodPost, "/api/checkout/nope/finalize", "u-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateGatewayOrder_GatewayDown(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCheckout(t, "u-1", "Razorpay")
	ts.gateway.err = payment.ErrGateway

	w := ts.do(t, http.MethodPost, "/api/checkout/"+id+"/create-gateway-order", "u-1", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if decode(t, w)["message"] != "Failed to create Razorpay order" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestPay_InvalidStatus(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCheckout(t, "u-1", "Razorpay")

	body := map[string]interface{}{
		"paymentStatus":      "failed",
		"paymentDetails":     map[string]string{"razorpay_order_id": "o", "razorpay_payment_id": "p"},
		"razorpay_signature": payment.Sign("o", "p", testSecret),
	}
	w := ts.do(t, http.MethodPut, "/api/checkout/"+id+"/pay", "u-1", body)
	if w.Code != http.StatusBadRequest || decode(t, w)["message"] != "Invalid payment status" {
		t.Fatalf("unexpected: %d %s", w.Code, w.Body.String())
	}
}

func TestPay_WithoutGatewayOrder(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCheckout(t, "u-1", "Razorpay")

	// Validly signed for some other gateway order.
	body := map[string]interface{}{
		"paymentStatus":      "paid",
		"paymentDetails":     map[string]string{"razorpay_order_id": "order_elsewhere", "razorpay_payment_id": "pay_1"},
		"razorpay_signature": payment.Sign("order_elsewhere", "pay_1", testSecret),
	}
	w := ts.do(t, http.MethodPut, "/api/checkout/"+id+"/pay", "u-1", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, "/api/checkout/"+id+"/finalize", "u-1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("finalize after rejected pay: %d", w.Code)
	}
}

func TestStoreFailure_Is500(t *testing.T) {
	ts := newTestServer(t)
	ts.dynamo.Fail = func(op, table string) error { return errors.New("dynamo unavailable") }

	w := ts.do(t, http.MethodPost, "/api/checkout", "u-1", checkoutBody("COD"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if decode(t, w)["message"] != "Server Error" {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
}
