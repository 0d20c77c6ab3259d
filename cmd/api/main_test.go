package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kixor/checkoutflow/internal/auth"
	"github.com/kixor/checkoutflow/internal/aws/awstest"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/handlers"
	"github.com/kixor/checkoutflow/internal/payment"
)

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := setupRouter(handlers.HandlerConfig{
		DynamoDBClient: awstest.NewDynamo(map[string]string{"checkouts": "checkout_id"}),
		CheckoutsTable: "checkouts",
		Gateway:        payment.NewGateway(nil, payment.Config{SecretKey: "s"}),
		Carts:          carts.NewMemoryRepository(),
		Auth:           auth.New("secret"),
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/checkout/abc", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated checkout read: %d", w.Code)
	}
}
