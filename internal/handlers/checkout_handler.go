package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/kixor/checkoutflow/internal/auth"
	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/checkout"
	"github.com/kixor/checkoutflow/internal/idempotency"
	"github.com/kixor/checkoutflow/internal/orders"
	"github.com/kixor/checkoutflow/internal/service"
	"github.com/kixor/checkoutflow/internal/validation"
)

// HandlerConfig groups dependencies for the checkout handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI
	CheckoutsTable   string
	OrdersTable      string
	IdempotencyTable string
	QueueURL         string
	MetricsNamespace string
	TTLWindow        time.Duration
	Currency         string

	Gateway service.Gateway
	Carts   carts.Repository
	Auth    *auth.Authenticator
	Logger  *slog.Logger
}

type checkoutHandler struct {
	svc    *service.Service
	v      *validatorv10.Validate
	logger *slog.Logger
}

// RegisterCheckoutRoutes registers the checkout and order routes under /api.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checkouts := checkout.NewStore(cfg.DynamoDBClient, cfg.CheckoutsTable)
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)

	var metrics *aws.Metrics
	if cfg.CloudWatchClient != nil {
		metrics = aws.NewMetrics(cfg.CloudWatchClient, cfg.MetricsNamespace)
	}
	var publisher orders.EventPublisher
	if cfg.SQSClient != nil && cfg.QueueURL != "" {
		publisher = aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	}

	svc := service.New(service.Deps{
		Checkouts:    checkouts,
		Orders:       orderStore,
		Idempotency:  idempStore,
		Materializer: orders.NewMaterializer(orderStore, cfg.Carts, publisher, metrics, logger),
		Gateway:      cfg.Gateway,
		Metrics:      metrics,
		Logger:       logger,
		Currency:     cfg.Currency,
	})

	h := &checkoutHandler{
		svc:    svc,
		v:      validation.New(),
		logger: logger,
	}

	api := r.Group("/api", cfg.Auth.Protect())

	api.POST("/checkout", h.create)
	api.GET("/checkout/:id", h.get)
	api.PUT("/checkout/:id/pay", h.pay)
	api.POST("/checkout/:id/finalize", h.finalize)
	api.POST("/checkout/:id/create-gateway-order", h.createGatewayOrder)
	api.POST("/checkout/:id/create-razorpay-order", h.createGatewayOrder)
	api.GET("/orders/:id", h.getOrder)
}

func (h *checkoutHandler) create(c *gin.Context) {
	var req validation.CreateCheckoutRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	items := make([]checkout.Item, 0, len(req.CheckoutItems))
	for _, it := range req.CheckoutItems {
		items = append(items, checkout.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
		})
	}

	sess, replayed, err := h.svc.CreateCheckout(c.Request.Context(), service.CreateInput{
		UserID: auth.UserID(c),
		Items:  items,
		ShippingAddress: checkout.ShippingAddress{
			Name:       req.ShippingAddress.FullName(),
			Address:    req.ShippingAddress.Address,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
			Phone:      req.ShippingAddress.Phone,
		},
		PaymentMethod:  checkout.PaymentMethod(req.PaymentMethod),
		TotalPrice:     req.TotalPrice,
		Source:         checkout.Source(req.CheckoutSource),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if replayed {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, sess)
		return
	}
	c.Header("Location", "/api/checkout/"+sess.ID)
	c.JSON(http.StatusCreated, sess)
}

func (h *checkoutHandler) get(c *gin.Context) {
	sess, err := h.svc.GetCheckout(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *checkoutHandler) pay(c *gin.Context) {
	var req validation.PayRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	orderID, paymentID := req.GatewayIDs()

	sess, err := h.svc.ConfirmPayment(c.Request.Context(), auth.UserID(c), c.Param("id"), service.PayInput{
		PaymentStatus:  req.PaymentStatus,
		GatewayOrderID: orderID,
		PaymentID:      paymentID,
		Signature:      req.RazorpaySignature,
		Details:        req.PaymentDetails,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *checkoutHandler) finalize(c *gin.Context) {
	order, err := h.svc.Finalize(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Location", "/api/orders/"+order.ID)
	c.JSON(http.StatusCreated, order)
}

func (h *checkoutHandler) createGatewayOrder(c *gin.Context) {
	gw, err := h.svc.CreateGatewayOrder(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gw)
}

func (h *checkoutHandler) getOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// writeError maps service errors to status codes. Anything unclassified is a
// 500 with a generic message; the cause is only logged.
func (h *checkoutHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrSignatureMismatch),
		errors.Is(err, service.ErrStateConflict):
		status = http.StatusBadRequest
	}

	msg := service.Message(err)
	if msg == "" {
		msg = "Server Error"
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("checkout_id", c.Param("id")),
			slog.Any("error", err),
		)
	}
	c.JSON(status, gin.H{"message": msg})
}
