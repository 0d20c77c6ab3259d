package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/kixor/checkoutflow/internal/auth"
	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/config"
	"github.com/kixor/checkoutflow/internal/handlers"
	"github.com/kixor/checkoutflow/internal/logger"
	"github.com/kixor/checkoutflow/internal/payment"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterCheckoutRoutes(r, cfg)

	return r
}

func main() {
	cfg := config.Load()
	lg := logger.New(logger.Options{Service: "checkout-api", Env: cfg.AppEnv, Level: cfg.LogLevel})

	if missing := cfg.Missing(); len(missing) > 0 {
		log.Fatalf("missing required configuration: %v", missing)
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cartRepo, err := newCartRepository(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("failed to init cart store: %v", err)
	}

	gateway := payment.NewRazorpay(payment.Config{
		KeyID:     cfg.RazorpayKeyID,
		SecretKey: cfg.RazorpaySecretKey,
		Currency:  cfg.GatewayCurrency,
		Timeout:   cfg.GatewayTimeout,
	})

	r := setupRouter(handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		CloudWatchClient: clients.CloudWatch,
		CheckoutsTable:   cfg.CheckoutsTable,
		OrdersTable:      cfg.OrdersTable,
		IdempotencyTable: cfg.IdempotencyTable,
		QueueURL:         cfg.EventsQueueURL,
		MetricsNamespace: cfg.MetricsNamespace,
		TTLWindow:        cfg.IdempotencyTTL,
		Currency:         cfg.GatewayCurrency,
		Gateway:          gateway,
		Carts:            cartRepo,
		Auth:             auth.New(cfg.JWTSecret),
		Logger:           lg,
	})

	// if RUN_LOCAL is true, run a local HTTP server for development.
	if cfg.RunLocal {
		if err := runLocal(r, cfg.HTTPPort, lg); err != nil {
			log.Fatalf("local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// newCartRepository connects to MongoDB. Local runs without MONGO_URI fall
// back to an in-process cart store.
func newCartRepository(ctx context.Context, cfg config.Config, lg *slog.Logger) (carts.Repository, error) {
	if cfg.MongoURI == "" {
		if !cfg.RunLocal {
			return nil, errors.New("MONGO_URI is required")
		}
		lg.Warn("MONGO_URI not set, using in-memory carts")
		return carts.NewMemoryRepository(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout+cfg.MongoServerSelectionTimeout)
	defer cancel()
	db, err := carts.ConnectMongoDB(connectCtx, cfg)
	if err != nil {
		return nil, err
	}
	return carts.NewMongoRepository(db), nil
}

func runLocal(h http.Handler, port int, lg *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("running local server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		lg.Info("shutting down local server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
