package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/kixor/checkoutflow/internal/aws"
	"github.com/kixor/checkoutflow/internal/carts"
	"github.com/kixor/checkoutflow/internal/config"
	"github.com/kixor/checkoutflow/internal/logger"
	"github.com/kixor/checkoutflow/internal/orders"
)

func main() {
	cfg := config.Load()
	lg := logger.New(logger.Options{Service: "checkout-worker", Env: cfg.AppEnv, Level: cfg.LogLevel})
	ctx := context.Background()

	if cfg.MongoURI == "" {
		log.Fatalf("MONGO_URI is required")
	}
	db, err := carts.ConnectMongoDB(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to cart store: %v", err)
	}

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	p := NewProcessor(
		carts.NewMongoRepository(db),
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		lg,
	)

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"event_type":"cart.clear","user_id":"local-user"}`
		}
		resp, _ := p.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local message failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
