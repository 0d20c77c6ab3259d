package carts

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kixor/checkoutflow/internal/config"
)

// ConnectMongoDB opens the storefront database named by cfg and pings it.
func ConnectMongoDB(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(cfg.MongoConnectTimeout).
		SetServerSelectionTimeout(cfg.MongoServerSelectionTimeout)
	if cfg.MongoMaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.MongoMaxPoolSize))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}
