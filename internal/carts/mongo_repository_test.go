package carts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kixor/checkoutflow/internal/config"
)

func setupTestDB(t *testing.T) *mongoRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("MongoDB container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, config.Config{
		MongoURI:                    uri,
		MongoDatabase:               "testdb",
		MongoConnectTimeout:         10 * time.Second,
		MongoServerSelectionTimeout: 5 * time.Second,
		MongoMaxPoolSize:            4,
	})
	require.NoError(t, err)

	return NewMongoRepository(db).(*mongoRepository)
}

func TestUserFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, bson.M{"user": oid}, userFilter(oid.Hex()))
	assert.Equal(t, bson.M{"user": "u-1"}, userFilter("u-1"))
}

func TestMongo_DeleteByUser_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.DeleteByUser(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestMongo_DeleteByUser_ObjectIDUser(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	user := primitive.NewObjectID()
	other := primitive.NewObjectID()
	now := time.Now().UTC()
	for _, id := range []primitive.ObjectID{user, other} {
		_, err := repo.collection.InsertOne(ctx, Cart{
			UserID:     id,
			Products:   []Item{{ProductID: "p-1", Name: "Runner", Price: 1500, Quantity: 1}},
			TotalPrice: 1500,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteByUser(ctx, user.Hex()))
	assert.ErrorIs(t, repo.DeleteByUser(ctx, user.Hex()), ErrCartNotFound)

	n, err := repo.collection.CountDocuments(ctx, bson.M{"user": other})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMongo_DeleteByUser_StringUser(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.collection.InsertOne(ctx, bson.M{"user": "local-user", "products": bson.A{}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByUser(ctx, "local-user"))
	assert.ErrorIs(t, repo.DeleteByUser(ctx, "local-user"), ErrCartNotFound)
}
