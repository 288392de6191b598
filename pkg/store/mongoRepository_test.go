package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/zoff-tech/go-notifier/schema"
)

func TestMatchingWebhooksFilter(t *testing.T) {
	filter := matchingWebhooksFilter(schema.EnvironmentLive, schema.TypeShipmentUpdated)
	assert.Equal(t, bson.M{
		"environment": schema.EnvironmentLive,
		"is_active":   true,
		"events":      schema.TypeShipmentUpdated,
	}, filter)
}

func TestOrderFilter(t *testing.T) {
	assert.Equal(t, bson.M{"environment": schema.EnvironmentSandbox, "order_id": "o-1"},
		orderFilter(schema.EnvironmentSandbox, "o-1"))
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("ListMatchingWebhooks decodes subscriptions", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifier.webhooks", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "wh-1"},
			{Key: "url", Value: "https://example.test/hook"},
			{Key: "events", Value: bson.A{"order.created", "shipment.updated"}},
			{Key: "environment", Value: "live"},
			{Key: "is_active", Value: true},
			{Key: "secret", Value: "whsec_1"},
			{Key: "created_at", Value: createdAt},
		}))

		hooks, err := repo.ListMatchingWebhooks(ctx, schema.EnvironmentLive, schema.TypeShipmentUpdated)
		require.NoError(mt, err)
		require.Len(mt, hooks, 1)
		assert.Equal(mt, "wh-1", hooks[0].ID)
		assert.Equal(mt, []schema.Type{schema.TypeOrderCreated, schema.TypeShipmentUpdated}, hooks[0].Events)
		assert.True(mt, hooks[0].Matches(schema.EnvironmentLive, schema.TypeShipmentUpdated))
	})

	mt.Run("CreateOrder inserts", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "generated"}}}},
		))

		err := repo.CreateOrder(ctx, schema.Order{ID: "o-1", Environment: schema.EnvironmentLive, Status: schema.OrderPlaced})
		assert.NoError(mt, err)
	})

	mt.Run("CreateOrder never replaces", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		err := repo.CreateOrder(ctx, schema.Order{ID: "o-1", Environment: schema.EnvironmentLive, Status: schema.OrderPlaced})
		assert.ErrorIs(mt, err, ErrAlreadyExists)
	})

	mt.Run("SetShipment on a missing order", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.SetShipment(ctx, schema.EnvironmentSandbox, "missing", schema.Shipment{Status: schema.ShipmentPacked})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("GetOrder not found", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifier.orders", mtest.FirstBatch))

		_, err := repo.GetOrder(ctx, schema.EnvironmentSandbox, "missing")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("DeleteWebhook not found", func(mt *mtest.T) {
		repo := NewMongoRepository(mt.Client, "notifier")
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		err := repo.DeleteWebhook(ctx, schema.EnvironmentSandbox, "wh-404")
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}
