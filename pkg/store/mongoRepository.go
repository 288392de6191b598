package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-notifier/schema"
)

const (
	eventsCollection     = "events"
	deliveriesCollection = "deliveries"
	webhooksCollection   = "webhooks"
	ordersCollection     = "orders"
)

type MongoRepository struct {
	client   *mongo.Client
	database string
}

var _ Repository = &MongoRepository{}

func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{
		client:   client,
		database: database,
	}
}

func (m *MongoRepository) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func findOptions(sortKey string, opts ListOptions) *options.FindOptions {
	find := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	return find
}

// traced wraps a single collection operation in a span carrying the same
// attributes as the SQL backends.
func (m *MongoRepository) traced(ctx context.Context, spanName string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()
	rowsCount, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	addDBStatsToSpan(span, "mongodb", spanName, rowsCount, time.Since(startTime))
	return nil
}

func (m *MongoRepository) AppendEvent(ctx context.Context, event schema.Event) error {
	return m.traced(ctx, "AppendEvent", func(ctx context.Context) (int, error) {
		_, err := m.collection(eventsCollection).InsertOne(ctx, event)
		return 1, err
	})
}

func (m *MongoRepository) ListEvents(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.Event, error) {
	var events []schema.Event
	err := m.traced(ctx, "ListEvents", func(ctx context.Context) (int, error) {
		cursor, err := m.collection(eventsCollection).Find(ctx, bson.M{"environment": env}, findOptions("created_at", opts))
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &events); err != nil {
			return 0, err
		}
		return len(events), nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (m *MongoRepository) AppendDelivery(ctx context.Context, attempt schema.DeliveryAttempt) error {
	return m.traced(ctx, "AppendDelivery", func(ctx context.Context) (int, error) {
		_, err := m.collection(deliveriesCollection).InsertOne(ctx, attempt)
		return 1, err
	})
}

func (m *MongoRepository) ListDeliveries(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.DeliveryAttempt, error) {
	var attempts []schema.DeliveryAttempt
	err := m.traced(ctx, "ListDeliveries", func(ctx context.Context) (int, error) {
		cursor, err := m.collection(deliveriesCollection).Find(ctx, bson.M{"environment": env}, findOptions("last_attempt_at", opts))
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &attempts); err != nil {
			return 0, err
		}
		return len(attempts), nil
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// matchingWebhooksFilter selects active subscriptions of env. events is an array
// field, so an equality match selects documents containing typ.
func matchingWebhooksFilter(env schema.Environment, typ schema.Type) bson.M {
	return bson.M{"environment": env, "is_active": true, "events": typ}
}

func (m *MongoRepository) ListMatchingWebhooks(ctx context.Context, env schema.Environment, typ schema.Type) ([]schema.WebhookSubscription, error) {
	return m.findWebhooks(ctx, "ListMatchingWebhooks", matchingWebhooksFilter(env, typ))
}

func (m *MongoRepository) ListWebhooks(ctx context.Context, env schema.Environment) ([]schema.WebhookSubscription, error) {
	return m.findWebhooks(ctx, "ListWebhooks", bson.M{"environment": env})
}

func (m *MongoRepository) findWebhooks(ctx context.Context, spanName string, filter bson.M) ([]schema.WebhookSubscription, error) {
	var hooks []schema.WebhookSubscription
	err := m.traced(ctx, spanName, func(ctx context.Context) (int, error) {
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
		cursor, err := m.collection(webhooksCollection).Find(ctx, filter, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &hooks); err != nil {
			return 0, err
		}
		return len(hooks), nil
	})
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (m *MongoRepository) CreateWebhook(ctx context.Context, webhook schema.WebhookSubscription) error {
	return m.traced(ctx, "CreateWebhook", func(ctx context.Context) (int, error) {
		_, err := m.collection(webhooksCollection).InsertOne(ctx, webhook)
		return 1, err
	})
}

func (m *MongoRepository) DeleteWebhook(ctx context.Context, env schema.Environment, id string) error {
	return m.traced(ctx, "DeleteWebhook", func(ctx context.Context) (int, error) {
		res, err := m.collection(webhooksCollection).DeleteOne(ctx, bson.M{"_id": id, "environment": env})
		if err != nil {
			return 0, err
		}
		if res.DeletedCount == 0 {
			return 0, ErrNotFound
		}
		return int(res.DeletedCount), nil
	})
}

func orderFilter(env schema.Environment, id string) bson.M {
	return bson.M{"environment": env, "order_id": id}
}

// CreateOrder upserts with $setOnInsert, so an existing document is matched and left untouched.
func (m *MongoRepository) CreateOrder(ctx context.Context, order schema.Order) error {
	return m.traced(ctx, "CreateOrder", func(ctx context.Context) (int, error) {
		res, err := m.collection(ordersCollection).UpdateOne(ctx, orderFilter(order.Environment, order.ID),
			bson.M{"$setOnInsert": order}, options.Update().SetUpsert(true))
		if err != nil {
			return 0, err
		}
		if res.UpsertedCount == 0 {
			return 0, ErrAlreadyExists
		}
		return 1, nil
	})
}

func (m *MongoRepository) GetOrder(ctx context.Context, env schema.Environment, id string) (schema.Order, error) {
	var order schema.Order
	err := m.traced(ctx, "GetOrder", func(ctx context.Context) (int, error) {
		err := m.collection(ordersCollection).FindOne(ctx, orderFilter(env, id)).Decode(&order)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return schema.Order{}, err
	}
	return order, nil
}

func (m *MongoRepository) updateOrder(ctx context.Context, spanName string, env schema.Environment, id string, at time.Time, set bson.M) error {
	return m.traced(ctx, spanName, func(ctx context.Context) (int, error) {
		set["updated_at"] = at
		res, err := m.collection(ordersCollection).UpdateOne(ctx, orderFilter(env, id), bson.M{"$set": set})
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 0 {
			return 0, ErrNotFound
		}
		return int(res.ModifiedCount), nil
	})
}

func (m *MongoRepository) SetShipment(ctx context.Context, env schema.Environment, orderID string, shipment schema.Shipment) error {
	return m.updateOrder(ctx, "SetShipment", env, orderID, shipment.UpdatedAt, bson.M{"shipment": shipment})
}

func (m *MongoRepository) SetOrderStatus(ctx context.Context, env schema.Environment, id string, status schema.OrderStatus, at time.Time) error {
	return m.updateOrder(ctx, "SetOrderStatus", env, id, at, bson.M{"status": status})
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
