package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/zoff-tech/go-notifier/schema"
)

var (
	eventColumns    = []string{"id", "environment", "type", "source", "trace_id", "status", "payload", "created_at"}
	deliveryColumns = []string{"id", "environment", "webhook_id", "event_type", "status", "attempts", "last_attempt_at",
		"trace_id", "latency_ms", "response_code"}
	webhookColumns = []string{"id", "environment", "url", "events", "is_active", "secret", "created_at"}
	orderColumns   = []string{"environment", "id", "status", "fields", "shipment", "created_at", "updated_at"}
)

// SpannerRepository stores JSON documents (payloads, order fields, shipments) in STRING columns.
type SpannerRepository struct {
	client *spanner.Client
}

var _ Repository = &SpannerRepository{}

func (s *SpannerRepository) traced(ctx context.Context, spanName string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()
	rowsCount, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	addDBStatsToSpan(span, "spanner", spanName, rowsCount, time.Since(startTime))
	return nil
}

func (s *SpannerRepository) apply(ctx context.Context, spanName string, mutation *spanner.Mutation) error {
	return s.traced(ctx, spanName, func(ctx context.Context) (int, error) {
		_, err := s.client.Apply(ctx, []*spanner.Mutation{mutation})
		return 1, err
	})
}

// query runs stmt in a single-use read-only transaction and hands every row to scan.
func (s *SpannerRepository) query(ctx context.Context, spanName string, stmt spanner.Statement, scan func(row *spanner.Row) error) error {
	return s.traced(ctx, spanName, func(ctx context.Context) (int, error) {
		iter := s.client.Single().Query(ctx, stmt)
		defer iter.Stop()

		count := 0
		for {
			row, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return count, err
			}
			if err := scan(row); err != nil {
				return count, err
			}
			count++
		}
		return count, nil
	})
}

func limitParam(opts ListOptions) int64 {
	if opts.Limit > 0 {
		return int64(opts.Limit)
	}
	return 1<<63 - 1
}

func (s *SpannerRepository) AppendEvent(ctx context.Context, event schema.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.apply(ctx, "AppendEvent", spanner.Insert("events", eventColumns, []interface{}{
		event.ID, string(event.Environment), string(event.Type), event.Source, event.TraceID,
		string(event.Status), string(payload), event.CreatedAt,
	}))
}

func (s *SpannerRepository) ListEvents(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.Event, error) {
	stmt := spanner.Statement{
		SQL: `SELECT id, environment, type, source, trace_id, status, payload, created_at FROM events
              WHERE environment = @environment ORDER BY created_at DESC, id DESC LIMIT @limit`,
		Params: map[string]interface{}{
			"environment": string(env),
			"limit":       limitParam(opts),
		},
	}

	var events []schema.Event
	err := s.query(ctx, "ListEvents", stmt, func(row *spanner.Row) error {
		var (
			event                             schema.Event
			environment, typ, status, payload string
		)
		if err := row.Columns(&event.ID, &environment, &typ, &event.Source, &event.TraceID,
			&status, &payload, &event.CreatedAt); err != nil {
			return err
		}
		event.Environment = schema.Environment(environment)
		event.Type = schema.Type(typ)
		event.Status = schema.Status(status)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return fmt.Errorf("decode payload of event %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SpannerRepository) AppendDelivery(ctx context.Context, a schema.DeliveryAttempt) error {
	return s.apply(ctx, "AppendDelivery", spanner.Insert("deliveries", deliveryColumns, []interface{}{
		a.ID, string(a.Environment), a.WebhookID, string(a.EventType), string(a.Status), int64(a.Attempts),
		a.LastAttemptAt, a.TraceID, int64(a.LatencyMs), int64(a.ResponseCode),
	}))
}

func (s *SpannerRepository) ListDeliveries(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.DeliveryAttempt, error) {
	stmt := spanner.Statement{
		SQL: `SELECT id, environment, webhook_id, event_type, status, attempts, last_attempt_at, trace_id,
              latency_ms, response_code FROM deliveries
              WHERE environment = @environment ORDER BY last_attempt_at DESC, id DESC LIMIT @limit`,
		Params: map[string]interface{}{
			"environment": string(env),
			"limit":       limitParam(opts),
		},
	}

	var attempts []schema.DeliveryAttempt
	err := s.query(ctx, "ListDeliveries", stmt, func(row *spanner.Row) error {
		var (
			a                              schema.DeliveryAttempt
			environment, typ, status       string
			tries, latencyMs, responseCode int64
		)
		if err := row.Columns(&a.ID, &environment, &a.WebhookID, &typ, &status, &tries,
			&a.LastAttemptAt, &a.TraceID, &latencyMs, &responseCode); err != nil {
			return err
		}
		a.Environment = schema.Environment(environment)
		a.EventType = schema.Type(typ)
		a.Status = schema.Status(status)
		a.Attempts = int(tries)
		a.LatencyMs = int(latencyMs)
		a.ResponseCode = int(responseCode)
		attempts = append(attempts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func scanWebhook(row *spanner.Row) (schema.WebhookSubscription, error) {
	var (
		w           schema.WebhookSubscription
		environment string
		events      []string
	)
	if err := row.Columns(&w.ID, &environment, &w.URL, &events, &w.IsActive, &w.Secret, &w.CreatedAt); err != nil {
		return w, err
	}
	w.Environment = schema.Environment(environment)
	w.Events = stringsToTypes(events)
	return w, nil
}

func (s *SpannerRepository) listWebhooks(ctx context.Context, spanName string, stmt spanner.Statement) ([]schema.WebhookSubscription, error) {
	var hooks []schema.WebhookSubscription
	err := s.query(ctx, spanName, stmt, func(row *spanner.Row) error {
		w, err := scanWebhook(row)
		if err != nil {
			return err
		}
		hooks = append(hooks, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (s *SpannerRepository) ListMatchingWebhooks(ctx context.Context, env schema.Environment, typ schema.Type) ([]schema.WebhookSubscription, error) {
	return s.listWebhooks(ctx, "ListMatchingWebhooks", spanner.Statement{
		SQL: `SELECT id, environment, url, events, is_active, secret, created_at FROM webhooks
              WHERE environment = @environment AND is_active AND @type IN UNNEST(events) ORDER BY created_at`,
		Params: map[string]interface{}{
			"environment": string(env),
			"type":        string(typ),
		},
	})
}

func (s *SpannerRepository) ListWebhooks(ctx context.Context, env schema.Environment) ([]schema.WebhookSubscription, error) {
	return s.listWebhooks(ctx, "ListWebhooks", spanner.Statement{
		SQL: `SELECT id, environment, url, events, is_active, secret, created_at FROM webhooks
              WHERE environment = @environment ORDER BY created_at`,
		Params: map[string]interface{}{"environment": string(env)},
	})
}

func (s *SpannerRepository) CreateWebhook(ctx context.Context, w schema.WebhookSubscription) error {
	return s.apply(ctx, "CreateWebhook", spanner.Insert("webhooks", webhookColumns, []interface{}{
		w.ID, string(w.Environment), w.URL, typesToStrings(w.Events), w.IsActive, w.Secret, w.CreatedAt,
	}))
}

// update runs a DML statement in a read-write transaction and maps zero affected rows to ErrNotFound.
func (s *SpannerRepository) update(ctx context.Context, spanName string, stmt spanner.Statement) error {
	return s.traced(ctx, spanName, func(ctx context.Context) (int, error) {
		var affected int64
		_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			var err error
			affected, err = txn.Update(ctx, stmt)
			return err
		})
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, ErrNotFound
		}
		return int(affected), nil
	})
}

func (s *SpannerRepository) DeleteWebhook(ctx context.Context, env schema.Environment, id string) error {
	return s.update(ctx, "DeleteWebhook", spanner.Statement{
		SQL: `DELETE FROM webhooks WHERE environment = @environment AND id = @id`,
		Params: map[string]interface{}{
			"environment": string(env),
			"id":          id,
		},
	})
}

func (s *SpannerRepository) CreateOrder(ctx context.Context, order schema.Order) error {
	fields, err := json.Marshal(order.Fields)
	if err != nil {
		return fmt.Errorf("marshal order fields: %w", err)
	}
	shipment, err := marshalShipment(order.Shipment)
	if err != nil {
		return err
	}
	err = s.apply(ctx, "CreateOrder", spanner.Insert("orders", orderColumns, []interface{}{
		string(order.Environment), order.ID, string(order.Status), string(fields), spanner.NullString{
			StringVal: string(shipment), Valid: shipment != nil,
		}, order.CreatedAt, order.UpdatedAt,
	}))
	if spanner.ErrCode(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	return err
}

func (s *SpannerRepository) GetOrder(ctx context.Context, env schema.Environment, id string) (schema.Order, error) {
	var order schema.Order
	err := s.traced(ctx, "GetOrder", func(ctx context.Context) (int, error) {
		row, err := s.client.Single().ReadRow(ctx, "orders", spanner.Key{string(env), id}, orderColumns)
		if spanner.ErrCode(err) == codes.NotFound {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}

		var (
			environment, status string
			fields              string
			shipment            spanner.NullString
		)
		if err := row.Columns(&environment, &order.ID, &status, &fields, &shipment,
			&order.CreatedAt, &order.UpdatedAt); err != nil {
			return 0, err
		}
		order.Environment = schema.Environment(environment)
		order.Status = schema.OrderStatus(status)
		if fields != "" {
			if err := json.Unmarshal([]byte(fields), &order.Fields); err != nil {
				return 0, fmt.Errorf("decode order fields: %w", err)
			}
		}
		if shipment.Valid {
			order.Shipment = &schema.Shipment{}
			if err := json.Unmarshal([]byte(shipment.StringVal), order.Shipment); err != nil {
				return 0, fmt.Errorf("decode shipment: %w", err)
			}
		}
		return 1, nil
	})
	if err != nil {
		return schema.Order{}, err
	}
	return order, nil
}

func (s *SpannerRepository) SetShipment(ctx context.Context, env schema.Environment, orderID string, shipment schema.Shipment) error {
	data, err := marshalShipment(&shipment)
	if err != nil {
		return err
	}
	return s.update(ctx, "SetShipment", spanner.Statement{
		SQL: `UPDATE orders SET shipment = @shipment, updated_at = @updated_at
              WHERE environment = @environment AND id = @id`,
		Params: map[string]interface{}{
			"shipment":    string(data),
			"updated_at":  shipment.UpdatedAt,
			"environment": string(env),
			"id":          orderID,
		},
	})
}

func (s *SpannerRepository) SetOrderStatus(ctx context.Context, env schema.Environment, id string, status schema.OrderStatus, at time.Time) error {
	return s.update(ctx, "SetOrderStatus", spanner.Statement{
		SQL: `UPDATE orders SET status = @status, updated_at = @updated_at
              WHERE environment = @environment AND id = @id`,
		Params: map[string]interface{}{
			"status":      string(status),
			"updated_at":  at,
			"environment": string(env),
			"id":          id,
		},
	})
}

func (s *SpannerRepository) Close(context.Context) error {
	s.client.Close()
	return nil
}

