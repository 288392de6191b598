package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-notifier/schema"
)

type PostgresRepository struct {
	db *sql.DB // using database/sql
}

var _ Repository = &PostgresRepository{}

// NewPostgresRepository wraps an open *sql.DB using the lib/pq driver.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func limitArg(opts ListOptions) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(opts.Limit), Valid: opts.Limit > 0}
}

func (p *PostgresRepository) AppendEvent(ctx context.Context, event schema.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.withTransaction(ctx, "AppendEvent", func(ctx context.Context, tx *sql.Tx) (int, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, environment, type, source, trace_id, status, payload, created_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.ID, string(event.Environment), string(event.Type), event.Source, event.TraceID,
			string(event.Status), payload, event.CreatedAt)
		return 1, err
	})
}

func (p *PostgresRepository) ListEvents(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.Event, error) {
	var events []schema.Event
	err := p.withTransaction(ctx, "ListEvents", func(ctx context.Context, tx *sql.Tx) (int, error) {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, environment, type, source, trace_id, status, payload, created_at FROM events
             WHERE environment = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
			string(env), limitArg(opts))
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				event                    schema.Event
				environment, typ, status string
				payload                  []byte
			)
			if err := rows.Scan(&event.ID, &environment, &typ, &event.Source, &event.TraceID,
				&status, &payload, &event.CreatedAt); err != nil {
				return 0, err
			}
			event.Environment = schema.Environment(environment)
			event.Type = schema.Type(typ)
			event.Status = schema.Status(status)
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &event.Payload); err != nil {
					return 0, fmt.Errorf("decode payload of event %s: %w", event.ID, err)
				}
			}
			events = append(events, event)
		}
		return len(events), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (p *PostgresRepository) AppendDelivery(ctx context.Context, attempt schema.DeliveryAttempt) error {
	return p.withTransaction(ctx, "AppendDelivery", func(ctx context.Context, tx *sql.Tx) (int, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhook_deliveries (id, environment, webhook_id, event_type, status, attempts,
             last_attempt_at, trace_id, latency_ms, response_code)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			attempt.ID, string(attempt.Environment), attempt.WebhookID, string(attempt.EventType),
			string(attempt.Status), attempt.Attempts, attempt.LastAttemptAt, attempt.TraceID,
			attempt.LatencyMs, attempt.ResponseCode)
		return 1, err
	})
}

func (p *PostgresRepository) ListDeliveries(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.DeliveryAttempt, error) {
	var attempts []schema.DeliveryAttempt
	err := p.withTransaction(ctx, "ListDeliveries", func(ctx context.Context, tx *sql.Tx) (int, error) {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, environment, webhook_id, event_type, status, attempts, last_attempt_at, trace_id,
             latency_ms, response_code FROM webhook_deliveries
             WHERE environment = $1 ORDER BY last_attempt_at DESC, id DESC LIMIT $2`,
			string(env), limitArg(opts))
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				a                        schema.DeliveryAttempt
				environment, typ, status string
			)
			if err := rows.Scan(&a.ID, &environment, &a.WebhookID, &typ, &status, &a.Attempts,
				&a.LastAttemptAt, &a.TraceID, &a.LatencyMs, &a.ResponseCode); err != nil {
				return 0, err
			}
			a.Environment = schema.Environment(environment)
			a.EventType = schema.Type(typ)
			a.Status = schema.Status(status)
			attempts = append(attempts, a)
		}
		return len(attempts), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (p *PostgresRepository) ListMatchingWebhooks(ctx context.Context, env schema.Environment, typ schema.Type) ([]schema.WebhookSubscription, error) {
	return p.queryWebhooks(ctx, "ListMatchingWebhooks",
		`SELECT id, environment, url, events, is_active, secret, created_at FROM webhooks
         WHERE environment = $1 AND is_active AND $2 = ANY(events) ORDER BY created_at`,
		string(env), string(typ))
}

func (p *PostgresRepository) ListWebhooks(ctx context.Context, env schema.Environment) ([]schema.WebhookSubscription, error) {
	return p.queryWebhooks(ctx, "ListWebhooks",
		`SELECT id, environment, url, events, is_active, secret, created_at FROM webhooks
         WHERE environment = $1 ORDER BY created_at`,
		string(env))
}

func (p *PostgresRepository) queryWebhooks(ctx context.Context, spanName, query string, args ...any) ([]schema.WebhookSubscription, error) {
	var hooks []schema.WebhookSubscription
	err := p.withTransaction(ctx, spanName, func(ctx context.Context, tx *sql.Tx) (int, error) {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				w           schema.WebhookSubscription
				environment string
				events      []string
			)
			if err := rows.Scan(&w.ID, &environment, &w.URL, pq.Array(&events), &w.IsActive,
				&w.Secret, &w.CreatedAt); err != nil {
				return 0, err
			}
			w.Environment = schema.Environment(environment)
			w.Events = stringsToTypes(events)
			hooks = append(hooks, w)
		}
		return len(hooks), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (p *PostgresRepository) CreateWebhook(ctx context.Context, webhook schema.WebhookSubscription) error {
	return p.withTransaction(ctx, "CreateWebhook", func(ctx context.Context, tx *sql.Tx) (int, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhooks (id, environment, url, events, is_active, secret, created_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			webhook.ID, string(webhook.Environment), webhook.URL, pq.Array(typesToStrings(webhook.Events)),
			webhook.IsActive, webhook.Secret, webhook.CreatedAt)
		return 1, err
	})
}

func (p *PostgresRepository) DeleteWebhook(ctx context.Context, env schema.Environment, id string) error {
	return p.withTransaction(ctx, "DeleteWebhook", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM webhooks WHERE environment = $1 AND id = $2`, string(env), id)
		return affectedOrNotFound(res, err)
	})
}

func (p *PostgresRepository) CreateOrder(ctx context.Context, order schema.Order) error {
	fields, err := json.Marshal(order.Fields)
	if err != nil {
		return fmt.Errorf("marshal order fields: %w", err)
	}
	shipment, err := marshalShipment(order.Shipment)
	if err != nil {
		return err
	}
	return p.withTransaction(ctx, "CreateOrder", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, environment, status, fields, shipment, created_at, updated_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7)
             ON CONFLICT (environment, id) DO NOTHING`,
			order.ID, string(order.Environment), string(order.Status), fields, shipment,
			order.CreatedAt, order.UpdatedAt)
		n, err := affectedOrNotFound(res, err)
		if errors.Is(err, ErrNotFound) {
			return 0, ErrAlreadyExists
		}
		return n, err
	})
}

func (p *PostgresRepository) GetOrder(ctx context.Context, env schema.Environment, id string) (schema.Order, error) {
	var order schema.Order
	err := p.withTransaction(ctx, "GetOrder", func(ctx context.Context, tx *sql.Tx) (int, error) {
		var (
			environment, status string
			fields, shipment    []byte
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, environment, status, fields, shipment, created_at, updated_at FROM orders
             WHERE environment = $1 AND id = $2`, string(env), id).
			Scan(&order.ID, &environment, &status, &fields, &shipment, &order.CreatedAt, &order.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		order.Environment = schema.Environment(environment)
		order.Status = schema.OrderStatus(status)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &order.Fields); err != nil {
				return 0, fmt.Errorf("decode order fields: %w", err)
			}
		}
		if len(shipment) > 0 {
			order.Shipment = &schema.Shipment{}
			if err := json.Unmarshal(shipment, order.Shipment); err != nil {
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

func (p *PostgresRepository) SetShipment(ctx context.Context, env schema.Environment, orderID string, shipment schema.Shipment) error {
	data, err := marshalShipment(&shipment)
	if err != nil {
		return err
	}
	return p.withTransaction(ctx, "SetShipment", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET shipment = $1, updated_at = $2 WHERE environment = $3 AND id = $4`,
			data, shipment.UpdatedAt, string(env), orderID)
		return affectedOrNotFound(res, err)
	})
}

func (p *PostgresRepository) SetOrderStatus(ctx context.Context, env schema.Environment, id string, status schema.OrderStatus, at time.Time) error {
	return p.withTransaction(ctx, "SetOrderStatus", func(ctx context.Context, tx *sql.Tx) (int, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE environment = $3 AND id = $4`,
			string(status), at, string(env), id)
		return affectedOrNotFound(res, err)
	})
}

func (p *PostgresRepository) Close(context.Context) error {
	return p.db.Close()
}

func marshalShipment(shipment *schema.Shipment) ([]byte, error) {
	if shipment == nil {
		return nil, nil
	}
	data, err := json.Marshal(shipment)
	if err != nil {
		return nil, fmt.Errorf("marshal shipment: %w", err)
	}
	return data, nil
}

func affectedOrNotFound(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return int(n), nil
}

// withTransaction runs fn in a new transaction that is committed when fn succeeds
// and rolled back otherwise.
func (p *PostgresRepository) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) (int, error)) (err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	rowsCount, err := fn(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", spanName, rowsCount, time.Since(startTime))
	return nil
}
