package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notifier/schema"
)

func newMockedPostgres(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestAppendEvent(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	event := schema.NewEvent("evt-1", schema.EnvironmentSandbox, schema.TypeOrderCreated, "abc",
		schema.Payload{"orderId": "o-1"}, createdAt)
	payload, err := json.Marshal(event.Payload)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs("evt-1", "sandbox", "order.created", schema.Source, "abc", "ok", payload, createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = repo.AppendEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent_RollbackOnError(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO events`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	event := schema.NewEvent("evt-1", schema.EnvironmentLive, schema.TypeUserCreated, "abc", nil, time.Now())
	err := repo.AppendEvent(context.Background(), event)
	assert.EqualError(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "environment", "type", "source", "trace_id", "status", "payload", "created_at"}).
		AddRow("2", "live", "order.updated", "storefront", "t2", "ok", []byte(`{"orderId":"o-2"}`), now).
		AddRow("1", "live", "order.created", "storefront", "t1", "ok", []byte(`{"orderId":"o-1"}`), now.Add(-time.Second))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, environment, type, source, trace_id, status, payload, created_at FROM events`).
		WithArgs("live", sqlmock.AnyArg()).
		WillReturnRows(rows)
	mock.ExpectCommit()

	events, err := repo.ListEvents(context.Background(), schema.EnvironmentLive, ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].ID)
	assert.Equal(t, schema.TypeOrderUpdated, events[0].Type)
	assert.Equal(t, "o-2", events[0].Payload.String(schema.KeyOrderID))
	assert.Equal(t, schema.StatusOK, events[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDelivery(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	at := time.Now().UTC()
	attempt := schema.DeliveryAttempt{
		ID:            "d-1",
		WebhookID:     "wh-1",
		Environment:   schema.EnvironmentSandbox,
		EventType:     schema.TypeOrderCreated,
		Status:        schema.StatusFailed,
		Attempts:      1,
		LastAttemptAt: at,
		TraceID:       "t1",
		LatencyMs:     120,
		ResponseCode:  500,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO webhook_deliveries`).
		WithArgs("d-1", "sandbox", "wh-1", "order.created", "failed", 1, at, "t1", 120, 500).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.AppendDelivery(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMatchingWebhooks(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "environment", "url", "events", "is_active", "secret", "created_at"}).
		AddRow("wh-1", "sandbox", "https://example.test/hook", []byte(`{order.created,order.updated}`), true, "s3cr3t", time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE environment = \$1 AND is_active AND \$2 = ANY\(events\)`).
		WithArgs("sandbox", "order.created").
		WillReturnRows(rows)
	mock.ExpectCommit()

	hooks, err := repo.ListMatchingWebhooks(context.Background(), schema.EnvironmentSandbox, schema.TypeOrderCreated)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, []schema.Type{schema.TypeOrderCreated, schema.TypeOrderUpdated}, hooks[0].Events)
	assert.True(t, hooks[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWebhook_NotFound(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM webhooks WHERE environment = \$1 AND id = \$2`).
		WithArgs("live", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteWebhook(context.Background(), schema.EnvironmentLive, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetShipment(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	mock.ExpectBegin()
	packedAt := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	mock.ExpectExec(`UPDATE orders SET shipment = \$1, updated_at = \$2 WHERE environment = \$3 AND id = \$4`).
		WithArgs(sqlmock.AnyArg(), packedAt, "sandbox", "o-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetShipment(context.Background(), schema.EnvironmentSandbox, "o-1",
		schema.Shipment{Status: schema.ShipmentPacked, Carrier: "UPS", UpdatedAt: packedAt})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "environment", "status", "fields", "shipment", "created_at", "updated_at"}).
		AddRow("o-1", "sandbox", "placed", []byte(`{"total":12}`), []byte(`{"status":"shipped","carrier":"UPS"}`), now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, environment, status, fields, shipment, created_at, updated_at FROM orders`).
		WithArgs("sandbox", "o-1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	order, err := repo.GetOrder(context.Background(), schema.EnvironmentSandbox, "o-1")
	require.NoError(t, err)
	assert.Equal(t, schema.OrderPlaced, order.Status)
	require.NotNil(t, order.Shipment)
	assert.Equal(t, schema.ShipmentShipped, order.Shipment.Status)
	assert.EqualValues(t, 12, order.Fields["total"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder_NotFound(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders`).
		WithArgs("live", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.GetOrder(context.Background(), schema.EnvironmentLive, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(environment, id\) DO NOTHING`).
		WithArgs("o-1", "live", "placed", []byte(`{"total":12}`), sqlmock.AnyArg(), createdAt, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateOrder(context.Background(), schema.Order{
		ID: "o-1", Environment: schema.EnvironmentLive, Status: schema.OrderPlaced,
		Fields: map[string]any{"total": 12}, CreatedAt: createdAt, UpdatedAt: createdAt,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_AlreadyExists(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CreateOrder(context.Background(), schema.Order{ID: "o-1", Environment: schema.EnvironmentLive})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetOrderStatus(t *testing.T) {
	repo, mock := newMockedPostgres(t)

	at := time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$1, updated_at = \$2`).
		WithArgs("cancelled", at, "sandbox", "o-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetOrderStatus(context.Background(), schema.EnvironmentSandbox, "o-1", schema.OrderCancelled, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
