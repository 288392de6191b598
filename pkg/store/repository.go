package store

import (
	"context"
	"time"

	"github.com/zoff-tech/go-notifier/schema"
)

// ListOptions bounds a list call. A zero Limit returns every record.
type ListOptions struct {
	Limit int
}

// EventLog is the append-only, per-environment record of emitted events.
type EventLog interface {
	// AppendEvent stores a newly emitted event.
	AppendEvent(ctx context.Context, event schema.Event) error
	// ListEvents returns the events of env, newest first.
	ListEvents(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.Event, error)
}

// DeliveryLog records the outcome of every simulated webhook delivery.
type DeliveryLog interface {
	// AppendDelivery stores one delivery attempt.
	AppendDelivery(ctx context.Context, attempt schema.DeliveryAttempt) error
	// ListDeliveries returns the attempts of env, newest first.
	ListDeliveries(ctx context.Context, env schema.Environment, opts ListOptions) ([]schema.DeliveryAttempt, error)
}

// WebhookRegistry is the read side the event bus depends on.
type WebhookRegistry interface {
	// ListMatchingWebhooks returns the active subscriptions of env subscribed to typ.
	ListMatchingWebhooks(ctx context.Context, env schema.Environment, typ schema.Type) ([]schema.WebhookSubscription, error)
}

// WebhookStore adds the CRUD operations owned by the storefront.
type WebhookStore interface {
	WebhookRegistry
	CreateWebhook(ctx context.Context, webhook schema.WebhookSubscription) error
	ListWebhooks(ctx context.Context, env schema.Environment) ([]schema.WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, env schema.Environment, id string) error
}

// OrderStore is the only order write the fulfillment core performs.
type OrderStore interface {
	// SetShipment overwrites the shipment sub-record of an existing order and stamps
	// the order with shipment.UpdatedAt.
	SetShipment(ctx context.Context, env schema.Environment, orderID string, shipment schema.Shipment) error
}

// OrderRepository adds the order CRUD used by the demo facade.
type OrderRepository interface {
	OrderStore
	// CreateOrder inserts order. It never replaces an existing one.
	CreateOrder(ctx context.Context, order schema.Order) error
	GetOrder(ctx context.Context, env schema.Environment, id string) (schema.Order, error)
	SetOrderStatus(ctx context.Context, env schema.Environment, id string, status schema.OrderStatus, at time.Time) error
}

// Repository is implemented by every backend.
type Repository interface {
	EventLog
	DeliveryLog
	WebhookStore
	OrderRepository
	Close(ctx context.Context) error
}
