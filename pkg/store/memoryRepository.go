package store

import (
	"context"
	"sync"
	"time"

	"github.com/zoff-tech/go-notifier/schema"
)

// MemoryRepository keeps every record kind in process memory, partitioned by environment.
type MemoryRepository struct {
	mu         sync.RWMutex
	maxRecords int

	events     map[schema.Environment][]schema.Event
	deliveries map[schema.Environment][]schema.DeliveryAttempt
	webhooks   map[schema.Environment][]schema.WebhookSubscription
	orders     map[schema.Environment]map[string]schema.Order
}

var _ Repository = &MemoryRepository{}

// NewMemoryRepository creates an empty repository. When maxRecords is positive, each
// environment keeps only the newest maxRecords events and deliveries.
func NewMemoryRepository(maxRecords int) *MemoryRepository {
	return &MemoryRepository{
		maxRecords: maxRecords,
		events:     make(map[schema.Environment][]schema.Event),
		deliveries: make(map[schema.Environment][]schema.DeliveryAttempt),
		webhooks:   make(map[schema.Environment][]schema.WebhookSubscription),
		orders:     make(map[schema.Environment]map[string]schema.Order),
	}
}

// evict drops the oldest records once the cap is exceeded.
func evict[T any](records []T, capacity int) []T {
	if capacity <= 0 || len(records) <= capacity {
		return records
	}
	kept := make([]T, capacity)
	copy(kept, records[len(records)-capacity:])
	return kept
}

// newestFirst copies records (stored oldest first) in reverse order.
func newestFirst[T any](records []T, limit int) []T {
	n := len(records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, records[i])
	}
	return out
}

func (m *MemoryRepository) AppendEvent(_ context.Context, event schema.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[event.Environment] = evict(append(m.events[event.Environment], event), m.maxRecords)
	return nil
}

func (m *MemoryRepository) ListEvents(_ context.Context, env schema.Environment, opts ListOptions) ([]schema.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return newestFirst(m.events[env], opts.Limit), nil
}

func (m *MemoryRepository) AppendDelivery(_ context.Context, attempt schema.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries[attempt.Environment] = evict(append(m.deliveries[attempt.Environment], attempt), m.maxRecords)
	return nil
}

func (m *MemoryRepository) ListDeliveries(_ context.Context, env schema.Environment, opts ListOptions) ([]schema.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return newestFirst(m.deliveries[env], opts.Limit), nil
}

func (m *MemoryRepository) ListMatchingWebhooks(_ context.Context, env schema.Environment, typ schema.Type) ([]schema.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schema.WebhookSubscription
	for _, w := range m.webhooks[env] {
		if w.Matches(env, typ) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryRepository) CreateWebhook(_ context.Context, webhook schema.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhook.Events = append([]schema.Type(nil), webhook.Events...)
	m.webhooks[webhook.Environment] = append(m.webhooks[webhook.Environment], webhook)
	return nil
}

func (m *MemoryRepository) ListWebhooks(_ context.Context, env schema.Environment) ([]schema.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]schema.WebhookSubscription(nil), m.webhooks[env]...), nil
}

func (m *MemoryRepository) DeleteWebhook(_ context.Context, env schema.Environment, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := m.webhooks[env]
	for i, w := range hooks {
		if w.ID == id {
			m.webhooks[env] = append(hooks[:i:i], hooks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryRepository) CreateOrder(_ context.Context, order schema.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders, ok := m.orders[order.Environment]
	if !ok {
		orders = make(map[string]schema.Order)
		m.orders[order.Environment] = orders
	}
	if _, exists := orders[order.ID]; exists {
		return ErrAlreadyExists
	}
	if order.Shipment != nil {
		shipment := *order.Shipment
		order.Shipment = &shipment
	}
	orders[order.ID] = order
	return nil
}

func (m *MemoryRepository) GetOrder(_ context.Context, env schema.Environment, id string) (schema.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[env][id]
	if !ok {
		return schema.Order{}, ErrNotFound
	}
	if order.Shipment != nil {
		shipment := *order.Shipment
		order.Shipment = &shipment
	}
	return order, nil
}

func (m *MemoryRepository) SetShipment(_ context.Context, env schema.Environment, orderID string, shipment schema.Shipment) error {
	return m.update(env, orderID, shipment.UpdatedAt, func(order *schema.Order) {
		order.Shipment = &shipment
	})
}

func (m *MemoryRepository) SetOrderStatus(_ context.Context, env schema.Environment, id string, status schema.OrderStatus, at time.Time) error {
	return m.update(env, id, at, func(order *schema.Order) {
		order.Status = status
	})
}

func (m *MemoryRepository) update(env schema.Environment, id string, at time.Time, fn func(order *schema.Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[env][id]
	if !ok {
		return ErrNotFound
	}
	fn(&order)
	order.UpdatedAt = at
	m.orders[env][id] = order
	return nil
}

func (m *MemoryRepository) Close(context.Context) error {
	return nil
}
