package demo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/fulfillment"
	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/schema"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrAlreadyDelivered = errors.New("order already delivered")
	ErrOrderExists      = errors.New("order already exists")
)

// OrderRequest places an order. ID is generated when empty.
type OrderRequest struct {
	ID     string         `json:"id" validate:"omitempty,max=64"`
	Fields map[string]any `json:"fields"`
}

type WebhookRequest struct {
	URL    string        `json:"url" validate:"required,url"`
	Events []schema.Type `json:"events" validate:"required,min=1,dive,required"`
}

// Facade is the request/response surface of the storefront demo. It owns orders and
// webhook subscriptions and reads the event and delivery logs.
type Facade struct {
	bus         *bus.Bus
	fulfillment *fulfillment.Fulfillment
	repo        store.Repository
	validate    *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

func NewFacade(b *bus.Bus, f *fulfillment.Fulfillment, repo store.Repository, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		bus:         b,
		fulfillment: f,
		repo:        repo,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// PlaceOrder stores a new order and emits order.created, which starts fulfillment.
func (f *Facade) PlaceOrder(ctx context.Context, env schema.Environment, req OrderRequest) (schema.Order, error) {
	if !env.Valid() {
		return schema.Order{}, fmt.Errorf("%w: %q", bus.ErrUnknownEnvironment, env)
	}
	if err := f.validate.Struct(req); err != nil {
		return schema.Order{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.ID == "" {
		req.ID = "ord_" + shortID()
	}

	now := f.now().UTC()
	order := schema.Order{
		ID:          req.ID,
		Environment: env,
		Status:      schema.OrderPlaced,
		Fields:      req.Fields,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return schema.Order{}, fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
		}
		return schema.Order{}, fmt.Errorf("store order: %w", err)
	}

	payload := schema.Payload{
		schema.KeyOrderID:     order.ID,
		schema.KeyEnvironment: string(env),
	}
	for k, v := range req.Fields {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	if _, err := f.bus.Emit(ctx, env, schema.TypeOrderCreated, payload); err != nil {
		return schema.Order{}, err
	}

	f.logger.Info("order placed", zap.String("order_id", order.ID), zap.String("environment", string(env)))
	return f.Order(ctx, env, order.ID)
}

// CancelOrder stops fulfillment before marking the order cancelled, so no later
// stage overwrites the final state.
func (f *Facade) CancelOrder(ctx context.Context, env schema.Environment, id string) (schema.Order, error) {
	order, err := f.repo.GetOrder(ctx, env, id)
	if err != nil {
		return schema.Order{}, err
	}
	if order.Status == schema.OrderCancelled {
		return order, nil
	}

	stopped := f.fulfillment.Stop(env, id)

	// re-read: a stage may have completed between the first read and Stop
	order, err = f.repo.GetOrder(ctx, env, id)
	if err != nil {
		return schema.Order{}, err
	}
	shipmentStatus := schema.ShipmentPending
	if order.Shipment != nil {
		shipmentStatus = order.Shipment.Status
	}
	if shipmentStatus.Terminal() {
		return schema.Order{}, fmt.Errorf("%w: %s", ErrAlreadyDelivered, id)
	}

	if err := f.repo.SetOrderStatus(ctx, env, id, schema.OrderCancelled, f.now().UTC()); err != nil {
		return schema.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	if _, err := f.bus.Emit(ctx, env, schema.TypeOrderCancelled, schema.Payload{
		schema.KeyOrderID:     id,
		schema.KeyEnvironment: string(env),
		schema.KeyStatus:      string(shipmentStatus),
	}); err != nil {
		return schema.Order{}, err
	}

	f.logger.Info("order cancelled",
		zap.String("order_id", id),
		zap.Bool("fulfillment_stopped", stopped),
		zap.String("shipment_status", string(shipmentStatus)))
	return f.Order(ctx, env, id)
}

func (f *Facade) Order(ctx context.Context, env schema.Environment, id string) (schema.Order, error) {
	return f.repo.GetOrder(ctx, env, id)
}

// RegisterWebhook creates an active subscription with a generated secret.
func (f *Facade) RegisterWebhook(ctx context.Context, env schema.Environment, req WebhookRequest) (schema.WebhookSubscription, error) {
	if err := f.validate.Struct(req); err != nil {
		return schema.WebhookSubscription{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, typ := range req.Events {
		if !f.bus.Known(typ) {
			return schema.WebhookSubscription{}, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, bus.ErrUnknownEventType, typ)
		}
	}

	secret, err := newSecret()
	if err != nil {
		return schema.WebhookSubscription{}, err
	}
	webhook := schema.WebhookSubscription{
		ID:          "wh_" + shortID(),
		URL:         req.URL,
		Events:      req.Events,
		Environment: env,
		IsActive:    true,
		Secret:      secret,
		CreatedAt:   f.now().UTC(),
	}
	if err := f.repo.CreateWebhook(ctx, webhook); err != nil {
		return schema.WebhookSubscription{}, fmt.Errorf("store webhook: %w", err)
	}

	f.logger.Info("webhook registered",
		zap.String("webhook_id", webhook.ID),
		zap.String("environment", string(env)),
		zap.Int("events", len(webhook.Events)))
	return webhook, nil
}

func (f *Facade) DeleteWebhook(ctx context.Context, env schema.Environment, id string) error {
	return f.repo.DeleteWebhook(ctx, env, id)
}

func (f *Facade) Webhooks(ctx context.Context, env schema.Environment) ([]schema.WebhookSubscription, error) {
	return f.repo.ListWebhooks(ctx, env)
}

func (f *Facade) Events(ctx context.Context, env schema.Environment, limit int) ([]schema.Event, error) {
	return f.repo.ListEvents(ctx, env, store.ListOptions{Limit: limit})
}

func (f *Facade) Deliveries(ctx context.Context, env schema.Environment, limit int) ([]schema.DeliveryAttempt, error) {
	return f.repo.ListDeliveries(ctx, env, store.ListOptions{Limit: limit})
}

func shortID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
