package bus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/pkg/telemetry"
	"github.com/zoff-tech/go-notifier/schema"
)

const tracerName = "go-notifier/bus"

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrUnknownEventType   = errors.New("unknown event type")
)

// Listener is an in-process subscriber. Listeners registered for a concrete type
// receive the event payload; wildcard listeners receive schema.Envelope(type, payload).
type Listener func(ctx context.Context, payload schema.Payload) error

type registration struct {
	id       uint64
	listener Listener
}

// Bus writes every emitted event to the event log, synthesizes one delivery per
// matching webhook and then notifies in-process listeners, in that order.
type Bus struct {
	events     store.EventLog
	webhooks   store.WebhookRegistry
	deliveries store.DeliveryLog

	logger    *zap.Logger
	metrics   *telemetry.Metrics
	simulator *Simulator
	now       func() time.Time
	known     map[schema.Type]struct{}

	mu        sync.RWMutex
	nextID    uint64
	listeners map[schema.Type][]registration
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(b *Bus) {
		b.metrics = metrics
	}
}

// WithEventTypes extends the set of accepted event types.
func WithEventTypes(types ...schema.Type) Option {
	return func(b *Bus) {
		for _, t := range types {
			if t != schema.Wildcard {
				b.known[t] = struct{}{}
			}
		}
	}
}

func WithSimulator(simulator *Simulator) Option {
	return func(b *Bus) {
		b.simulator = simulator
	}
}

func WithNow(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

func New(events store.EventLog, webhooks store.WebhookRegistry, deliveries store.DeliveryLog, opts ...Option) *Bus {
	b := &Bus{
		events:     events,
		webhooks:   webhooks,
		deliveries: deliveries,
		logger:     zap.NewNop(),
		simulator:  NewSimulator(DefaultSuccessRate, nil),
		now:        time.Now,
		known:      make(map[schema.Type]struct{}, len(schema.KnownTypes)),
		listeners:  make(map[schema.Type][]registration),
	}
	for _, t := range schema.KnownTypes {
		b.known[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Known reports whether typ can be emitted.
func (b *Bus) Known(typ schema.Type) bool {
	_, ok := b.known[typ]
	return ok
}

// Emit records the event and fans it out. Only a failure to write the event log
// is returned; delivery and listener failures are logged and counted.
func (b *Bus) Emit(ctx context.Context, env schema.Environment, typ schema.Type, payload schema.Payload) (schema.Event, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bus.Emit", trace.WithAttributes(
		attribute.String("notifier.environment", string(env)),
		attribute.String("notifier.event_type", string(typ)),
	))
	defer span.End()

	if !env.Valid() {
		return schema.Event{}, b.reject(span, "unknown_environment", fmt.Errorf("%w: %q", ErrUnknownEnvironment, env))
	}
	if !b.Known(typ) {
		return schema.Event{}, b.reject(span, "unknown_type", fmt.Errorf("%w: %q", ErrUnknownEventType, typ))
	}

	event := schema.NewEvent(newEventID(), env, typ, traceID(span), payload.Clone(), b.now().UTC())
	if err := b.events.AppendEvent(ctx, event); err != nil {
		span.RecordError(err)
		b.logger.Error("failed to append event",
			zap.String("environment", string(env)),
			zap.String("type", string(typ)),
			zap.Error(err))
		return schema.Event{}, fmt.Errorf("append event: %w", err)
	}
	b.metrics.EventEmitted(string(env), string(typ))
	span.SetAttributes(attribute.String("notifier.event_id", event.ID))

	b.deliver(ctx, event)
	b.notify(ctx, event)

	return event, nil
}

func (b *Bus) reject(span trace.Span, reason string, err error) error {
	span.RecordError(err)
	b.metrics.EventRejected(reason)
	b.logger.Warn("rejected event", zap.String("reason", reason), zap.Error(err))
	return err
}

func (b *Bus) deliver(ctx context.Context, event schema.Event) {
	hooks, err := b.webhooks.ListMatchingWebhooks(ctx, event.Environment, event.Type)
	if err != nil {
		b.metrics.DeliveryError()
		b.logger.Error("failed to list matching webhooks",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}

	for _, hook := range hooks {
		if !hook.Matches(event.Environment, event.Type) {
			continue
		}
		outcome := b.simulator.Next()
		attempt := schema.DeliveryAttempt{
			ID:            uuid.NewString(),
			WebhookID:     hook.ID,
			Environment:   event.Environment,
			EventType:     event.Type,
			Status:        outcome.Status,
			Attempts:      1,
			LastAttemptAt: b.now().UTC(),
			TraceID:       event.TraceID,
			LatencyMs:     outcome.LatencyMs,
			ResponseCode:  outcome.ResponseCode,
		}
		if err := b.deliveries.AppendDelivery(ctx, attempt); err != nil {
			b.metrics.DeliveryError()
			b.logger.Error("failed to append delivery",
				zap.String("event_id", event.ID),
				zap.String("webhook_id", hook.ID),
				zap.Error(err))
			continue
		}
		b.metrics.Delivery(string(event.Environment), string(outcome.Status))
		b.logger.Debug("delivery simulated",
			zap.String("webhook_id", hook.ID),
			zap.String("status", string(outcome.Status)),
			zap.Int("latency_ms", outcome.LatencyMs))
	}
}

func (b *Bus) notify(ctx context.Context, event schema.Event) {
	b.mu.RLock()
	typed := append([]registration(nil), b.listeners[event.Type]...)
	wildcard := append([]registration(nil), b.listeners[schema.Wildcard]...)
	b.mu.RUnlock()

	ctx = withEvent(ctx, event)
	for _, r := range typed {
		b.invoke(ctx, event, r, event.Payload.Clone())
	}
	for _, r := range wildcard {
		b.invoke(ctx, event, r, schema.Envelope(event.Type, event.Payload.Clone()))
	}
}

func (b *Bus) invoke(ctx context.Context, event schema.Event, r registration, payload schema.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			b.metrics.ListenerFailed(string(event.Type))
			b.logger.Error("listener panicked",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Any("panic", rec))
		}
	}()

	if err := r.listener(ctx, payload); err != nil {
		b.metrics.ListenerFailed(string(event.Type))
		b.logger.Warn("listener failed",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Subscribe registers l for typ, or for every type when typ is schema.Wildcard.
// The returned func removes this registration only and may be called more than once.
func (b *Bus) Subscribe(typ schema.Type, l Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[typ] = append(b.listeners[typ], registration{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(typ, id) })
	}
}

func (b *Bus) unsubscribe(typ schema.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[typ]
	kept := make([]registration, 0, len(current))
	for _, r := range current {
		if r.id != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, typ)
		return
	}
	b.listeners[typ] = kept
}

// Listeners returns how many listeners are registered for typ.
func (b *Bus) Listeners(typ schema.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[typ])
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func traceID(span trace.Span) string {
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
