package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/broker"
	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/config"
	"github.com/zoff-tech/go-notifier/pkg/telemetry"
	"github.com/zoff-tech/go-notifier/schema"
)

const (
	resultPublished = "published"
	resultFailed    = "failed"
)

// Subscriber is the part of the bus the relay needs.
type Subscriber interface {
	Subscribe(typ schema.Type, l bus.Listener) func()
}

type queued struct {
	spanContext trace.SpanContext
	event       schema.Event
}

// Relay mirrors every emitted event to a message broker. Listening never blocks
// the emitter: events are buffered and published by Run on its own goroutine.
type Relay struct {
	broker   broker.MessageBroker
	settings config.RelaySettings
	tracer   trace.Tracer
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	queue    chan queued
}

type Option func(*Relay)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Relay) {
		r.metrics = metrics
	}
}

// NewRelay creates a new instance of Relay.
func NewRelay(b broker.MessageBroker, settings config.RelaySettings, opts ...Option) *Relay {
	if settings.BufferSize <= 0 {
		settings.BufferSize = 1
	}
	r := &Relay{
		broker:   b,
		settings: settings,
		tracer:   otel.Tracer("go-notifier/relay"),
		logger:   zap.NewNop(),
		queue:    make(chan queued, settings.BufferSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the relay to every event type.
func (r *Relay) Attach(b Subscriber) func() {
	return b.Subscribe(schema.Wildcard, r.enqueue)
}

func (r *Relay) enqueue(ctx context.Context, _ schema.Payload) error {
	event, ok := bus.EventFromContext(ctx)
	if !ok {
		return errors.New("relay: no event in listener context")
	}

	select {
	case r.queue <- queued{spanContext: trace.SpanContextFromContext(ctx), event: event}:
	default:
		r.metrics.RelayDrop()
		r.logger.Warn("relay buffer full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
	}
	return nil
}

// Run publishes buffered events until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("relay started", zap.String("topic", r.settings.Topic))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped", zap.Int("pending", len(r.queue)))
			return
		case item := <-r.queue:
			r.process(ctx, item)
		}
	}
}

func (r *Relay) process(ctx context.Context, item queued) {
	event := item.event
	if item.spanContext.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, item.spanContext)
	}
	ctx, span := r.tracer.Start(ctx, "RelayEvent", trace.WithAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", string(event.Type)),
		attribute.String("event.environment", string(event.Environment)),
		attribute.String("event.created_at", event.CreatedAt.String()),
	))
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RelayResult(resultFailed)
		r.logger.Error("failed to encode event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	headers := Headers(event)

	// Inject the trace context into the message headers
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	if err := r.publishWithRetry(ctx, data, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RelayResult(resultFailed)
		r.logger.Error("failed to relay event",
			zap.String("event_id", event.ID),
			zap.Int("max_retries", r.settings.MaxRetries),
			zap.Error(err))
		return
	}
	r.metrics.RelayResult(resultPublished)
}

func (r *Relay) publishWithRetry(ctx context.Context, data []byte, headers map[string]string) error {
	backoff := r.settings.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := r.broker.Publish(ctx, r.settings.Topic, data, headers)
		if err == nil {
			return nil
		}
		if attempt >= r.settings.MaxRetries {
			return fmt.Errorf("publish after %d attempts: %w", attempt+1, err)
		}
		r.logger.Warn("publish failed, retrying",
			zap.String("event_id", headers[broker.HeaderEventID]),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Headers returns the broker headers describing event. The message key is the
// order id when the payload carries one so a partitioned broker keeps an order's
// events in sequence.
func Headers(event schema.Event) map[string]string {
	key := event.Payload.String(schema.KeyOrderID)
	if key == "" {
		key = event.ID
	}
	return map[string]string{
		broker.HeaderEventID:     event.ID,
		broker.HeaderEventType:   string(event.Type),
		broker.HeaderEnvironment: string(event.Environment),
		broker.HeaderRoutingKey:  string(event.Environment) + "." + string(event.Type),
		broker.HeaderMessageKey:  key,
	}
}
