package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/config"
	"github.com/zoff-tech/go-notifier/pkg/scheduler"
	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/pkg/telemetry"
	"github.com/zoff-tech/go-notifier/schema"
)

const tracerName = "go-notifier/fulfillment"

var ErrInvalidOrder = errors.New("invalid order reference")

// Emitter publishes shipment.updated events.
type Emitter interface {
	Emit(ctx context.Context, env schema.Environment, typ schema.Type, payload schema.Payload) (schema.Event, error)
}

// Subscriber is the part of the bus Attach needs.
type Subscriber interface {
	Subscribe(typ schema.Type, l bus.Listener) func()
}

// DefaultSettings drive a demo order to delivered in under a minute.
var DefaultSettings = config.FulfillmentSettings{
	PackedAfter:    5 * time.Second,
	ShippedAfter:   20 * time.Second,
	DeliveredAfter: 45 * time.Second,
	Carrier:        "UPS",
}

// Fulfillment turns order.created events into a timed packed, shipped, delivered sequence.
type Fulfillment struct {
	emitter  Emitter
	orders   store.OrderStore
	sched    *scheduler.Scheduler
	settings config.FulfillmentSettings
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	tracking func() string

	mu   sync.Mutex
	runs map[string]*run // by sequenceKey
}

type Option func(*Fulfillment)

func WithSettings(settings config.FulfillmentSettings) Option {
	return func(f *Fulfillment) {
		f.settings = settings
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fulfillment) {
		f.logger = logger
	}
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(f *Fulfillment) {
		f.metrics = metrics
	}
}

func WithTrackingCodes(next func() string) Option {
	return func(f *Fulfillment) {
		f.tracking = next
	}
}

func New(emitter Emitter, orders store.OrderStore, sched *scheduler.Scheduler, opts ...Option) *Fulfillment {
	f := &Fulfillment{
		emitter:  emitter,
		orders:   orders,
		sched:    sched,
		settings: DefaultSettings,
		logger:   zap.NewNop(),
		tracking: newTrackingCode,
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach subscribes f to order.created on the bus and returns the unsubscribe func.
func (f *Fulfillment) Attach(b Subscriber) func() {
	return b.Subscribe(schema.TypeOrderCreated, f.onOrderCreated)
}

func (f *Fulfillment) onOrderCreated(ctx context.Context, payload schema.Payload) error {
	created, ok := payload.OrderCreated()
	if !ok {
		f.metrics.TriggerDiscarded()
		f.logger.Debug("discarding order.created without orderId or environment", zap.Any("payload", map[string]any(payload)))
		return nil
	}
	return f.Start(ctx, created.Environment, created.OrderID)
}

// run is the bookkeeping of one order's sequence. Stages of a run never execute
// concurrently, so shipment needs no lock.
type run struct {
	key      string
	env      schema.Environment
	orderID  string
	ctx      context.Context
	shipment schema.Shipment
	finish   sync.Once
}

// sequenceKey scopes a sequence to its environment: sandbox/o1 and live/o1 are different orders.
func sequenceKey(env schema.Environment, orderID string) string {
	return string(env) + "/" + orderID
}

// Start schedules the packed, shipped and delivered stages for orderID in env.
func (f *Fulfillment) Start(ctx context.Context, env schema.Environment, orderID string) error {
	if orderID == "" || !env.Valid() {
		return fmt.Errorf("%w: order %q in environment %q", ErrInvalidOrder, orderID, env)
	}

	r := &run{
		key:      sequenceKey(env, orderID),
		env:      env,
		orderID:  orderID,
		ctx:      context.WithoutCancel(ctx),
		shipment: schema.Shipment{Status: schema.ShipmentPending},
	}
	stages := []scheduler.Stage{
		{Offset: f.settings.PackedAfter, Run: func() { f.advance(r, schema.ShipmentPacked) }},
		{Offset: f.settings.ShippedAfter, Run: func() { f.advance(r, schema.ShipmentShipped) }},
		{Offset: f.settings.DeliveredAfter, Run: func() { f.advance(r, schema.ShipmentDelivered) }},
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sched.Schedule(r.key, stages); err != nil {
		f.logger.Warn("failed to schedule fulfillment",
			zap.String("order_id", orderID),
			zap.String("environment", string(env)),
			zap.Error(err))
		return fmt.Errorf("schedule fulfillment for order %s: %w", orderID, err)
	}

	f.runs[r.key] = r
	f.metrics.SequenceStarted()
	f.logger.Info("fulfillment scheduled",
		zap.String("order_id", orderID),
		zap.String("environment", string(env)))
	return nil
}

func (f *Fulfillment) advance(r *run, to schema.ShipmentState) {
	ctx, span := otel.Tracer(tracerName).Start(r.ctx, "fulfillment.Stage", trace.WithAttributes(
		attribute.String("notifier.order_id", r.orderID),
		attribute.String("notifier.shipment_status", string(to)),
	))
	defer span.End()

	if !r.shipment.Status.CanAdvanceTo(to) {
		f.logger.Error("illegal shipment transition",
			zap.String("order_id", r.orderID),
			zap.String("from", string(r.shipment.Status)),
			zap.String("to", string(to)))
		return
	}

	now := f.sched.Clock().Now().UTC()
	next := r.shipment
	next.Status = to
	next.UpdatedAt = now

	update := schema.ShipmentUpdated{
		OrderID:     r.orderID,
		Environment: r.env,
		Status:      to,
		Timestamp:   now,
	}
	switch to {
	case schema.ShipmentPacked:
		next.PackedAt = &now
	case schema.ShipmentShipped:
		next.ShippedAt = &now
		next.Carrier = f.settings.Carrier
		next.TrackingCode = f.tracking()
		update.Carrier = next.Carrier
		update.TrackingCode = next.TrackingCode
	case schema.ShipmentDelivered:
		next.DeliveredAt = &now
	}
	r.shipment = next

	if to.Terminal() {
		defer f.finish(r)
	}

	if err := f.orders.SetShipment(ctx, r.env, r.orderID, next); err != nil {
		span.RecordError(err)
		f.logger.Error("failed to store shipment, skipping event",
			zap.String("order_id", r.orderID),
			zap.String("status", string(to)),
			zap.Error(err))
		return
	}
	f.metrics.Transition(string(to))

	if _, err := f.emitter.Emit(ctx, r.env, schema.TypeShipmentUpdated, update.Payload()); err != nil {
		span.RecordError(err)
		f.logger.Error("failed to emit shipment update",
			zap.String("order_id", r.orderID),
			zap.String("status", string(to)),
			zap.Error(err))
	}
}

func (f *Fulfillment) finish(r *run) {
	r.finish.Do(func() {
		f.mu.Lock()
		if f.runs[r.key] == r {
			delete(f.runs, r.key)
		}
		f.mu.Unlock()
		f.metrics.SequenceFinished()
	})
}

// Stop cancels the stages of orderID in env that have not fired. It reports
// whether a sequence was active.
func (f *Fulfillment) Stop(env schema.Environment, orderID string) bool {
	key := sequenceKey(env, orderID)
	if !f.sched.Cancel(key) {
		return false
	}
	f.mu.Lock()
	r := f.runs[key]
	f.mu.Unlock()
	if r != nil {
		f.finish(r)
	}
	f.logger.Info("fulfillment stopped",
		zap.String("order_id", orderID),
		zap.String("environment", string(env)))
	return true
}

// StopOrder stops orderID in every environment.
func (f *Fulfillment) StopOrder(orderID string) bool {
	stopped := false
	for _, env := range schema.Environments {
		if f.Stop(env, orderID) {
			stopped = true
		}
	}
	return stopped
}

func (f *Fulfillment) Active(env schema.Environment, orderID string) bool {
	return f.sched.Active(sequenceKey(env, orderID))
}

// Close stops every active sequence.
func (f *Fulfillment) Close() {
	f.mu.Lock()
	runs := make([]*run, 0, len(f.runs))
	for _, r := range f.runs {
		runs = append(runs, r)
	}
	f.mu.Unlock()

	for _, r := range runs {
		f.sched.Cancel(r.key)
		f.finish(r)
	}
}

func newTrackingCode() string {
	id := uuid.New()
	return "TRK" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
