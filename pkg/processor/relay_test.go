package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notifier/pkg/broker"
	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/config"
	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/pkg/telemetry"
	"github.com/zoff-tech/go-notifier/schema"
)

// MockBroker is a mock implementation of the MessageBroker interface
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, topic string, data []byte, headers map[string]string) error {
	args := m.Called(ctx, topic, data, headers)
	return args.Error(0)
}

func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}

func settings() config.RelaySettings {
	return config.RelaySettings{
		Enabled:      true,
		Topic:        "notifier.events",
		BufferSize:   8,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func newBus() *bus.Bus {
	repo := store.NewMemoryRepository(0)
	return bus.New(repo, repo, repo)
}

func runRelay(t *testing.T, r *Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRelay_PublishesEnvelope(t *testing.T) {
	mockBroker := new(MockBroker)
	published := make(chan []byte, 1)
	var gotHeaders map[string]string
	mockBroker.On("Publish", mock.Anything, "notifier.events", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotHeaders = args.Get(3).(map[string]string)
			published <- args.Get(2).([]byte)
		}).
		Return(nil)

	b := newBus()
	r := NewRelay(mockBroker, settings())
	r.Attach(b)
	runRelay(t, r)

	event, err := b.Emit(context.Background(), schema.EnvironmentSandbox, schema.TypeOrderCreated,
		schema.Payload{schema.KeyOrderID: "o-1"})
	require.NoError(t, err)

	select {
	case data := <-published:
		var decoded schema.Event
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, event.TraceID, decoded.TraceID)
		assert.Equal(t, "o-1", decoded.Payload.String(schema.KeyOrderID))
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	assert.Equal(t, "o-1", gotHeaders[broker.HeaderMessageKey])
	assert.Equal(t, "sandbox.order.created", gotHeaders[broker.HeaderRoutingKey])
	assert.Equal(t, event.ID, gotHeaders[broker.HeaderEventID])
}

func TestRelay_RetriesThenGivesUp(t *testing.T) {
	mockBroker := new(MockBroker)
	mockBroker.On("Publish", mock.Anything, "notifier.events", mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable"))

	r := NewRelay(mockBroker, settings())
	item := queued{event: schema.NewEvent("e-1", schema.EnvironmentLive, schema.TypeUserCreated, "t", nil, time.Now())}
	r.process(context.Background(), item)

	mockBroker.AssertNumberOfCalls(t, "Publish", 3)
}

func TestRelay_RetrySucceeds(t *testing.T) {
	mockBroker := new(MockBroker)
	mockBroker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("temporary")).Once()
	mockBroker.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()

	r := NewRelay(mockBroker, settings())
	err := r.publishWithRetry(context.Background(), []byte("{}"), map[string]string{})
	assert.NoError(t, err)
	mockBroker.AssertExpectations(t)
}

func TestRelay_DropsWhenBufferFull(t *testing.T) {
	metrics := telemetry.NewMetrics()
	cfg := settings()
	cfg.BufferSize = 1

	b := newBus()
	r := NewRelay(new(MockBroker), cfg, WithMetrics(metrics))
	r.Attach(b)

	// Run is not started, so only the first event fits.
	for i := 0; i < 3; i++ {
		_, err := b.Emit(context.Background(), schema.EnvironmentSandbox, schema.TypeProductUpdated, nil)
		require.NoError(t, err)
	}
	assert.Len(t, r.queue, 1)
}

func TestHeaders_FallBackToEventID(t *testing.T) {
	event := schema.NewEvent("e-9", schema.EnvironmentLive, schema.TypeBudgetUpdated, "t", schema.Payload{"budget": 10}, time.Now())
	headers := Headers(event)
	assert.Equal(t, "e-9", headers[broker.HeaderMessageKey])
	assert.Equal(t, "live", headers[broker.HeaderEnvironment])
	assert.Equal(t, "budget.updated", headers[broker.HeaderEventType])
}
