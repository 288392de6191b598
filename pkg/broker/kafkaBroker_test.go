package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/config"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaBroker_Publish(t *testing.T) {
	writer := &fakeWriter{}
	broker := &kafkaBroker{writer: writer, logger: zap.NewNop()}

	err := broker.Publish(context.Background(), "notifier.events", []byte(`{"id":"1"}`), map[string]string{
		HeaderMessageKey: "o-1",
		HeaderEventType:  "order.created",
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "notifier.events", msg.Topic)
	assert.Equal(t, []byte("o-1"), msg.Key)
	assert.Equal(t, []byte(`{"id":"1"}`), msg.Value)
	assert.Len(t, msg.Headers, 2)

	require.NoError(t, broker.Close())
	assert.True(t, writer.closed)
}

func TestKafkaBroker_PublishError(t *testing.T) {
	broker := &kafkaBroker{writer: &fakeWriter{err: errors.New("leader not available")}, logger: zap.NewNop()}
	err := broker.Publish(context.Background(), "notifier.events", nil, nil)
	assert.EqualError(t, err, "leader not available")
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	broker, err := NewKafkaBroker(context.Background(), &config.BrokerSettings{Type: "kafka"}, zap.NewNop())
	assert.Nil(t, broker)
	assert.Error(t, err)
}
