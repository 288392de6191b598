package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/config"
)

type KafkaBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, logger *zap.Logger) (MessageBroker, error)

var NewKafkaBroker KafkaBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, logger *zap.Logger) (MessageBroker, error) {
	if len(settings.Brokers) == 0 {
		return nil, errors.New("kafka requires at least one broker address")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(settings.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka writer configured", zap.Strings("brokers", settings.Brokers))
	return &kafkaBroker{writer: writer, logger: logger}, nil
}

// messageWriter is the subset of *kafka.Writer used by the broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaBroker struct {
	writer messageWriter
	logger *zap.Logger
}

func (k *kafkaBroker) Publish(ctx context.Context, topic string, data []byte, headers map[string]string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Publish",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(topic),
		),
	)
	defer span.End()

	msg := kafka.Message{
		Topic: topic,
		Value: data,
		Time:  time.Now().UTC(),
	}
	if key := headers[HeaderMessageKey]; key != "" {
		msg.Key = []byte(key)
		span.SetAttributes(attribute.String("messaging.kafka.message_key", key))
	}
	for name, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(data)),
	)
	return nil
}

func (k *kafkaBroker) Close() error {
	k.logger.Info("Kafka writer closed")
	return k.writer.Close()
}
