package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/config"
)

// NewBroker connects to the broker selected by settings.Type.
func NewBroker(ctx context.Context, settings *config.BrokerSettings, logger *zap.Logger) (MessageBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch settings.Type {
	case "rabbitmq":
		return NewRabbitMqBroker(ctx, settings, logger)
	case "gcp-pubsub", "pubsub":
		return NewPubSubClient(ctx, settings, logger)
	case "kafka":
		return NewKafkaBroker(ctx, settings, logger)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", settings.Type)
	}
}
