package broker

import "context"

const tracerName = "go-notifier/broker"

// Header names set by the relay. Brokers that support keys or routing read them.
const (
	HeaderEventID     = "x-event-id"
	HeaderEventType   = "x-event-type"
	HeaderEnvironment = "x-environment"
	HeaderRoutingKey  = "x-routing-key"
	HeaderMessageKey  = "x-message-key"
)

// MessageBroker defines the operations to publish messages to a broker.
type MessageBroker interface {
	// Publish sends data to topic with optional headers.
	Publish(ctx context.Context, topic string, data []byte, headers map[string]string) error
	// Close cleans up any resources (connections).
	Close() error
}
