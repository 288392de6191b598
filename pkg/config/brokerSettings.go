package config

import "time"

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	Type      string   `mapstructure:"type" validate:"omitempty,oneof=rabbitmq gcp-pubsub kafka"`
	URL       string   `mapstructure:"url"`
	Exchange  string   `mapstructure:"exchange"`
	ProjectID string   `mapstructure:"project_id"` // Optional for brokers like GCP Pub/Sub
	Brokers   []string `mapstructure:"brokers"`    // Kafka bootstrap servers
	PoolSize  int      `mapstructure:"pool_size" validate:"gte=0"`
}

// RelaySettings controls mirroring of emitted events to the broker.
type RelaySettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	Topic        string        `mapstructure:"topic" validate:"required"`
	BufferSize   int           `mapstructure:"buffer_size" validate:"gt=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // initial backoff duration
}
