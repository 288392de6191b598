package config

// Observability configures tracing. Tracing stays off while TracingURL is empty.
type Observability struct {
	ServiceName    string  `mapstructure:"service_name" validate:"required"`
	ServiceVersion string  `mapstructure:"service_version"`
	Deployment     string  `mapstructure:"deployment"` // deployment.environment resource attribute
	TracingURL     string  `mapstructure:"tracing_url" validate:"omitempty,hostname_port"`
	Insecure       bool    `mapstructure:"insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// ServerSettings configures the HTTP surface of the serve command.
type ServerSettings struct {
	Addr string `mapstructure:"addr" validate:"required"`
}
