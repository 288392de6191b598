package config

// StoreSettings selects the backend behind the event, delivery, webhook and order stores.
type StoreSettings struct {
	Type       string `mapstructure:"type" validate:"oneof=memory postgres mongo spanner"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database" validate:"required_if=Type mongo"`
	MaxRecords int    `mapstructure:"max_records" validate:"gte=0"` // per environment, memory only; 0 keeps everything
}
