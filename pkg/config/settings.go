package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Store         StoreSettings       `mapstructure:"store"`
	Broker        BrokerSettings      `mapstructure:"broker"`
	Relay         RelaySettings       `mapstructure:"relay"`
	Fulfillment   FulfillmentSettings `mapstructure:"fulfillment"`
	Observability Observability       `mapstructure:"observability"` // Observability settings
	Log           LogSettings         `mapstructure:"log"`
	Server        ServerSettings      `mapstructure:"server"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if (c.Store.Type == "mongo" || c.Store.Type == "spanner") && c.Store.URI == "" {
		return fmt.Errorf("store.uri is required for store type %s", c.Store.Type)
	}
	if c.Relay.Enabled && c.Broker.Type == "" {
		return errors.New("broker.type is required when the relay is enabled")
	}
	return nil
}

// SetDefaults registers every known key, which also lets AutomaticEnv resolve them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.uri", "")
	v.SetDefault("store.database", "notifier")
	v.SetDefault("store.max_records", 1000)

	v.SetDefault("broker.type", "")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "notifier.events")
	v.SetDefault("broker.project_id", "")
	v.SetDefault("broker.brokers", []string{})
	v.SetDefault("broker.pool_size", 5)

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.topic", "notifier.events")
	v.SetDefault("relay.buffer_size", 256)
	v.SetDefault("relay.max_retries", 3)
	v.SetDefault("relay.retry_backoff", 500*time.Millisecond)

	v.SetDefault("fulfillment.packed_after", 5*time.Second)
	v.SetDefault("fulfillment.shipped_after", 20*time.Second)
	v.SetDefault("fulfillment.delivered_after", 45*time.Second)
	v.SetDefault("fulfillment.carrier", "UPS")
	v.SetDefault("fulfillment.max_active", 10000)

	v.SetDefault("observability.service_name", "go-notifier")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.deployment", "development")
	v.SetDefault("observability.tracing_url", "")
	v.SetDefault("observability.insecure", true)
	v.SetDefault("observability.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("server.addr", ":8080")
}

// Default returns the settings produced by the defaults alone.
func Default() *Settings {
	v := viper.New()
	SetDefaults(v)
	cfg := &Settings{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// LoadFromFile reads notifier.yaml from filePath (or the working directory), merges
// notifier.<ENVIRONMENT>.yaml when present and finally applies NOTIFIER_* variables.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml") // Set the config type to YAML
	v.SetConfigName("notifier")
	v.AddConfigPath(filePath) // path to config
	v.AddConfigPath(".")      // current directory

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := mergeConfig(v, filePath, "notifier."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	cfg := &Settings{}
	if err := cfg.LoadFromEnv(v); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv overlays NOTIFIER_* variables (e.g. NOTIFIER_STORE_TYPE) and decodes into c.
func (c *Settings) LoadFromEnv(v *viper.Viper) error {
	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v.Unmarshal(c)
}

func mergeConfig(v *viper.Viper, path string, name string) error {
	v.SetConfigName(name)
	v.AddConfigPath(path)
	return v.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
