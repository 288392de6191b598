package config

import "time"

// FulfillmentSettings holds the offsets, measured from order creation, at which
// each shipment stage fires.
type FulfillmentSettings struct {
	PackedAfter    time.Duration `mapstructure:"packed_after" validate:"gt=0"`
	ShippedAfter   time.Duration `mapstructure:"shipped_after" validate:"gtfield=PackedAfter"`
	DeliveredAfter time.Duration `mapstructure:"delivered_after" validate:"gtfield=ShippedAfter"`
	Carrier        string        `mapstructure:"carrier" validate:"required"`
	MaxActive      int           `mapstructure:"max_active" validate:"gte=0"` // 0 means unlimited
}
