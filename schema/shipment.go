package schema

import "time"

// ShipmentState is a step of the linear fulfillment machine:
//
//	pending -> packed -> shipped -> delivered
type ShipmentState string

const (
	ShipmentPending   ShipmentState = "pending"
	ShipmentPacked    ShipmentState = "packed"
	ShipmentShipped   ShipmentState = "shipped"
	ShipmentDelivered ShipmentState = "delivered"
)

var shipmentOrder = []ShipmentState{ShipmentPending, ShipmentPacked, ShipmentShipped, ShipmentDelivered}

func (s ShipmentState) normalize() ShipmentState {
	if s == "" {
		return ShipmentPending
	}
	return s
}

func (s ShipmentState) index() int {
	s = s.normalize()
	for i, known := range shipmentOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state. The empty state counts as pending.
func (s ShipmentState) Valid() bool {
	return s.index() >= 0
}

// Terminal reports whether no transition leaves s.
func (s ShipmentState) Terminal() bool {
	return s.normalize() == ShipmentDelivered
}

// Next returns the only state reachable from s.
func (s ShipmentState) Next() (ShipmentState, bool) {
	i := s.index()
	if i < 0 || i == len(shipmentOrder)-1 {
		return "", false
	}
	return shipmentOrder[i+1], true
}

// CanAdvanceTo reports whether to directly follows s.
func (s ShipmentState) CanAdvanceTo(to ShipmentState) bool {
	next, ok := s.Next()
	return ok && next == to
}

// Shipment is the fulfillment sub-record embedded in an order.
type Shipment struct {
	Status       ShipmentState `json:"status" bson:"status"`
	Carrier      string        `json:"carrier,omitempty" bson:"carrier,omitempty"`
	TrackingCode string        `json:"trackingCode,omitempty" bson:"tracking_code,omitempty"`
	PackedAt     *time.Time    `json:"packedAt,omitempty" bson:"packed_at,omitempty"`
	ShippedAt    *time.Time    `json:"shippedAt,omitempty" bson:"shipped_at,omitempty"`
	DeliveredAt  *time.Time    `json:"deliveredAt,omitempty" bson:"delivered_at,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updated_at"`
}

// OrderStatus is the facade-level status of an order.
type OrderStatus string

const (
	OrderPlaced    OrderStatus = "placed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is owned by the storefront. The notification core only writes Shipment.
type Order struct {
	ID          string         `json:"id" bson:"order_id"`
	Environment Environment    `json:"environment" bson:"environment"`
	Status      OrderStatus    `json:"status" bson:"status"`
	Fields      map[string]any `json:"fields,omitempty" bson:"fields,omitempty"`
	Shipment    *Shipment      `json:"shipment,omitempty" bson:"shipment,omitempty"`
	CreatedAt   time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updated_at"`
}
