package schema

import "time"

// Payload carries free-form event data. Known event types have typed views.
type Payload map[string]any

// Payload keys shared by the typed views.
const (
	KeyOrderID      = "orderId"
	KeyEnvironment  = "environment"
	KeyStatus       = "status"
	KeyCarrier      = "carrier"
	KeyTrackingCode = "trackingCode"
	KeyTimestamp    = "timestamp"
	KeyEventType    = "eventType"
	KeyPayload      = "payload"
)

// String returns the string stored under key, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OrderCreated is the typed view of an order.created payload.
type OrderCreated struct {
	OrderID     string
	Environment Environment
}

// OrderCreated extracts the order id and environment. ok is false when either is
// missing or the environment is unknown.
func (p Payload) OrderCreated() (OrderCreated, bool) {
	orderID := p.String(KeyOrderID)
	env := Environment(p.String(KeyEnvironment))
	if orderID == "" || !env.Valid() {
		return OrderCreated{}, false
	}
	return OrderCreated{OrderID: orderID, Environment: env}, true
}

// ShipmentUpdated is the typed view of a shipment.updated payload.
type ShipmentUpdated struct {
	OrderID      string
	Environment  Environment
	Status       ShipmentState
	Carrier      string
	TrackingCode string
	Timestamp    time.Time
}

// Payload renders u into the wire shape {orderId, status, ...extras, timestamp}.
func (u ShipmentUpdated) Payload() Payload {
	p := Payload{
		KeyOrderID:     u.OrderID,
		KeyEnvironment: string(u.Environment),
		KeyStatus:      string(u.Status),
		KeyTimestamp:   u.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if u.Carrier != "" {
		p[KeyCarrier] = u.Carrier
	}
	if u.TrackingCode != "" {
		p[KeyTrackingCode] = u.TrackingCode
	}
	return p
}

// ShipmentUpdated parses a shipment.updated payload.
func (p Payload) ShipmentUpdated() (ShipmentUpdated, bool) {
	orderID := p.String(KeyOrderID)
	state := ShipmentState(p.String(KeyStatus))
	if orderID == "" || !state.Valid() {
		return ShipmentUpdated{}, false
	}
	ts, _ := time.Parse(time.RFC3339Nano, p.String(KeyTimestamp))
	return ShipmentUpdated{
		OrderID:      orderID,
		Environment:  Environment(p.String(KeyEnvironment)),
		Status:       state,
		Carrier:      p.String(KeyCarrier),
		TrackingCode: p.String(KeyTrackingCode),
		Timestamp:    ts,
	}, true
}

// Envelope wraps a payload the way wildcard listeners receive it.
func Envelope(typ Type, payload Payload) Payload {
	return Payload{
		KeyEventType: string(typ),
		KeyPayload:   payload,
	}
}

// Unwrap reverses Envelope. It also accepts an envelope decoded from JSON, whose
// inner payload is a plain map.
func (p Payload) Unwrap() (Type, Payload, bool) {
	typ := p.String(KeyEventType)
	if typ == "" {
		return "", nil, false
	}
	switch inner := p[KeyPayload].(type) {
	case Payload:
		return Type(typ), inner, true
	case map[string]any:
		return Type(typ), Payload(inner), true
	default:
		return "", nil, false
	}
}
