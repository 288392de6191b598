package schema

import (
	"fmt"
	"time"
)

// Status represents the status of a logged event or a delivery attempt.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Source is the origin tag stamped on every event.
const Source = "storefront"

// Environment is the deployment namespace that partitions every store.
type Environment string

const (
	EnvironmentSandbox Environment = "sandbox"
	EnvironmentLive    Environment = "live"
)

// Environments lists the known namespaces.
var Environments = []Environment{EnvironmentSandbox, EnvironmentLive}

// Valid reports whether e is a known namespace.
func (e Environment) Valid() bool {
	for _, known := range Environments {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEnvironment converts s into a known Environment.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(s)
	if !env.Valid() {
		return "", fmt.Errorf("unknown environment: %q", s)
	}
	return env, nil
}

// Type is a dot-separated event type name, e.g. "order.created".
type Type string

// Wildcard subscribes a listener to every event type.
const Wildcard Type = "*"

const (
	TypeOrderCreated    Type = "order.created"
	TypeOrderUpdated    Type = "order.updated"
	TypeOrderCancelled  Type = "order.cancelled"
	TypeShipmentUpdated Type = "shipment.updated"
	TypeProductCreated  Type = "product.created"
	TypeProductUpdated  Type = "product.updated"
	TypeProductDeleted  Type = "product.deleted"
	TypeBudgetUpdated   Type = "budget.updated"
	TypeUserCreated     Type = "user.created"
)

// KnownTypes is the built-in closed set of event types.
var KnownTypes = []Type{
	TypeOrderCreated,
	TypeOrderUpdated,
	TypeOrderCancelled,
	TypeShipmentUpdated,
	TypeProductCreated,
	TypeProductUpdated,
	TypeProductDeleted,
	TypeBudgetUpdated,
	TypeUserCreated,
}

// Event is an immutable record of something that happened.
type Event struct {
	ID          string      `json:"id" bson:"_id"`
	Type        Type        `json:"type" bson:"type"`
	Source      string      `json:"source" bson:"source"`
	Environment Environment `json:"environment" bson:"environment"`
	TraceID     string      `json:"traceId" bson:"trace_id"`
	CreatedAt   time.Time   `json:"createdAt" bson:"created_at"`
	Status      Status      `json:"status" bson:"status"`
	Payload     Payload     `json:"payload" bson:"payload"`
}

// NewEvent creates an Event with the fixed source and an ok status.
func NewEvent(id string, env Environment, typ Type, traceID string, payload Payload, createdAt time.Time) Event {
	return Event{
		ID:          id,
		Type:        typ,
		Source:      Source,
		Environment: env,
		TraceID:     traceID,
		CreatedAt:   createdAt,
		Status:      StatusOK,
		Payload:     payload,
	}
}
