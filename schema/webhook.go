package schema

import (
	"strings"
	"time"
)

// WebhookSubscription is a registered interest in a subset of event types.
// The URL is never dialed; deliveries are simulated.
type WebhookSubscription struct {
	ID          string      `json:"id" bson:"_id"`
	URL         string      `json:"url" bson:"url"`
	Events      []Type      `json:"events" bson:"events"`
	Environment Environment `json:"environment" bson:"environment"`
	IsActive    bool        `json:"isActive" bson:"is_active"`
	Secret      string      `json:"-" bson:"secret"`
	CreatedAt   time.Time   `json:"createdAt" bson:"created_at"`
}

// Subscribes reports whether typ is one of the subscribed event types.
func (w WebhookSubscription) Subscribes(typ Type) bool {
	for _, t := range w.Events {
		if t == typ {
			return true
		}
	}
	return false
}

// Matches reports whether an event of typ emitted in env is delivered to w.
func (w WebhookSubscription) Matches(env Environment, typ Type) bool {
	return w.IsActive && w.Environment == env && w.Subscribes(typ)
}

// MaskedSecret keeps the last four characters of the secret visible.
func (w WebhookSubscription) MaskedSecret() string {
	const visible = 4
	if len(w.Secret) <= visible {
		return strings.Repeat("*", len(w.Secret))
	}
	return strings.Repeat("*", len(w.Secret)-visible) + w.Secret[len(w.Secret)-visible:]
}
