package bus

import (
	"context"

	"github.com/zoff-tech/go-notifier/schema"
)

type eventKey struct{}

func withEvent(ctx context.Context, event schema.Event) context.Context {
	return context.WithValue(ctx, eventKey{}, event)
}

// EventFromContext returns the logged event a listener is being notified about.
func EventFromContext(ctx context.Context) (schema.Event, bool) {
	event, ok := ctx.Value(eventKey{}).(schema.Event)
	return event, ok
}
