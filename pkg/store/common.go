package store

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-notifier/schema"
)

var (
	// ErrNotFound is returned when an order or webhook does not exist in the environment.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by CreateOrder when the environment already holds the id.
	ErrAlreadyExists = errors.New("record already exists")
)

const tracerName = "go-notifier/store"

func addDBStatsToSpan(span trace.Span, system, statement string, rowsCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowsCount", rowsCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}

func typesToStrings(types []schema.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func stringsToTypes(values []string) []schema.Type {
	out := make([]schema.Type, 0, len(values))
	for _, v := range values {
		out = append(out, schema.Type(v))
	}
	return out
}
