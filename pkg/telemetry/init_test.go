package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/config"
)

func TestInit_Success(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "test-service",
		TracingURL:  "localhost:4318", // Mock OTLP endpoint
		Insecure:    true,
		SampleRatio: 1,
	}

	shutdown, err := Init(context.Background(), cfg, zap.NewNop())
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Ensure the global tracer provider is set
	_, ok := otel.GetTracerProvider().(*trace.TracerProvider)
	assert.True(t, ok)
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "baggage")

	shutdown()
}

func TestInit_InvalidTracingURL(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "test-service",
		TracingURL:  "",
	}

	shutdown, err := Init(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestInit_EmptyServiceName(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "",
		TracingURL:  "localhost:4318",
	}

	shutdown, err := Init(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestNewResource_DescribesDeployment(t *testing.T) {
	res, err := newResource(context.Background(), config.Observability{
		ServiceName:    "go-notifier",
		ServiceVersion: "1.4.0",
		Deployment:     "staging",
	})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "go-notifier", attrs["service.name"])
	assert.Equal(t, "1.4.0", attrs["service.version"])
	assert.Equal(t, "staging", attrs["deployment.environment"])
}

func TestNewResource_OmitsEmptyAttributes(t *testing.T) {
	res, err := newResource(context.Background(), config.Observability{ServiceName: "go-notifier"})
	require.NoError(t, err)

	for _, kv := range res.Attributes() {
		assert.NotEqual(t, attribute.Key("service.version"), kv.Key)
		assert.NotEqual(t, attribute.Key("deployment.environment"), kv.Key)
	}
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, trace.AlwaysSample().Description(), newSampler(0).Description())
	assert.Equal(t, trace.AlwaysSample().Description(), newSampler(1).Description())
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
