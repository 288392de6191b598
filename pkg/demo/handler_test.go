package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-notifier/pkg/telemetry"
	"github.com/zoff-tech/go-notifier/schema"
)

func serve(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandler_OrderLifecycle(t *testing.T) {
	hs := newHarness(t)
	h := NewHandler(hs.facade, nil, nil)

	rec, body := serve(t, h, http.MethodPost, "/sandbox/orders", OrderRequest{ID: "o1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = serve(t, h, http.MethodPost, "/sandbox/orders", OrderRequest{ID: "o1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, body = serve(t, h, http.MethodGet, "/sandbox/orders/o1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o1", body["data"].(map[string]any)["id"])

	rec, _ = serve(t, h, http.MethodGet, "/live/orders/o1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = serve(t, h, http.MethodDelete, "/sandbox/orders/o1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["data"].(map[string]any)["status"])

	rec, body = serve(t, h, http.MethodGet, "/sandbox/events?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["data"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "order.cancelled", events[0].(map[string]any)["type"])
}

func TestHandler_Webhooks(t *testing.T) {
	hs := newHarness(t)
	h := NewHandler(hs.facade, nil, nil)

	rec, body := serve(t, h, http.MethodPost, "/live/webhooks", WebhookRequest{
		URL:    "https://hooks.example.test",
		Events: []schema.Type{schema.TypeProductCreated},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := body["data"].(map[string]any)
	secret := created["secret"].(string)
	assert.NotEmpty(t, secret)
	assert.Equal(t, secret[len(secret)-4:], created["maskedSecret"].(string)[len(secret)-4:])

	rec, body = serve(t, h, http.MethodGet, "/live/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := body["data"].([]any)
	require.Len(t, listed, 1)
	_, hasSecret := listed[0].(map[string]any)["secret"]
	assert.False(t, hasSecret)

	_, err := hs.bus.Emit(context.Background(), schema.EnvironmentLive, schema.TypeProductCreated, schema.Payload{"sku": "A"})
	require.NoError(t, err)
	rec, body = serve(t, h, http.MethodGet, "/live/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 1)

	rec, _ = serve(t, h, http.MethodDelete, "/live/webhooks/"+created["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = serve(t, h, http.MethodDelete, "/live/webhooks/"+created["id"].(string), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BadRequests(t *testing.T) {
	hs := newHarness(t)
	h := NewHandler(hs.facade, nil, nil)

	rec, body := serve(t, h, http.MethodPost, "/staging/orders", OrderRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = serve(t, h, http.MethodPost, "/sandbox/webhooks", WebhookRequest{URL: "https://x.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/sandbox/events?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = serve(t, h, http.MethodGet, "/sandbox/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["data"])
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	hs := newHarness(t)
	metrics := telemetry.NewMetrics()
	h := NewHandler(hs.facade, metrics.Handler(), nil)

	rec, _ := serve(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
