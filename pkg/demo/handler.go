package demo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-notifier/pkg/bus"
	"github.com/zoff-tech/go-notifier/pkg/store"
	"github.com/zoff-tech/go-notifier/schema"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WebhookView hides the secret behind its masked form. Secret is only filled in
// the response to registration.
type WebhookView struct {
	schema.WebhookSubscription
	Secret       string `json:"secret,omitempty"`
	MaskedSecret string `json:"maskedSecret"`
}

func newWebhookView(w schema.WebhookSubscription, reveal bool) WebhookView {
	view := WebhookView{WebhookSubscription: w, MaskedSecret: w.MaskedSecret()}
	if reveal {
		view.Secret = w.Secret
	}
	return view
}

type handler struct {
	facade *Facade
	logger *zap.Logger
}

// NewHandler exposes the facade over HTTP. metrics may be nil.
func NewHandler(facade *Facade, metrics http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{facade: facade, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("POST /{env}/orders", h.withEnv(h.handlePlaceOrder))
	mux.HandleFunc("GET /{env}/orders/{id}", h.withEnv(h.handleGetOrder))
	mux.HandleFunc("DELETE /{env}/orders/{id}", h.withEnv(h.handleCancelOrder))
	mux.HandleFunc("POST /{env}/webhooks", h.withEnv(h.handleRegisterWebhook))
	mux.HandleFunc("GET /{env}/webhooks", h.withEnv(h.handleListWebhooks))
	mux.HandleFunc("DELETE /{env}/webhooks/{id}", h.withEnv(h.handleDeleteWebhook))
	mux.HandleFunc("GET /{env}/events", h.withEnv(h.handleEvents))
	mux.HandleFunc("GET /{env}/deliveries", h.withEnv(h.handleDeliveries))

	return h.logRequests(mux)
}

type envHandlerFunc func(w http.ResponseWriter, r *http.Request, env schema.Environment)

func (h *handler) withEnv(next envHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := schema.ParseEnvironment(r.PathValue("env"))
		if err != nil {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		next(w, r, env)
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: "ok"})
}

func (h *handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := h.facade.PlaceOrder(r.Context(), env, req)
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: order})
}

func (h *handler) handleGetOrder(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	order, err := h.facade.Order(r.Context(), env, r.PathValue("id"))
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: order})
}

func (h *handler) handleCancelOrder(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	order, err := h.facade.CancelOrder(r.Context(), env, r.PathValue("id"))
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: order})
}

func (h *handler) handleRegisterWebhook(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	webhook, err := h.facade.RegisterWebhook(r.Context(), env, req)
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: newWebhookView(webhook, true)})
}

func (h *handler) handleListWebhooks(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	webhooks, err := h.facade.Webhooks(r.Context(), env)
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	views := make([]WebhookView, 0, len(webhooks))
	for _, webhook := range webhooks {
		views = append(views, newWebhookView(webhook, false))
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: views})
}

func (h *handler) handleDeleteWebhook(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	if err := h.facade.DeleteWebhook(r.Context(), env, r.PathValue("id")); err != nil {
		h.writeFacadeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := h.facade.Events(r.Context(), env, limit)
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	if events == nil {
		events = []schema.Event{}
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: events})
}

func (h *handler) handleDeliveries(w http.ResponseWriter, r *http.Request, env schema.Environment) {
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	attempts, err := h.facade.Deliveries(r.Context(), env, limit)
	if err != nil {
		h.writeFacadeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []schema.DeliveryAttempt{}
	}
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: attempts})
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

func (h *handler) writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bus.ErrUnknownEventType),
		errors.Is(err, bus.ErrUnknownEnvironment):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrAlreadyDelivered),
		errors.Is(err, ErrOrderExists):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{Success: false, Error: err.Error()})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
