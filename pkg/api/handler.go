package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/psantana5/workgate/pkg/auth"
	"github.com/psantana5/workgate/pkg/logging"
	"github.com/psantana5/workgate/pkg/metrics"
	"github.com/psantana5/workgate/pkg/models"
	"github.com/psantana5/workgate/pkg/ratelimit"
	"github.com/psantana5/workgate/pkg/timed"
	"github.com/psantana5/workgate/pkg/tracing"
)

// RequestIDHeader carries the per-request id in both directions
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// Handler serves the timed operation over HTTP
type Handler struct {
	op        *timed.Operation
	logger    *logging.Logger
	startTime time.Time
}

// NewHandler creates a handler around op
func NewHandler(op *timed.Operation, logger *logging.Logger) *Handler {
	return &Handler{
		op:        op,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Middleware is the optional middleware wired in front of the routes.
// Nil members are skipped.
type Middleware struct {
	Tracing *tracing.Provider
	Metrics *metrics.Collector
	Limiter *ratelimit.Limiter
	Auth    *auth.APIKeyAuth

	// LimitKey picks the rate-limit bucket; nil means ratelimit.IPKeyFunc
	LimitKey func(*http.Request) string
}

// Router builds a router with every route and the given middleware
func (h *Handler) Router(mw Middleware) *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestID)
	if mw.Tracing != nil {
		r.Use(tracing.HTTPMiddleware(mw.Tracing))
	}
	if mw.Metrics != nil {
		r.Use(mw.Metrics.Middleware)
	}
	if mw.Limiter != nil && mw.Limiter.Enabled() {
		key := mw.LimitKey
		if key == nil {
			key = ratelimit.IPKeyFunc
		}
		r.Use(mw.Limiter.Middleware(key))
	}
	if mw.Auth != nil {
		r.Use(mw.Auth.Middleware)
	}

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/test", h.Test).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Test runs the timed operation once and returns {"elapsed": seconds}
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("request_id", RequestIDFromContext(r.Context()))

	result, err := h.op.Run(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The client is most likely gone; the write below is best effort
			logger.Warn("Caller stopped waiting for the gate", map[string]interface{}{
				"waited": result.Elapsed,
			})
			h.writeError(w, r, http.StatusServiceUnavailable, "request cancelled while waiting")
			return
		}

		logger.Error("Timed operation failed", map[string]interface{}{
			"error":   err.Error(),
			"elapsed": result.Elapsed,
		})
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Debug("Timed operation completed", map[string]interface{}{
		"elapsed": result.Elapsed,
	})
	writeJSON(w, http.StatusOK, result)
}

// Health reports liveness and the gate state
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	g := h.op.Gate()
	writeJSON(w, http.StatusOK, models.Health{
		Status:  "healthy",
		Held:    g.Held(),
		Waiting: g.Waiting(),
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:     message,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequestID reuses a well-formed incoming X-Request-ID or assigns a new one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id set by RequestID, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
