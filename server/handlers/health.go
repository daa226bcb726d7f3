package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthHandler struct {
	dbPing       func(context.Context) error
	redisPing    func(context.Context) error
	identityPing func(context.Context) error
	wsStats      func() any
}

type HealthHandlerConfig struct {
	DBPing       func(context.Context) error
	RedisPing    func(context.Context) error
	IdentityPing func(context.Context) error
	WSStats      func() any
}

func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	return &HealthHandler{
		dbPing:       cfg.DBPing,
		redisPing:    cfg.RedisPing,
		identityPing: cfg.IdentityPing,
		wsStats:      cfg.WSStats,
	}
}

// HealthStatus is the overall health response.
type HealthStatus struct {
	Status     string               `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time            `json:"timestamp"`
	Components map[string]Component `json:"components"`
}

type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// Health handles GET /health. The database is the only critical dependency;
// Redis and the identity provider only degrade the status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := HealthStatus{
		Timestamp:  time.Now().UTC(),
		Status:     "healthy",
		Components: make(map[string]Component),
	}

	check := func(name string, ping func(context.Context) error, critical bool) {
		if ping == nil {
			return
		}
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			status.Components[name] = Component{Status: "unhealthy", Message: err.Error(), Latency: latency}
			if critical {
				status.Status = "unhealthy"
			} else if status.Status == "healthy" {
				status.Status = "degraded"
			}
			return
		}
		status.Components[name] = Component{Status: "healthy", Latency: latency}
	}

	check("database", h.dbPing, true)
	check("redis", h.redisPing, false)
	check("identity", h.identityPing, false)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(status)
}

// Readiness handles GET /health/ready for load balancers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.dbPing != nil {
		if err := h.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Liveness handles GET /health/live.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

// WebSocket handles GET /health/websocket with fanout plane counters.
func (h *HealthHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	var stats any
	if h.wsStats != nil {
		stats = h.wsStats()
	}
	respondJSON(w, map[string]any{"status": "ok", "websocket": stats}, http.StatusOK)
}
