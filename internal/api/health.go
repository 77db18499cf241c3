package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker pings a backing service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker reports whether a long-lived client is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	db        HealthChecker
	mqtt      ConnectionChecker
	media     string
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health endpoint. mqtt may be nil.
func NewHealthHandler(db HealthChecker, mqtt ConnectionChecker, mediaType, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		media:     mediaType,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.db.HealthCheck(ctx); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.media != "" {
		checks["media"] = h.media
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
