package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Storage is what the health endpoints need from the store.
type Storage interface {
	Ping(ctx context.Context) error
	Transactional() bool
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store     Storage
	version   string
	startTime time.Time

	// Optional extras reported by Readiness.
	Limiter     func() string
	Subscribers func() int
}

func NewHealthHandler(store Storage, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		version:   version,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness fails only when storage is unreachable. A store running
// without transactions is ready but reported as compensating.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"storage": "healthy"}
	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	code := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		checks["storage"] = "unhealthy: " + err.Error()
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if h.store.Transactional() {
		checks["units_of_work"] = "transactional"
	} else {
		checks["units_of_work"] = "compensating"
	}
	if h.Limiter != nil {
		checks["rate_limiter"] = h.Limiter()
	}
	if h.Subscribers != nil {
		checks["stock_subscribers"] = strconv.Itoa(h.Subscribers())
	}

	c.JSON(code, resp)
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "storage unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}
