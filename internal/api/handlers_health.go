// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/docstore"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	store   docstore.Store
	queue   QueueStats
	staging StagingStats
}

// NewHealthHandler creates a new health handler. queue and staging may be nil.
func NewHealthHandler(version string, store docstore.Store, queue QueueStats, staging StagingStats) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		store:   store,
		queue:   queue,
		staging: staging,
	}
}

// HandleHealth returns server health status; 503 when the store is unreachable
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		storeStatus = err.Error()
	}

	body := map[string]interface{}{
		"status":  status,
		"version": h.version,
		"store":   storeStatus,
	}
	if h.queue != nil {
		body["queue"] = h.queue.Stats()
	}
	if h.staging != nil {
		body["staged_files"] = h.staging.Pending()
	}
	return c.JSON(code, body)
}
