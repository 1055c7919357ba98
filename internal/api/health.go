package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/models"
)

// HealthResponse represents the response from the health check endpoint
type HealthResponse struct {
	Status    string                 `json:"status"`
	Database  string                 `json:"database"`
	Playback  models.PlaybackStatus  `json:"playback,omitempty"`
	Downloads int                    `json:"downloads_in_flight"`
	Queue     map[string]int64       `json:"queue,omitempty"`
	Time      string                 `json:"time"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type inFlightCounter interface {
	InFlight() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db        *db.DB
	repos     *db.Repositories
	downloads inFlightCounter
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(database *db.DB, repos *db.Repositories, downloads inFlightCounter) *HealthHandler {
	return &HealthHandler{db: database, repos: repos, downloads: downloads}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Details: make(map[string]interface{}),
	}
	if h.downloads != nil {
		response.Downloads = h.downloads.InFlight()
	}

	if err := h.db.Health(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unhealthy"
		response.Details["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "healthy"

	if state, err := h.repos.QueueState.Get(ctx); err == nil {
		response.Playback = state.Status
	} else {
		response.Details["playback_error"] = err.Error()
	}

	response.Queue = make(map[string]int64)
	for _, status := range []models.ItemStatus{models.StatusPending, models.StatusDownloading, models.StatusReady, models.StatusError} {
		count, err := h.repos.Items.CountByStatus(ctx, status)
		if err != nil {
			response.Details["queue_error"] = err.Error()
			break
		}
		response.Queue[string(status)] = count
	}

	c.JSON(http.StatusOK, response)
}

// SetupHealthRoutes registers health check routes
func SetupHealthRoutes(apiGroup *gin.RouterGroup, handler *HealthHandler) {
	apiGroup.GET("/health", handler.Check)
}
