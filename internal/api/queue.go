package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/models"
	"github.com/stwalsh4118/couchcast/internal/playback"
	"github.com/stwalsh4118/couchcast/internal/queue"
)

// maxPreviewLimit caps the upcoming preview regardless of the query
const maxPreviewLimit = 100

// playbackController is what the handler needs from the orchestrator
type playbackController interface {
	Status(ctx context.Context) (*playback.NowPlaying, error)
	Skip(ctx context.Context) error
}

// upcomingLister previews the schedule
type upcomingLister interface {
	Upcoming(ctx context.Context, limit int) ([]*models.QueueItem, error)
}

// queueService is what the handler needs from the queue service
type queueService interface {
	Submit(ctx context.Context, playlistID uuid.UUID, url string, priority int) (*models.QueueItem, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)
}

// Request/Response DTOs

// SubmitItemRequest represents a request to queue a URL
type SubmitItemRequest struct {
	URL      string `json:"url" binding:"required"`
	Priority *int   `json:"priority,omitempty"`
}

// ItemResponse represents a queue item in API responses
type ItemResponse struct {
	ID           string     `json:"id"`
	PlaylistID   string     `json:"playlist_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	ThumbnailURL *string    `json:"thumbnail_url,omitempty"`
	Duration     *int64     `json:"duration,omitempty"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	User         string     `json:"user,omitempty"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NowPlayingResponse represents the playback state
type NowPlayingResponse struct {
	Status    string        `json:"status"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Item      *ItemResponse `json:"item,omitempty"`
}

// UpcomingResponse represents the schedule preview
type UpcomingResponse struct {
	Items []*ItemResponse `json:"items"`
}

// QueueHandler handles queue and playback API requests
type QueueHandler struct {
	playback     playbackController
	upcoming     upcomingLister
	queue        queueService
	previewLimit int
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(pb playbackController, upcoming upcomingLister, svc queueService, previewLimit int) *QueueHandler {
	if previewLimit < 1 {
		previewLimit = 10
	}
	return &QueueHandler{
		playback:     pb,
		upcoming:     upcoming,
		queue:        svc,
		previewLimit: previewLimit,
	}
}

func toItemResponse(item *models.QueueItem) *ItemResponse {
	resp := &ItemResponse{
		ID:           item.ID.String(),
		PlaylistID:   item.PlaylistID.String(),
		URL:          item.URL,
		Title:        item.DisplayTitle(),
		ThumbnailURL: item.ThumbnailURL,
		Duration:     item.Duration,
		Priority:     item.Priority,
		Status:       item.Status.String(),
		ErrorMessage: item.ErrorMessage,
		DownloadedAt: item.DownloadedAt,
		CreatedAt:    item.CreatedAt,
	}
	if owner := item.Owner(); owner != nil {
		resp.User = owner.DisplayName
	}
	return resp
}

// NowPlaying handles GET /queue/now
func (h *QueueHandler) NowPlaying(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	now, err := h.playback.Status(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to read playback state")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to read playback state",
		})
		return
	}

	resp := NowPlayingResponse{
		Status:    now.State.Status.String(),
		StartedAt: now.State.StartedAt,
	}
	if now.Item != nil {
		resp.Item = toItemResponse(now.Item)
	}
	c.JSON(http.StatusOK, resp)
}

// Upcoming handles GET /queue/upcoming
func (h *QueueHandler) Upcoming(c *gin.Context) {
	limit := h.previewLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxPreviewLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	items, err := h.upcoming.Upcoming(ctx, limit)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to preview schedule")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to preview schedule",
		})
		return
	}

	resp := UpcomingResponse{Items: make([]*ItemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toItemResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

// Skip handles POST /playback/skip
func (h *QueueHandler) Skip(c *gin.Context) {
	if err := h.playback.Skip(c.Request.Context()); err != nil {
		if playback.IsNothingPlaying(err) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "nothing_playing",
				Message: "Nothing is playing",
			})
			return
		}
		logger.Log.Error().Err(err).Msg("Failed to skip")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to skip",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "skipping"})
}

// SubmitItem handles POST /playlists/:id/items
func (h *QueueHandler) SubmitItem(c *gin.Context) {
	playlistID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid playlist ID format",
		})
		return
	}

	var req SubmitItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	priority := models.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	item, err := h.queue.Submit(ctx, playlistID, req.URL, priority)
	if err != nil {
		switch {
		case queue.IsInvalidURL(err), queue.IsInvalidPriority(err):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
			})
		case queue.IsPlaylistNotFound(err):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Playlist not found",
			})
		default:
			logger.Log.Error().Err(err).Str("playlist_id", playlistID.String()).Msg("Failed to submit item")
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to submit item",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, toItemResponse(item))
}

// RequeueItem handles POST /items/:id/requeue
func (h *QueueHandler) RequeueItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid item ID format",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	item, err := h.queue.Requeue(ctx, id)
	if err != nil {
		switch {
		case queue.IsItemNotFound(err):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Item not found",
			})
		case queue.IsNotRequeueable(err):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "not_requeueable",
				Message: err.Error(),
			})
		default:
			logger.Log.Error().Err(err).Str("item_id", id.String()).Msg("Failed to requeue item")
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "Failed to requeue item",
			})
		}
		return
	}

	c.JSON(http.StatusOK, toItemResponse(item))
}

// SetupQueueRoutes registers queue and playback routes.
// skipLimit guards the skip endpoint and may be nil.
func SetupQueueRoutes(apiGroup *gin.RouterGroup, handler *QueueHandler, skipLimit gin.HandlerFunc) {
	apiGroup.GET("/queue/now", handler.NowPlaying)
	apiGroup.GET("/queue/upcoming", handler.Upcoming)

	skip := []gin.HandlerFunc{handler.Skip}
	if skipLimit != nil {
		skip = append([]gin.HandlerFunc{skipLimit}, skip...)
	}
	apiGroup.POST("/playback/skip", skip...)

	apiGroup.POST("/playlists/:id/items", handler.SubmitItem)
	apiGroup.POST("/items/:id/requeue", handler.RequeueItem)
}
