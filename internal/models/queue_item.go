package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueItem represents a submitted video and its lifecycle
type QueueItem struct {
	ID           uuid.UUID  `json:"id" gorm:"type:text;primaryKey;column:id"`
	PlaylistID   uuid.UUID  `json:"playlist_id" gorm:"type:text;not null;column:playlist_id" validate:"required"`
	URL          string     `json:"url" gorm:"type:text;not null;column:url" validate:"required,url"`
	Title        *string    `json:"title,omitempty" gorm:"type:text;column:title"`
	ThumbnailURL *string    `json:"thumbnail_url,omitempty" gorm:"type:text;column:thumbnail_url"`
	Duration     *int64     `json:"duration,omitempty" gorm:"type:integer;column:duration"` // seconds
	Priority     int        `json:"priority" gorm:"type:integer;not null;default:5;column:priority" validate:"gte=1,lte=10"`
	Status       ItemStatus `json:"status" gorm:"type:text;not null;default:pending;column:status"`
	FilePath     *string    `json:"file_path,omitempty" gorm:"type:text;column:file_path"`
	ErrorMessage *string    `json:"error_message,omitempty" gorm:"type:text;column:error_message"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty" gorm:"type:datetime;column:downloaded_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:created_at"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:updated_at"`

	// Loaded with Preload("Playlist.User"), never written through the item
	Playlist *Playlist `json:"playlist,omitempty" gorm:"foreignKey:PlaylistID;references:ID"`
}

// TableName pins the table name used by the migrations
func (QueueItem) TableName() string {
	return "queue_items"
}

// NewQueueItem creates a pending QueueItem with generated UUID and timestamps
func NewQueueItem(playlistID uuid.UUID, url string, priority int) *QueueItem {
	now := time.Now().UTC()
	return &QueueItem{
		ID:         uuid.New(),
		PlaylistID: playlistID,
		URL:        url,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DisplayTitle returns the extracted title, falling back to the source URL
func (i *QueueItem) DisplayTitle() string {
	if i.Title != nil && *i.Title != "" {
		return *i.Title
	}
	return i.URL
}

// Owner returns the user the item was submitted for, if the playlist was preloaded
func (i *QueueItem) Owner() *User {
	if i.Playlist == nil {
		return nil
	}
	return i.Playlist.User
}
