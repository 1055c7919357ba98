package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueStateID is the primary key of the singleton queue state row
const QueueStateID = 1

// QueueState records what is on screen right now
// Singleton table, only the orchestrator writes it
type QueueState struct {
	ID            int            `json:"-" gorm:"type:integer;primaryKey;default:1;column:id"`
	CurrentItemID *uuid.UUID     `json:"current_item_id,omitempty" gorm:"type:text;column:current_item_id"`
	StartedAt     *time.Time     `json:"started_at,omitempty" gorm:"type:datetime;column:started_at"`
	Status        PlaybackStatus `json:"status" gorm:"type:text;not null;default:idle;column:status"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:updated_at"`
}

// TableName pins the table name used by the migrations
func (QueueState) TableName() string {
	return "queue_state"
}

// IdleQueueState returns the queue state with nothing playing
func IdleQueueState() *QueueState {
	return &QueueState{
		ID:        QueueStateID,
		Status:    PlaybackIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// PlaybackHistory is an append-only record of one terminal transition
type PlaybackHistory struct {
	ID           uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	ItemID       uuid.UUID `json:"item_id" gorm:"type:text;not null;index;column:item_id"`
	UserID       uuid.UUID `json:"user_id" gorm:"type:text;not null;column:user_id"`
	PlayedAt     time.Time `json:"played_at" gorm:"type:datetime;not null;column:played_at"`
	Success      bool      `json:"success" gorm:"type:integer;not null;column:success"`
	ErrorMessage *string   `json:"error_message,omitempty" gorm:"type:text;column:error_message"`
}

// TableName pins the table name used by the migrations
func (PlaybackHistory) TableName() string {
	return "playback_history"
}

// NewPlaybackHistory creates a history entry with generated UUID
func NewPlaybackHistory(itemID, userID uuid.UUID, playedAt time.Time, success bool, errMsg *string) *PlaybackHistory {
	return &PlaybackHistory{
		ID:           uuid.New(),
		ItemID:       itemID,
		UserID:       userID,
		PlayedAt:     playedAt.UTC(),
		Success:      success,
		ErrorMessage: errMsg,
	}
}
