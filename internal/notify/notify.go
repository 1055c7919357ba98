// Package notify pushes playback and download events to observers.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notifier receives fire-and-forget lifecycle events. Implementations must not block.
type Notifier interface {
	PlaybackStarted(itemID uuid.UUID, title, userDisplayName string)
	PlaybackEnded(itemID uuid.UUID)
	PlaybackFailed(itemID uuid.UUID, message string)
	QueueChanged()
	DownloadStarted(itemID uuid.UUID)
	DownloadCompleted(itemID uuid.UUID)
	DownloadFailed(itemID uuid.UUID, message string)
}

// EventType identifies a notification on the wire
type EventType string

// Event types
const (
	EventPlaybackStarted   EventType = "playback_started"
	EventPlaybackEnded     EventType = "playback_ended"
	EventPlaybackFailed    EventType = "playback_failed"
	EventQueueChanged      EventType = "queue_changed"
	EventDownloadStarted   EventType = "download_started"
	EventDownloadCompleted EventType = "download_completed"
	EventDownloadFailed    EventType = "download_failed"
)

// Event is the JSON message sent to websocket clients
type Event struct {
	Type      EventType  `json:"type"`
	ItemID    *uuid.UUID `json:"item_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	User      string     `json:"user,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

func newEvent(t EventType, itemID *uuid.UUID) Event {
	return Event{Type: t, ItemID: itemID, Timestamp: time.Now().UnixMilli()}
}

// Nop discards every event
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) PlaybackStarted(uuid.UUID, string, string) {}
func (Nop) PlaybackEnded(uuid.UUID) {}
func (Nop) PlaybackFailed(uuid.UUID, string) {}
func (Nop) QueueChanged() {}
func (Nop) DownloadStarted(uuid.UUID) {}
func (Nop) DownloadCompleted(uuid.UUID) {}
func (Nop) DownloadFailed(uuid.UUID, string) {}
