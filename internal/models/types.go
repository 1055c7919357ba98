package models

// Priority bounds for queue items
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// ItemStatus represents where a queue item is in its lifecycle
type ItemStatus string

// Queue item status constants
const (
	StatusPending     ItemStatus = "pending"     // Submitted, waiting for a download slot
	StatusDownloading ItemStatus = "downloading" // Claimed by a download worker
	StatusReady       ItemStatus = "ready"       // Asset on disk, eligible for scheduling
	StatusPlaying     ItemStatus = "playing"     // Currently on screen
	StatusPlayed      ItemStatus = "played"      // Retired after a successful play
	StatusError       ItemStatus = "error"       // Download or playback failed
)

// String returns the string representation of the status
func (s ItemStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value
func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusReady, StatusPlaying, StatusPlayed, StatusError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the item is still on its way to becoming playable
func (s ItemStatus) IsActive() bool {
	return s == StatusPending || s == StatusDownloading
}

// CanTransitionTo checks if moving from s to next is an edge of the item lifecycle
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading
	case StatusDownloading:
		return next == StatusReady || next == StatusError
	case StatusReady:
		// Error when the asset has vanished by the time the item is selected
		return next == StatusPlaying || next == StatusError
	case StatusPlaying:
		// Ready when the owning playlist recycles played items
		return next == StatusPlayed || next == StatusReady || next == StatusError
	case StatusError:
		// Manual requeue, only valid while the asset is still on disk
		return next == StatusReady
	default:
		return false
	}
}

// PlaybackStatus is the overall state of the output device
type PlaybackStatus string

// Playback status constants
const (
	PlaybackIdle    PlaybackStatus = "idle"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
	PlaybackError   PlaybackStatus = "error"
)

// String returns the string representation of the playback status
func (s PlaybackStatus) String() string {
	return string(s)
}
