package playback

import (
	"context"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/metrics"
)

// Listener receives the engine's asynchronous signals
type Listener interface {
	OnEnded()
	OnSkipped()
	OnError(message string)
}

// Engine is the single media engine the orchestrator owns
type Engine interface {
	Initialize(ctx context.Context) error
	Play(ctx context.Context, path string) error
	Stop() error
	Skip() error
	IsPlaying() bool
	Subscribe(l Listener)
}

// Reason is why a session ended
type Reason string

// Terminal causes
const (
	ReasonEnded   Reason = "ended"
	ReasonSkipped Reason = "skipped"
	ReasonError   Reason = "error"
	ReasonStalled Reason = "stalled"
)

// Outcome is one terminal signal for a specific item
type Outcome struct {
	ItemID  uuid.UUID
	Success bool
	Reason  Reason
	Message string
}

// engineListener turns engine callbacks into stamped events on the control channel.
// It never runs orchestrator logic on the engine's goroutine.
type engineListener struct {
	o *Orchestrator
}

func (l engineListener) OnEnded() {
	l.o.enqueue(Outcome{Success: true, Reason: ReasonEnded})
}

func (l engineListener) OnSkipped() {
	l.o.enqueue(Outcome{Success: true, Reason: ReasonSkipped})
}

func (l engineListener) OnError(message string) {
	l.o.enqueue(Outcome{Success: false, Reason: ReasonError, Message: message})
}

// enqueue stamps the outcome with the item on screen and hands it to the loop
func (o *Orchestrator) enqueue(out Outcome) {
	current := o.current.Load()
	if current == nil {
		metrics.PlaybackEventDropped("idle")
		logger.Log.Debug().Str("reason", string(out.Reason)).Msg("Engine event with nothing playing, dropping")
		return
	}
	out.ItemID = *current

	select {
	case o.events <- out:
	default:
		metrics.PlaybackEventDropped("overflow")
		logger.Log.Warn().
			Str("item_id", out.ItemID.String()).
			Str("reason", string(out.Reason)).
			Msg("Playback control channel full, dropping engine event")
	}
}
