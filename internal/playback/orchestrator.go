// Package playback drives the media engine through one session at a time:
// select, start, wait for a terminal signal, record it, chain into the next item.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/media"
	"github.com/stwalsh4118/couchcast/internal/metrics"
	"github.com/stwalsh4118/couchcast/internal/models"
	"github.com/stwalsh4118/couchcast/internal/notify"
)

// Config holds orchestrator timing
type Config struct {
	PollInterval     time.Duration
	ReleaseDelay     time.Duration
	StallTicks       int // 0 disables stall detection
	BreakerThreshold int
	BreakerReset     time.Duration
	PanicBackoff     time.Duration
	EventBuffer      int
}

// DefaultConfig returns the orchestrator defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:     3 * time.Second,
		ReleaseDelay:     500 * time.Millisecond,
		StallTicks:       3,
		BreakerThreshold: 3,
		BreakerReset:     time.Minute,
		PanicBackoff:     5 * time.Second,
		EventBuffer:      16,
	}
}

// Picker chooses the next item to play
type Picker interface {
	Next(ctx context.Context) (*models.QueueItem, error)
}

// NowPlaying is the queue state with the item it points at
type NowPlaying struct {
	State *models.QueueState `json:"state"`
	Item  *models.QueueItem  `json:"item,omitempty"`
}

// session is the one item the engine is playing
type session struct {
	item      *models.QueueItem
	startedAt time.Time
}

// unsettled is a lifecycle write that failed after its session was dropped.
// It is retried before anything else starts.
type unsettled struct {
	itemID  uuid.UUID
	outcome *db.PlaybackOutcome // nil reverts a start the engine refused
}

// Orchestrator owns the engine and the playback lifecycle
type Orchestrator struct {
	repos    *db.Repositories
	picker   Picker
	engine   Engine
	notifier notify.Notifier
	cfg      Config
	breaker  *startBreaker
	validate func(path string) media.ValidationResult
	now      func() time.Time

	// guard serialises transitions; taken with TryLock so a second transition is dropped, not queued
	guard      sync.Mutex
	session    *session
	handled    uuid.UUID // last item a terminal transition was recorded for
	stallTicks int
	pending    *unsettled

	// current mirrors session for stamping engine events without taking guard
	current atomic.Pointer[uuid.UUID]
	events  chan Outcome
}

// NewOrchestrator creates an orchestrator and subscribes it to the engine
func NewOrchestrator(repos *db.Repositories, picker Picker, engine Engine, notifier notify.Notifier, cfg Config) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	o := &Orchestrator{
		repos:    repos,
		picker:   picker,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		breaker:  newStartBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		validate: media.ValidateFile,
		now:      time.Now,
		events:   make(chan Outcome, cfg.EventBuffer),
	}
	engine.Subscribe(engineListener{o: o})
	return o
}

// Run initializes the engine, recovers crashed state and then drives playback until ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize media engine: %w", err)
	}

	if err := o.Recover(ctx); err != nil {
		return err
	}

	defer func() {
		if err := o.engine.Stop(); err != nil {
			logger.Log.Warn().Err(err).Msg("Failed to stop media engine")
		}
		logger.Log.Info().Msg("Playback orchestrator stopped")
	}()

	logger.Log.Info().
		Dur("poll_interval", o.cfg.PollInterval).
		Int("stall_ticks", o.cfg.StallTicks).
		Msg("Playback orchestrator started")

	for {
		if err := o.loop(ctx); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.cfg.PanicBackoff):
		}
	}
}

// loop runs until ctx is done (nil) or a panic escapes an iteration (non-nil)
func (o *Orchestrator) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Interface("panic", r).
				Dur("backoff", o.cfg.PanicBackoff).
				Msg("Playback loop panicked, restarting")
			err = fmt.Errorf("playback loop panic: %v", r)
		}
	}()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.tick(ctx)
		case out := <-o.events:
			o.Complete(ctx, out)
		}
	}
}

// Recover resets an item left Playing by a crash and clears the queue state
func (o *Orchestrator) Recover(ctx context.Context) error {
	o.guard.Lock()
	defer o.guard.Unlock()

	reset, err := o.repos.Playback.Recover(ctx)
	if err != nil {
		return err
	}
	o.clearSession()
	o.handled = uuid.Nil
	o.pending = nil

	if reset > 0 {
		logger.Log.Warn().Int64("items", reset).Msg("Recovered items left playing by a previous run")
		o.notifier.QueueChanged()
	}
	return nil
}

// tick is the self-healing poll: start something when idle, detect a stalled engine otherwise
func (o *Orchestrator) tick(ctx context.Context) {
	if !o.guard.TryLock() {
		return
	}
	defer o.guard.Unlock()

	if o.session == nil {
		o.stallTicks = 0
		o.selectAndStartLocked(ctx)
		return
	}

	if o.cfg.StallTicks <= 0 || o.engine.IsPlaying() {
		o.stallTicks = 0
		return
	}

	o.stallTicks++
	if o.stallTicks < o.cfg.StallTicks {
		return
	}

	logger.Log.Warn().
		Str("item_id", o.session.item.ID.String()).
		Int("ticks", o.stallTicks).
		Msg("Engine stopped without reporting an outcome")
	o.completeLocked(ctx, Outcome{
		ItemID:  o.session.item.ID,
		Success: false,
		Reason:  ReasonStalled,
		Message: "engine stopped without reporting an outcome",
	})
}

// SelectAndStart starts the best ready item if nothing is playing and no transition is in flight
func (o *Orchestrator) SelectAndStart(ctx context.Context) {
	if !o.guard.TryLock() {
		return
	}
	defer o.guard.Unlock()
	o.selectAndStartLocked(ctx)
}

// selectAndStartLocked must be called with guard held
func (o *Orchestrator) selectAndStartLocked(ctx context.Context) {
	if o.session != nil || ctx.Err() != nil {
		return
	}
	if !o.settleLocked(ctx) {
		return
	}
	if !o.breaker.allow() {
		logger.Log.Debug().Msg("Engine start breaker open, not starting playback")
		return
	}

	item, err := o.picker.Next(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to pick next item")
		return
	}
	if item == nil {
		return
	}

	path := ""
	if item.FilePath != nil {
		path = *item.FilePath
	}
	if check := o.validate(path); !check.Readable {
		o.rejectItem(ctx, item, check.Summary())
		return
	}

	startedAt := o.now()
	if err := o.repos.Playback.Begin(ctx, item.ID, startedAt); err != nil {
		if db.IsConflict(err) {
			logger.Log.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Item changed before playback could begin")
		} else {
			logger.Log.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to begin playback")
		}
		return
	}

	o.session = &session{item: item, startedAt: startedAt}
	id := item.ID
	o.current.Store(&id)
	o.handled = uuid.Nil
	o.stallTicks = 0

	userName := ""
	if owner := item.Owner(); owner != nil {
		userName = owner.DisplayName
	}
	o.notifier.PlaybackStarted(item.ID, item.DisplayTitle(), userName)
	o.notifier.QueueChanged()

	if err := o.engine.Play(ctx, path); err != nil {
		o.abortStart(ctx, item, err)
		return
	}

	o.breaker.success()
	metrics.PlaybackStart("started")
	logger.Log.Info().
		Str("item_id", item.ID.String()).
		Str("title", item.DisplayTitle()).
		Str("user", userName).
		Int("priority", item.Priority).
		Msg("Playback started")
}

// rejectItem moves a selected item whose asset is unusable to Error
func (o *Orchestrator) rejectItem(ctx context.Context, item *models.QueueItem, reason string) {
	logger.Log.Warn().
		Str("item_id", item.ID.String()).
		Str("reason", reason).
		Msg("Selected item has no playable asset")

	moved, err := o.repos.Items.MarkFailed(ctx, item.ID, models.StatusReady, reason)
	if err != nil {
		logger.Log.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to mark item as errored")
		return
	}
	metrics.PlaybackStart("rejected")
	if moved {
		o.notifier.PlaybackFailed(item.ID, reason)
		o.notifier.QueueChanged()
	}
}

// abortStart undoes Begin after the engine refused to play
func (o *Orchestrator) abortStart(ctx context.Context, item *models.QueueItem, playErr error) {
	logger.Log.Error().
		Err(playErr).
		Str("item_id", item.ID.String()).
		Msg("Media engine failed to start playback")

	if err := o.repos.Playback.Abort(ctx, item.ID); err != nil {
		logger.Log.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to revert item after engine start failure")
		o.pending = &unsettled{itemID: item.ID}
	}
	o.clearSession()
	o.breaker.failure()
	metrics.PlaybackStart("failed")

	o.notifier.PlaybackFailed(item.ID, playErr.Error())
	o.notifier.QueueChanged()
}

// settleLocked retries a failed lifecycle write; nothing starts while one is outstanding.
// If the item moved on in the meantime the store is reset the way a restart would.
func (o *Orchestrator) settleLocked(ctx context.Context) bool {
	if o.pending == nil {
		return true
	}
	p := o.pending

	var err error
	if p.outcome != nil {
		err = o.repos.Playback.RecordOutcome(ctx, *p.outcome)
	} else {
		err = o.repos.Playback.Abort(ctx, p.itemID)
	}
	if err != nil && db.IsConflict(err) {
		logger.Log.Warn().Err(err).Str("item_id", p.itemID.String()).Msg("Unsettled item moved on, resetting playback state")
		_, err = o.repos.Playback.Recover(ctx)
	}
	if err != nil {
		logger.Log.Error().Err(err).Str("item_id", p.itemID.String()).Msg("Playback state still unsettled, not starting")
		return false
	}

	o.pending = nil
	if p.outcome != nil {
		metrics.PlaybackTransition("settled")
	}
	logger.Log.Info().Str("item_id", p.itemID.String()).Msg("Settled playback state after store failure")
	o.notifier.QueueChanged()
	return true
}

// Complete records a terminal outcome for the playing item and chains into the next one.
// It is a no-op for stale, duplicate or overlapping outcomes.
func (o *Orchestrator) Complete(ctx context.Context, out Outcome) {
	if !o.guard.TryLock() {
		metrics.PlaybackEventDropped("busy")
		logger.Log.Debug().
			Str("item_id", out.ItemID.String()).
			Str("reason", string(out.Reason)).
			Msg("Transition already in flight, dropping outcome")
		return
	}
	defer o.guard.Unlock()

	o.completeLocked(ctx, out)
}

// completeLocked must be called with guard held
func (o *Orchestrator) completeLocked(ctx context.Context, out Outcome) {
	if o.session == nil {
		metrics.PlaybackEventDropped("idle")
		logger.Log.Debug().Str("item_id", out.ItemID.String()).Msg("Outcome with nothing playing, dropping")
		return
	}

	item := o.session.item
	if out.ItemID != item.ID {
		metrics.PlaybackEventDropped("stale")
		logger.Log.Debug().
			Str("item_id", out.ItemID.String()).
			Str("playing", item.ID.String()).
			Msg("Outcome for a previous item, dropping")
		return
	}
	if o.handled == item.ID {
		metrics.PlaybackEventDropped("duplicate")
		logger.Log.Debug().Str("item_id", item.ID.String()).Msg("Outcome already handled, dropping")
		return
	}
	o.handled = item.ID

	record := db.PlaybackOutcome{
		ItemID:      item.ID,
		FinalStatus: finalStatus(item, out),
		Success:     out.Success,
		At:          o.now(),
	}
	if owner := item.Owner(); owner != nil {
		record.UserID = owner.ID
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "playback failed"
		}
		record.ErrorMessage = &msg
	}

	if err := o.repos.Playback.RecordOutcome(ctx, record); err != nil {
		logger.Log.Error().
			Err(err).
			Str("item_id", item.ID.String()).
			Str("reason", string(out.Reason)).
			Msg("Failed to record playback outcome")
		o.pending = &unsettled{itemID: item.ID, outcome: &record}
	} else {
		metrics.PlaybackTransition(string(out.Reason))
		logger.Log.Info().
			Str("item_id", item.ID.String()).
			Str("reason", string(out.Reason)).
			Str("status", record.FinalStatus.String()).
			Dur("played_for", record.At.Sub(o.session.startedAt)).
			Msg("Playback finished")
	}

	if out.Success {
		o.notifier.PlaybackEnded(item.ID)
	} else {
		o.notifier.PlaybackFailed(item.ID, *record.ErrorMessage)
	}
	o.notifier.QueueChanged()
	o.clearSession()

	// Give the engine time to release the previous session
	if o.cfg.ReleaseDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.ReleaseDelay):
		}
	}
	o.selectAndStartLocked(ctx)
}

// Skip asks the engine to end the current item; the outcome arrives as a skipped event
func (o *Orchestrator) Skip(_ context.Context) error {
	current := o.current.Load()
	if current == nil {
		return ErrNothingPlaying
	}

	if err := o.engine.Skip(); err != nil {
		logger.Log.Warn().Err(err).Str("item_id", current.String()).Msg("Engine skip failed, completing directly")
		o.enqueue(Outcome{Success: true, Reason: ReasonSkipped})
	}
	return nil
}

// Status returns the queue state and the item it points at
func (o *Orchestrator) Status(ctx context.Context) (*NowPlaying, error) {
	state, err := o.repos.QueueState.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := &NowPlaying{State: state}
	if state.CurrentItemID != nil {
		item, err := o.repos.Items.GetByID(ctx, *state.CurrentItemID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		now.Item = item
	}
	return now, nil
}

// CurrentItemID returns the item on screen, if any
func (o *Orchestrator) CurrentItemID() *uuid.UUID {
	return o.current.Load()
}

func (o *Orchestrator) clearSession() {
	o.session = nil
	o.current.Store(nil)
	o.stallTicks = 0
}

// finalStatus maps an outcome to the item's next status
func finalStatus(item *models.QueueItem, out Outcome) models.ItemStatus {
	if !out.Success {
		return models.StatusError
	}
	if item.Playlist != nil && !item.Playlist.RemoveAfterPlaying {
		return models.StatusReady
	}
	return models.StatusPlayed
}
