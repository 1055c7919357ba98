package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/models"
	"gorm.io/gorm"
)

// PlaybackOutcome is everything persisted when an item leaves Playing
type PlaybackOutcome struct {
	ItemID       uuid.UUID
	UserID       uuid.UUID
	FinalStatus  models.ItemStatus // Played, Ready or Error
	Success      bool
	ErrorMessage *string
	At           time.Time
}

// PlaybackRepository owns the multi-row writes of the playback lifecycle.
// Each method is one transaction so the item status, queue state and history never disagree.
type PlaybackRepository struct {
	db *DB
}

// NewPlaybackRepository creates a new playback repository
func NewPlaybackRepository(db *DB) *PlaybackRepository {
	return &PlaybackRepository{db: db}
}

// Recover resets anything a previous run left Playing and clears the queue state.
// Returns how many items were reset.
func (r *PlaybackRepository) Recover(ctx context.Context) (int64, error) {
	var reset int64
	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.QueueItem{}).
			Where("status = ?", models.StatusPlaying).
			Updates(map[string]interface{}{
				"status":     models.StatusReady,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return MapGormError(result.Error)
		}
		reset = result.RowsAffected

		return saveState(tx, models.IdleQueueState())
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover playback state: %w", err)
	}
	return reset, nil
}

// Begin moves a ready item to playing and points the queue state at it.
// Returns ErrConflict if the item is no longer ready or another item is already playing.
func (r *PlaybackRepository) Begin(ctx context.Context, itemID uuid.UUID, startedAt time.Time) error {
	return r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var playing int64
		if err := tx.Model(&models.QueueItem{}).
			Where("status = ? AND id <> ?", models.StatusPlaying, itemID.String()).
			Count(&playing).Error; err != nil {
			return MapGormError(err)
		}
		if playing > 0 {
			return fmt.Errorf("%w: another item is playing", ErrConflict)
		}

		moved, err := transitionItem(tx, itemID, models.StatusReady, models.StatusPlaying, nil)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: item %s is not ready", ErrConflict, itemID)
		}

		at := startedAt.UTC()
		return saveState(tx, &models.QueueState{
			ID:            models.QueueStateID,
			CurrentItemID: &itemID,
			StartedAt:     &at,
			Status:        models.PlaybackPlaying,
			UpdatedAt:     time.Now().UTC(),
		})
	})
}

// Abort undoes Begin after the engine refused to start
func (r *PlaybackRepository) Abort(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := transitionItem(tx, itemID, models.StatusPlaying, models.StatusReady, nil); err != nil {
			return err
		}
		return saveState(tx, models.IdleQueueState())
	})
}

// RecordOutcome appends the history row, finalizes the item, stamps the user and idles the queue state
func (r *PlaybackRepository) RecordOutcome(ctx context.Context, outcome PlaybackOutcome) error {
	at := outcome.At.UTC()

	return r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		entry := models.NewPlaybackHistory(outcome.ItemID, outcome.UserID, at, outcome.Success, outcome.ErrorMessage)
		if err := tx.Create(entry).Error; err != nil {
			return MapGormError(err)
		}

		var extra map[string]interface{}
		if outcome.FinalStatus == models.StatusError {
			extra = map[string]interface{}{"error_message": outcome.ErrorMessage}
		}
		moved, err := transitionItem(tx, outcome.ItemID, models.StatusPlaying, outcome.FinalStatus, extra)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: item %s is not playing", ErrConflict, outcome.ItemID)
		}

		if outcome.UserID != uuid.Nil {
			if err := tx.Model(&models.User{}).
				Where("id = ?", outcome.UserID.String()).
				Update("last_played_at", at).Error; err != nil {
				return MapGormError(err)
			}
		}

		return saveState(tx, models.IdleQueueState())
	})
}

// saveState upserts the singleton queue state row, writing nil columns too
func saveState(tx *gorm.DB, state *models.QueueState) error {
	if err := tx.Save(state).Error; err != nil {
		return MapGormError(err)
	}
	return nil
}
