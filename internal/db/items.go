package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/models"
	"gorm.io/gorm"
)

// ItemRepository handles database operations for queue items
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new queue item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// ReadySnapshot is a consistent view of everything the scheduler scores
type ReadySnapshot struct {
	Items []*models.QueueItem
	// Latest play per item, only for plays at or after the snapshot's since bound
	ItemLastPlayed map[uuid.UUID]time.Time
}

// Create inserts a new queue item into the database
func (r *ItemRepository) Create(ctx context.Context, item *models.QueueItem) error {
	result := r.db.WithContext(ctx).Create(item)
	if result.Error != nil {
		return fmt.Errorf("failed to create queue item: %w", MapGormError(result.Error))
	}
	return nil
}

// GetByID retrieves a queue item with its playlist and user
func (r *ItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	var item models.QueueItem
	result := r.db.WithContext(ctx).
		Preload("Playlist.User").
		Where("id = ?", id.String()).
		First(&item)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &item, nil
}

// ListByStatus retrieves items in the given status, oldest first
func (r *ItemRepository) ListByStatus(ctx context.Context, status models.ItemStatus, limit int) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	result := query.Find(&items)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", status, MapGormError(result.Error))
	}
	return items, nil
}

// ListActive retrieves pending and downloading items in arrival order
func (r *ItemRepository) ListActive(ctx context.Context) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	result := r.db.WithContext(ctx).
		Preload("Playlist.User").
		Where("status IN ?", []models.ItemStatus{models.StatusPending, models.StatusDownloading}).
		Order("created_at ASC, id ASC").
		Find(&items)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active items: %w", MapGormError(result.Error))
	}
	return items, nil
}

// CountByStatus returns how many items are in the given status
func (r *ItemRepository) CountByStatus(ctx context.Context, status models.ItemStatus) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.QueueItem{}).Where("status = ?", status).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count %s items: %w", status, MapGormError(result.Error))
	}
	return count, nil
}

// ReadySnapshot reads the ready items and their recent play history in one transaction.
// History older than since cannot affect a score and is not read.
func (r *ItemRepository) ReadySnapshot(ctx context.Context, since time.Time) (*ReadySnapshot, error) {
	snapshot := &ReadySnapshot{ItemLastPlayed: make(map[uuid.UUID]time.Time)}

	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Preload("Playlist.User").
			Where("status = ?", models.StatusReady).
			Order("created_at ASC, id ASC").
			Find(&snapshot.Items).Error; err != nil {
			return MapGormError(err)
		}

		var plays []models.PlaybackHistory
		if err := tx.Select("item_id", "played_at").
			Where("played_at >= ?", since.UTC()).
			Find(&plays).Error; err != nil {
			return MapGormError(err)
		}
		for _, p := range plays {
			if last, ok := snapshot.ItemLastPlayed[p.ItemID]; !ok || p.PlayedAt.After(last) {
				snapshot.ItemLastPlayed[p.ItemID] = p.PlayedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ready snapshot: %w", err)
	}
	return snapshot, nil
}

// Transition moves an item from one status to another if it is still in from.
// Returns false when another writer got there first.
func (r *ItemRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.ItemStatus) (bool, error) {
	return r.transition(ctx, id, from, to, nil)
}

// UpdateMetadata stores the extracted title, thumbnail and duration
func (r *ItemRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, title, thumbnailURL *string, duration *int64) error {
	updates := map[string]interface{}{
		"title":         title,
		"thumbnail_url": thumbnailURL,
		"duration":      duration,
		"updated_at":    time.Now().UTC(),
	}

	result := r.db.WithContext(ctx).Model(&models.QueueItem{}).Where("id = ?", id.String()).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update item metadata: %w", MapGormError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDownloaded moves a downloading item to ready with its asset path, clearing any previous error
func (r *ItemRepository) MarkDownloaded(ctx context.Context, id uuid.UUID, filePath string, downloadedAt time.Time) (bool, error) {
	at := downloadedAt.UTC()
	return r.transition(ctx, id, models.StatusDownloading, models.StatusReady, map[string]interface{}{
		"file_path":     filePath,
		"downloaded_at": &at,
		"error_message": nil,
	})
}

// MarkFailed moves an item to error, recording why
func (r *ItemRepository) MarkFailed(ctx context.Context, id uuid.UUID, from models.ItemStatus, message string) (bool, error) {
	return r.transition(ctx, id, from, models.StatusError, map[string]interface{}{
		"error_message": message,
	})
}

// Requeue moves an errored item back to ready and clears its error message
func (r *ItemRepository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.transition(ctx, id, models.StatusError, models.StatusReady, map[string]interface{}{
		"error_message": nil,
	})
}

// FailInterrupted moves every item left downloading by a previous run to error
func (r *ItemRepository) FailInterrupted(ctx context.Context, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("status = ?", models.StatusDownloading).
		Updates(map[string]interface{}{
			"status":        models.StatusError,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to fail interrupted downloads: %w", MapGormError(result.Error))
	}
	return result.RowsAffected, nil
}

// transition applies a conditional status update with optional extra columns
func (r *ItemRepository) transition(ctx context.Context, id uuid.UUID, from, to models.ItemStatus, extra map[string]interface{}) (bool, error) {
	return transitionItem(r.db.WithContext(ctx), id, from, to, extra)
}

// transitionItem is shared with the transactional playback repository
func transitionItem(tx *gorm.DB, id uuid.UUID, from, to models.ItemStatus, extra map[string]interface{}) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id.String(), from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to move item %s from %s to %s: %w", id, from, to, MapGormError(result.Error))
	}
	return result.RowsAffected == 1, nil
}
