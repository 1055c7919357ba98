package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/models"
)

// HistoryRepository reads the append-only playback history
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new playback history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListByItem retrieves every recorded play of an item, newest first
func (r *HistoryRepository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*models.PlaybackHistory, error) {
	var entries []*models.PlaybackHistory
	result := r.db.WithContext(ctx).
		Where("item_id = ?", itemID.String()).
		Order("played_at DESC").
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list item history: %w", MapGormError(result.Error))
	}
	return entries, nil
}

// ListSince retrieves plays at or after the given time, newest first
func (r *HistoryRepository) ListSince(ctx context.Context, since time.Time) ([]*models.PlaybackHistory, error) {
	var entries []*models.PlaybackHistory
	result := r.db.WithContext(ctx).
		Where("played_at >= ?", since.UTC()).
		Order("played_at DESC").
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list history: %w", MapGormError(result.Error))
	}
	return entries, nil
}
