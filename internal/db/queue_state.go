package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/couchcast/internal/models"
	"gorm.io/gorm"
)

// QueueStateRepository reads the singleton queue state row
// Writes go through PlaybackRepository so they share a transaction with the item update
type QueueStateRepository struct {
	db *DB
}

// NewQueueStateRepository creates a new queue state repository
func NewQueueStateRepository(db *DB) *QueueStateRepository {
	return &QueueStateRepository{db: db}
}

// Get retrieves the queue state, creating the idle row if it doesn't exist
func (r *QueueStateRepository) Get(ctx context.Context) (*models.QueueState, error) {
	var state models.QueueState

	// Try to get existing state
	result := r.db.WithContext(ctx).First(&state, models.QueueStateID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			// Create default state if not found
			state = *models.IdleQueueState()
			if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
				return nil, fmt.Errorf("failed to create default queue state: %w", MapGormError(err))
			}
			return &state, nil
		}
		return nil, fmt.Errorf("failed to get queue state: %w", MapGormError(result.Error))
	}

	return &state, nil
}
