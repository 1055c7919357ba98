package db

import (
	"context"
	"fmt"
	"time"

	"github.com/stwalsh4118/couchcast/internal/logger"
	"gorm.io/gorm"
)

// slowTransaction is where a lifecycle write starts holding up the playback loop
const slowTransaction = 500 * time.Millisecond

// WithTransaction runs fn in one transaction, committing on nil and rolling back on error or panic.
// Every write that touches more than one of items, queue state and history goes through here.
func (db *DB) WithTransaction(ctx context.Context, fn func(*gorm.DB) error) error {
	started := time.Now()
	err := db.DB.WithContext(ctx).Transaction(fn)

	if took := time.Since(started); took > slowTransaction {
		logger.Log.Warn().
			Err(err).
			Dur("took", took).
			Msg("Slow queue transaction")
	}
	if err != nil {
		return fmt.Errorf("queue transaction rolled back: %w", err)
	}
	return nil
}
