package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/models"
)

// Store is the read side of the queue the scheduler needs
type Store interface {
	ReadySnapshot(ctx context.Context, since time.Time) (*db.ReadySnapshot, error)
	ListActive(ctx context.Context) ([]*models.QueueItem, error)
}

// Scheduler picks what plays next
type Scheduler struct {
	store   Store
	weights Weights
	now     func() time.Time
}

// New creates a scheduler over the given store
func New(store Store, weights Weights) *Scheduler {
	return &Scheduler{
		store:   store,
		weights: weights,
		now:     time.Now,
	}
}

// Weights returns the scoring constants in use
func (s *Scheduler) Weights() Weights {
	return s.weights
}

// Next returns the highest ranked ready item, or nil when nothing is ready
func (s *Scheduler) Next(ctx context.Context) (*models.QueueItem, error) {
	ranked, err := s.rankReady(ctx)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0].Item, nil
}

// Upcoming returns up to limit ranked ready items followed by every pending
// and downloading item in arrival order. The playing item is never Ready so it is not listed.
func (s *Scheduler) Upcoming(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	ranked, err := s.rankReady(ctx)
	if err != nil {
		return nil, err
	}

	upcoming := make([]*models.QueueItem, 0, len(ranked))
	for _, r := range ranked {
		if limit > 0 && len(upcoming) >= limit {
			break
		}
		upcoming = append(upcoming, r.Item)
	}

	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active items: %w", err)
	}
	return append(upcoming, active...), nil
}

// Ranked returns every ready item with its score, for diagnostics
func (s *Scheduler) Ranked(ctx context.Context) ([]Scored, error) {
	return s.rankReady(ctx)
}

func (s *Scheduler) rankReady(ctx context.Context) ([]Scored, error) {
	now := s.now()

	snapshot, err := s.store.ReadySnapshot(ctx, now.Add(-s.weights.ItemWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load ready items: %w", err)
	}

	candidates := make([]Candidate, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		c := Candidate{Item: item}
		if last, ok := snapshot.ItemLastPlayed[item.ID]; ok {
			c.ItemLastPlayed = &last
		}
		if owner := item.Owner(); owner != nil {
			c.UserLastPlayed = owner.LastPlayedAt
		}
		candidates = append(candidates, c)
	}

	return Rank(candidates, now, s.weights), nil
}
