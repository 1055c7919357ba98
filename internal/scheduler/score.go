// Package scheduler ranks ready queue items by priority, item recency and owner fairness.
package scheduler

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/models"
)

// Weights are the scoring constants
type Weights struct {
	PriorityWeight float64
	PenaltyScale   float64       // per hour of the item window not yet elapsed
	BoostScale     float64       // per hour since the owner last had anything played
	ItemWindow     time.Duration // Tv
	UserWindow     time.Duration // Tu
}

// DefaultWeights returns the weights used when nothing is configured
func DefaultWeights() Weights {
	return Weights{
		PriorityWeight: 1,
		PenaltyScale:   0.5,
		BoostScale:     0.25,
		ItemWindow:     24 * time.Hour,
		UserWindow:     24 * time.Hour,
	}
}

// Candidate is one ready item with the recency inputs for scoring
type Candidate struct {
	Item *models.QueueItem
	// Nil when the item has not played inside the item window
	ItemLastPlayed *time.Time
	// Nil when the owner has never had an item played
	UserLastPlayed *time.Time
}

// Scored pairs a candidate with its computed score
type Scored struct {
	Candidate
	Score float64
}

// Score computes priorityWeight*priority - penalty + boost for one candidate
func Score(c Candidate, now time.Time, w Weights) float64 {
	itemWindow := w.ItemWindow.Hours()
	userWindow := w.UserWindow.Hours()

	penalty := 0.0
	if c.ItemLastPlayed != nil {
		penalty = w.PenaltyScale * clamp(itemWindow-hoursSince(now, *c.ItemLastPlayed), 0, itemWindow)
	}

	boost := w.BoostScale * userWindow
	if c.UserLastPlayed != nil {
		boost = w.BoostScale * clamp(hoursSince(now, *c.UserLastPlayed), 0, userWindow)
	}

	return w.PriorityWeight*float64(c.Item.Priority) - penalty + boost
}

// Rank scores every candidate and sorts highest first, ties by lowest id string
func Rank(candidates []Candidate, now time.Time, w Weights) []Scored {
	ranked := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Scored{Candidate: c, Score: Score(c, now, w)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return idString(ranked[i].Item.ID) < idString(ranked[j].Item.ID)
	})
	return ranked
}

func hoursSince(now, then time.Time) float64 {
	return now.Sub(then).Hours()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func idString(id uuid.UUID) string {
	return id.String()
}
