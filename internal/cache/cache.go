// Package cache holds the read-through queue-view cache. Views are an
// accelerator only: every mutating queue operation invalidates the
// bucket's entry, and correctness decisions always read the store.
package cache

import (
	"context"
	"time"

	"clinicq/checkin-service/internal/models"
)

// QueueView is the computed, ordered state of one bucket.
type QueueView struct {
	Bucket     string       `json:"bucket"`
	Entries    []QueueEntry `json:"entries"`
	ComputedAt time.Time    `json:"computed_at"`
}

type QueueEntry struct {
	Visit       models.Visit `json:"visit"`
	Position    int          `json:"position"`
	WaitMinutes int          `json:"wait_minutes"`
}

// Find returns the entry for a visit, if the view holds one.
func (v QueueView) Find(visitID string) (QueueEntry, bool) {
	for _, entry := range v.Entries {
		if entry.Visit.VisitID == visitID {
			return entry, true
		}
	}
	return QueueEntry{}, false
}

type QueueCache interface {
	// GetView returns the cached view for a bucket. A false second
	// return means miss; callers treat errors as misses too.
	GetView(ctx context.Context, bucket string) (QueueView, bool, error)
	SetView(ctx context.Context, bucket string, view QueueView, ttl time.Duration) error
	// Invalidate drops every cached view whose bucket matches the
	// prefix.
	Invalidate(ctx context.Context, bucketPrefix string) error
}

// Noop satisfies QueueCache with permanent misses, for deployments
// without a cache backend.
type Noop struct{}

func (Noop) GetView(ctx context.Context, bucket string) (QueueView, bool, error) {
	return QueueView{}, false, nil
}

func (Noop) SetView(ctx context.Context, bucket string, view QueueView, ttl time.Duration) error {
	return nil
}

func (Noop) Invalidate(ctx context.Context, bucketPrefix string) error {
	return nil
}
