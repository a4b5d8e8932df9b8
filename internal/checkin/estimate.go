package checkin

import (
	"sort"
	"time"

	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"
)

// SortBySequence orders a queue snapshot by ascending sequence, the
// authoritative order within a bucket. Sequences are unique, so no
// tie-break is needed.
func SortBySequence(visits []models.Visit) {
	sort.Slice(visits, func(i, j int) bool {
		return visits[i].Sequence < visits[j].Sequence
	})
}

// Estimate returns the 1-based queue position of a visit within a
// sorted snapshot and the projected wait, position-1 service slots
// deep. Wait figures are always derived from current queue length,
// never decremented by a clock.
func Estimate(snapshot []models.Visit, visitID string, perVisit time.Duration) (int, time.Duration, error) {
	position := 0
	for _, visit := range snapshot {
		if visit.Status != models.StatusWaiting {
			continue
		}
		position++
		if visit.VisitID == visitID {
			return position, time.Duration(position-1) * perVisit, nil
		}
	}
	return 0, 0, store.ErrNotInQueue
}
