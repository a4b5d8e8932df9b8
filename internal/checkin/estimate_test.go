package checkin

import (
	"errors"
	"testing"
	"time"

	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"
)

func waitingVisit(id string, seq int64) models.Visit {
	return models.Visit{VisitID: id, Status: models.StatusWaiting, Sequence: seq}
}

func TestEstimatePositions(t *testing.T) {
	snapshot := []models.Visit{
		waitingVisit("v3", 7),
		waitingVisit("v1", 2),
		waitingVisit("v2", 5),
	}
	SortBySequence(snapshot)

	cases := []struct {
		visitID  string
		position int
		wait     time.Duration
	}{
		{"v1", 1, 0},
		{"v2", 2, 15 * time.Minute},
		{"v3", 3, 30 * time.Minute},
	}

	for _, tt := range cases {
		position, wait, err := Estimate(snapshot, tt.visitID, 15*time.Minute)
		if err != nil {
			t.Fatalf("estimate %s: %v", tt.visitID, err)
		}
		if position != tt.position || wait != tt.wait {
			t.Fatalf("estimate %s = (%d, %v), want (%d, %v)", tt.visitID, position, wait, tt.position, tt.wait)
		}
	}
}

func TestEstimateSkipsNonWaiting(t *testing.T) {
	snapshot := []models.Visit{
		{VisitID: "v1", Status: models.StatusInConsultation, Sequence: 1},
		waitingVisit("v2", 2),
	}

	position, wait, err := Estimate(snapshot, "v2", 10*time.Minute)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if position != 1 || wait != 0 {
		t.Fatalf("estimate = (%d, %v), want (1, 0)", position, wait)
	}
}

func TestEstimateNotInQueue(t *testing.T) {
	snapshot := []models.Visit{waitingVisit("v1", 1)}

	position, wait, err := Estimate(snapshot, "missing", 10*time.Minute)
	if !errors.Is(err, store.ErrNotInQueue) {
		t.Fatalf("expected ErrNotInQueue, got %v", err)
	}
	if position != 0 || wait != 0 {
		t.Fatalf("expected zero result, got (%d, %v)", position, wait)
	}
}
