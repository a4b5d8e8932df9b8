package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"

	"github.com/google/uuid"
)

func generalBucket() store.BucketKey {
	return store.BucketKey{Kind: models.BucketGeneral, ClinicID: "clinic1", DoctorID: "doc1", LocationID: "loc1"}
}

func insertVisit(t *testing.T, s *Store, appointmentID string) models.Visit {
	t.Helper()
	visit, err := s.Insert(context.Background(), store.InsertVisitInput{
		AppointmentID: appointmentID,
		PatientID:     uuid.NewString(),
		ClinicID:      "clinic1",
		DoctorID:      "doc1",
		LocationID:    "loc1",
		BucketKind:    models.BucketGeneral,
		CheckInMethod: models.MethodManual,
		EnqueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return visit
}

func TestInsertAssignsIncreasingSequences(t *testing.T) {
	s := NewStore()

	first := insertVisit(t, s, uuid.NewString())
	second := insertVisit(t, s, uuid.NewString())

	if first.Status != models.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", first.Status)
	}
	if second.Sequence <= first.Sequence {
		t.Fatalf("expected increasing sequences, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestInsertRejectsDuplicateActiveAppointment(t *testing.T) {
	s := NewStore()
	appointmentID := uuid.NewString()

	insertVisit(t, s, appointmentID)
	_, err := s.Insert(context.Background(), store.InsertVisitInput{
		AppointmentID: appointmentID,
		PatientID:     uuid.NewString(),
		ClinicID:      "clinic1",
		DoctorID:      "doc1",
		LocationID:    "loc1",
		BucketKind:    models.BucketGeneral,
		CheckInMethod: models.MethodQR,
		EnqueuedAt:    time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrDuplicateCheckIn) {
		t.Fatalf("expected ErrDuplicateCheckIn, got %v", err)
	}
}

func TestReCheckInAfterRemoval(t *testing.T) {
	s := NewStore()
	appointmentID := uuid.NewString()

	visit := insertVisit(t, s, appointmentID)
	if _, err := s.UpdateStatus(context.Background(), visit.VisitID, models.StatusRemoved); err != nil {
		t.Fatalf("remove: %v", err)
	}

	insertVisit(t, s, appointmentID)
}

func TestConcurrentInsertsKeepSequencesUnique(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	results := make(chan models.Visit, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			visit, err := s.Insert(context.Background(), store.InsertVisitInput{
				AppointmentID: uuid.NewString(),
				PatientID:     uuid.NewString(),
				ClinicID:      "clinic1",
				DoctorID:      "doc1",
				LocationID:    "loc1",
				BucketKind:    models.BucketGeneral,
				CheckInMethod: models.MethodManual,
				EnqueuedAt:    time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			results <- visit
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for visit := range results {
		if seen[visit.Sequence] {
			t.Fatalf("duplicate sequence %d", visit.Sequence)
		}
		seen[visit.Sequence] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d visits, got %d", n, len(seen))
	}
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	s := NewStore()
	visit := insertVisit(t, s, uuid.NewString())

	updated, err := s.UpdateStatus(context.Background(), visit.VisitID, models.StatusInConsultation)
	if err != nil {
		t.Fatalf("start consultation: %v", err)
	}
	if updated.Status != models.StatusInConsultation {
		t.Fatalf("expected in_consultation, got %s", updated.Status)
	}

	if _, err := s.UpdateStatus(context.Background(), visit.VisitID, models.StatusWaiting); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := s.UpdateStatus(context.Background(), uuid.NewString(), models.StatusRemoved); !errors.Is(err, store.ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}

func TestListActiveFiltersByStatusAndBucket(t *testing.T) {
	s := NewStore()
	first := insertVisit(t, s, uuid.NewString())
	second := insertVisit(t, s, uuid.NewString())

	// A visit in another bucket must not appear.
	if _, err := s.Insert(context.Background(), store.InsertVisitInput{
		AppointmentID: uuid.NewString(),
		PatientID:     uuid.NewString(),
		ClinicID:      "clinic1",
		DoctorID:      "doc2",
		LocationID:    "loc1",
		BucketKind:    models.BucketGeneral,
		CheckInMethod: models.MethodManual,
		EnqueuedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert other bucket: %v", err)
	}

	if _, err := s.UpdateStatus(context.Background(), first.VisitID, models.StatusInConsultation); err != nil {
		t.Fatalf("start consultation: %v", err)
	}

	visits, err := s.ListActive(context.Background(), generalBucket())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(visits) != 1 || visits[0].VisitID != second.VisitID {
		t.Fatalf("expected only %s waiting, got %+v", second.VisitID, visits)
	}
}

func TestReassignSequencePreservesOrder(t *testing.T) {
	s := NewStore()
	first := insertVisit(t, s, uuid.NewString())
	second := insertVisit(t, s, uuid.NewString())
	third := insertVisit(t, s, uuid.NewString())

	err := s.ReassignSequence(context.Background(), generalBucket(), []string{third.VisitID, first.VisitID, second.VisitID})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}

	visits, err := s.ListActive(context.Background(), generalBucket())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	bySeq := make(map[string]int64)
	for _, visit := range visits {
		bySeq[visit.VisitID] = visit.Sequence
	}
	if !(bySeq[third.VisitID] < bySeq[first.VisitID] && bySeq[first.VisitID] < bySeq[second.VisitID]) {
		t.Fatalf("unexpected order: %v", bySeq)
	}

	// A later admission still sorts last.
	fourth := insertVisit(t, s, uuid.NewString())
	if fourth.Sequence <= bySeq[second.VisitID] {
		t.Fatalf("expected new admission after reordered visits, got %d", fourth.Sequence)
	}
}

func TestReassignSequenceRejectsSetMismatch(t *testing.T) {
	s := NewStore()
	first := insertVisit(t, s, uuid.NewString())
	second := insertVisit(t, s, uuid.NewString())

	cases := []struct {
		name string
		ids  []string
	}{
		{"missing visit", []string{first.VisitID}},
		{"foreign visit", []string{first.VisitID, second.VisitID, uuid.NewString()}},
		{"duplicated visit", []string{first.VisitID, first.VisitID}},
		{"empty", nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ReassignSequence(context.Background(), generalBucket(), tt.ids)
			if !errors.Is(err, store.ErrVisitSetMismatch) {
				t.Fatalf("expected ErrVisitSetMismatch, got %v", err)
			}
		})
	}

	// Order must be untouched after a failed reassign.
	visits, err := s.ListActive(context.Background(), generalBucket())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	bySeq := make(map[string]int64)
	for _, visit := range visits {
		bySeq[visit.VisitID] = visit.Sequence
	}
	if !(bySeq[first.VisitID] < bySeq[second.VisitID]) {
		t.Fatalf("order changed by failed reassign: %v", bySeq)
	}
}

func TestFindByAppointment(t *testing.T) {
	s := NewStore()
	appointmentID := uuid.NewString()
	visit := insertVisit(t, s, appointmentID)

	found, ok, err := s.FindByAppointment(context.Background(), appointmentID)
	if err != nil || !ok {
		t.Fatalf("expected active visit, got ok=%v err=%v", ok, err)
	}
	if found.VisitID != visit.VisitID {
		t.Fatalf("expected visit %s, got %s", visit.VisitID, found.VisitID)
	}

	if _, err := s.UpdateStatus(context.Background(), visit.VisitID, models.StatusRemoved); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, err := s.FindByAppointment(context.Background(), appointmentID); err != nil || ok {
		t.Fatalf("expected no active visit after removal, got ok=%v err=%v", ok, err)
	}
}

func TestVerifications(t *testing.T) {
	s := NewStore()
	visit := insertVisit(t, s, uuid.NewString())

	record, err := s.AddVerification(context.Background(), store.AddVerificationInput{
		VisitID:    visit.VisitID,
		VerifiedBy: "staff1",
		Note:       "front desk",
		VerifiedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add verification: %v", err)
	}
	if record.VerificationID == "" {
		t.Fatalf("expected verification id")
	}

	records, err := s.ListVerifications(context.Background(), visit.VisitID)
	if err != nil {
		t.Fatalf("list verifications: %v", err)
	}
	if len(records) != 1 || records[0].VerifiedBy != "staff1" {
		t.Fatalf("unexpected records %+v", records)
	}

	if _, err := s.AddVerification(context.Background(), store.AddVerificationInput{
		VisitID:    uuid.NewString(),
		VerifiedBy: "staff1",
		VerifiedAt: time.Now().UTC(),
	}); !errors.Is(err, store.ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}
