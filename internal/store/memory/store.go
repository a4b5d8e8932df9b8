// Package memory implements VisitStore on process-local maps. It backs
// the coordinator in tests and small single-node deployments; the
// postgres store is the production implementation.
package memory

import (
	"context"
	"sync"

	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu            sync.RWMutex
	visits        map[string]models.Visit
	active        map[string]string // appointment id -> active visit id
	verifications map[string][]models.VerificationRecord
	buckets       map[store.BucketKey]*bucketState
}

// bucketState owns the per-bucket mutation scope: its mutex serializes
// writers for one bucket, its counter is the sequence source.
type bucketState struct {
	mu      sync.Mutex
	nextSeq int64
}

func NewStore() *Store {
	return &Store{
		visits:        make(map[string]models.Visit),
		active:        make(map[string]string),
		verifications: make(map[string][]models.VerificationRecord),
		buckets:       make(map[store.BucketKey]*bucketState),
	}
}

func (s *Store) bucketState(key store.BucketKey) *bucketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucketState{}
		s.buckets[key] = b
	}
	return b
}

func (s *Store) Insert(ctx context.Context, input store.InsertVisitInput) (models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, err
	}

	bucket := store.BucketOf(models.Visit{
		ClinicID:    input.ClinicID,
		DoctorID:    input.DoctorID,
		LocationID:  input.LocationID,
		BucketKind:  input.BucketKind,
		TherapyType: input.TherapyType,
	})
	b := s.bucketState(bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[input.AppointmentID]; exists {
		return models.Visit{}, store.ErrDuplicateCheckIn
	}

	b.nextSeq++
	visit := models.Visit{
		VisitID:       uuid.NewString(),
		AppointmentID: input.AppointmentID,
		PatientID:     input.PatientID,
		ClinicID:      input.ClinicID,
		DoctorID:      input.DoctorID,
		LocationID:    input.LocationID,
		BucketKind:    input.BucketKind,
		TherapyType:   input.TherapyType,
		CheckInMethod: input.CheckInMethod,
		Status:        models.StatusWaiting,
		EnqueuedAt:    input.EnqueuedAt,
		Sequence:      b.nextSeq,
	}
	s.visits[visit.VisitID] = visit
	s.active[visit.AppointmentID] = visit.VisitID
	return visit, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	visit, ok := s.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	return visit, nil
}

func (s *Store) FindByAppointment(ctx context.Context, appointmentID string) (models.Visit, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	visitID, ok := s.active[appointmentID]
	if !ok {
		return models.Visit{}, false, nil
	}
	return s.visits[visitID], true, nil
}

func (s *Store) ListActive(ctx context.Context, bucket store.BucketKey) ([]models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var visits []models.Visit
	for _, visit := range s.visits {
		if visit.Status != models.StatusWaiting {
			continue
		}
		if store.BucketOf(visit) != bucket {
			continue
		}
		visits = append(visits, visit)
	}
	return visits, nil
}

func (s *Store) UpdateStatus(ctx context.Context, visitID, newStatus string) (models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return models.Visit{}, err
	}

	s.mu.RLock()
	visit, ok := s.visits[visitID]
	s.mu.RUnlock()
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}

	b := s.bucketState(store.BucketOf(visit))
	b.mu.Lock()
	defer b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read under the bucket lock: the visit may have moved since the
	// unlocked read above.
	visit, ok = s.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	if !store.ValidTransition(visit.Status, newStatus) {
		return models.Visit{}, store.ErrInvalidTransition
	}
	visit.Status = newStatus
	s.visits[visitID] = visit
	if newStatus == models.StatusRemoved {
		delete(s.active, visit.AppointmentID)
	}
	return visit, nil
}

func (s *Store) ReassignSequence(ctx context.Context, bucket store.BucketKey, orderedVisitIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := s.bucketState(bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := make(map[string]struct{})
	for _, visit := range s.visits {
		if visit.Status == models.StatusWaiting && store.BucketOf(visit) == bucket {
			waiting[visit.VisitID] = struct{}{}
		}
	}
	if len(orderedVisitIDs) != len(waiting) {
		return store.ErrVisitSetMismatch
	}
	for _, id := range orderedVisitIDs {
		if _, ok := waiting[id]; !ok {
			return store.ErrVisitSetMismatch
		}
		delete(waiting, id)
	}

	// New sequences start above the counter so that later admissions
	// still sort after every reordered visit.
	base := b.nextSeq + 1
	for i, id := range orderedVisitIDs {
		visit := s.visits[id]
		visit.Sequence = base + int64(i)
		s.visits[id] = visit
	}
	b.nextSeq += int64(len(orderedVisitIDs))
	return nil
}

func (s *Store) AddVerification(ctx context.Context, input store.AddVerificationInput) (models.VerificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.VerificationRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visits[input.VisitID]; !ok {
		return models.VerificationRecord{}, store.ErrVisitNotFound
	}
	record := models.VerificationRecord{
		VerificationID: uuid.NewString(),
		VisitID:        input.VisitID,
		VerifiedBy:     input.VerifiedBy,
		Note:           input.Note,
		VerifiedAt:     input.VerifiedAt,
	}
	s.verifications[input.VisitID] = append(s.verifications[input.VisitID], record)
	return record, nil
}

func (s *Store) ListVerifications(ctx context.Context, visitID string) ([]models.VerificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.verifications[visitID]
	out := make([]models.VerificationRecord, len(records))
	copy(out, records)
	return out, nil
}
