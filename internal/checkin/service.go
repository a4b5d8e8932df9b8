// Package checkin implements the visit check-in and queue
// coordinator: admission into per-doctor or per-therapy queue buckets,
// live position and wait estimation, staff reordering, and the
// transition out of the queue when a consultation starts.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicq/checkin-service/internal/cache"
	"clinicq/checkin-service/internal/events"
	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	GeneralVisitDuration time.Duration
	TherapyVisitDuration time.Duration
	CacheTTL             time.Duration
	StoreTimeout         time.Duration
	RetryMaxTries        uint
}

func (c Config) withDefaults() Config {
	if c.GeneralVisitDuration <= 0 {
		c.GeneralVisitDuration = 15 * time.Minute
	}
	if c.TherapyVisitDuration <= 0 {
		c.TherapyVisitDuration = 30 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = 3
	}
	return c
}

type Service struct {
	store     store.VisitStore
	cache     cache.QueueCache
	publisher events.Publisher
	resolver  *store.BucketResolver
	cfg       Config
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(visits store.VisitStore, queueCache cache.QueueCache, publisher events.Publisher, resolver *store.BucketResolver, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		store:     visits,
		cache:     queueCache,
		publisher: publisher,
		resolver:  resolver,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("clinicq/checkin-service/internal/checkin"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CheckInInput struct {
	AppointmentID string
	PatientID     string
	ClinicID      string
	DoctorID      string
	LocationID    string
	BucketKind    string
	TherapyType   string
	Method        string
}

type CheckInResult struct {
	Visit       models.Visit `json:"visit"`
	Position    int          `json:"position"`
	WaitMinutes int          `json:"wait_minutes"`
}

type PositionResult struct {
	Visit       models.Visit `json:"visit"`
	Position    int          `json:"position"`
	WaitMinutes int          `json:"wait_minutes"`
}

// CheckIn admits an appointment into its queue bucket and reports the
// resulting position. A second check-in for the same appointment while
// a visit is still active fails with ErrAlreadyCheckedIn.
func (s *Service) CheckIn(ctx context.Context, input CheckInInput) (CheckInResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.CheckIn")
	defer span.End()

	if input.AppointmentID == "" || input.PatientID == "" {
		return CheckInResult{}, fmt.Errorf("appointment_id and patient_id are required")
	}
	if input.Method == "" {
		input.Method = models.MethodManual
	}

	bucket, err := s.resolver.Resolve(store.ResolveInput{
		ClinicID:    input.ClinicID,
		DoctorID:    input.DoctorID,
		LocationID:  input.LocationID,
		BucketKind:  input.BucketKind,
		TherapyType: input.TherapyType,
	})
	if err != nil {
		return CheckInResult{}, err
	}

	var existing models.Visit
	var found bool
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		existing, found, err = s.store.FindByAppointment(ctx, input.AppointmentID)
		return err
	})
	if err != nil {
		return CheckInResult{}, err
	}
	if found && existing.Active() {
		return CheckInResult{}, fmt.Errorf("appointment %s: %w", input.AppointmentID, ErrAlreadyCheckedIn)
	}

	var visit models.Visit
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		visit, err = s.store.Insert(ctx, store.InsertVisitInput{
			AppointmentID: input.AppointmentID,
			PatientID:     input.PatientID,
			ClinicID:      input.ClinicID,
			DoctorID:      input.DoctorID,
			LocationID:    input.LocationID,
			BucketKind:    bucket.Kind,
			TherapyType:   input.TherapyType,
			CheckInMethod: input.Method,
			EnqueuedAt:    s.now(),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateCheckIn) {
			return CheckInResult{}, fmt.Errorf("appointment %s: %w", input.AppointmentID, ErrAlreadyCheckedIn)
		}
		return CheckInResult{}, err
	}

	s.invalidate(ctx, bucket)

	view, err := s.computeView(ctx, bucket)
	if err != nil {
		return CheckInResult{}, err
	}
	s.storeView(ctx, bucket, view)

	position, wait, err := Estimate(viewVisits(view), visit.VisitID, s.visitDuration(bucket.Kind))
	if err != nil {
		// Only possible if another writer removed the visit between
		// insert and snapshot; report the admission without a position.
		s.publish(ctx, events.Event{Type: events.TypeCheckedIn, Bucket: bucket.String(), Visit: visit})
		return CheckInResult{Visit: visit}, nil
	}

	s.publish(ctx, events.Event{Type: events.TypeCheckedIn, Bucket: bucket.String(), Visit: visit})
	s.logger.Debug().
		Str("visit_id", visit.VisitID).
		Str("bucket", bucket.String()).
		Int("position", position).
		Msg("visit checked in")

	return CheckInResult{Visit: visit, Position: position, WaitMinutes: int(wait / time.Minute)}, nil
}

// GetQueuePosition reports the live position and wait estimate for a
// checked-in appointment.
func (s *Service) GetQueuePosition(ctx context.Context, appointmentID string) (PositionResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.GetQueuePosition")
	defer span.End()

	var visit models.Visit
	var found bool
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		visit, found, err = s.store.FindByAppointment(ctx, appointmentID)
		return err
	})
	if err != nil {
		return PositionResult{}, err
	}
	if !found {
		return PositionResult{}, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotCheckedIn)
	}
	if visit.Status != models.StatusWaiting {
		return PositionResult{}, fmt.Errorf("visit %s: %w", visit.VisitID, store.ErrNotInQueue)
	}

	bucket := store.BucketOf(visit)
	view, hit := s.loadView(ctx, bucket)
	if hit {
		if entry, ok := view.Find(visit.VisitID); ok {
			return PositionResult{Visit: entry.Visit, Position: entry.Position, WaitMinutes: entry.WaitMinutes}, nil
		}
	}

	view, err = s.computeView(ctx, bucket)
	if err != nil {
		return PositionResult{}, err
	}
	s.storeView(ctx, bucket, view)

	entry, ok := view.Find(visit.VisitID)
	if !ok {
		return PositionResult{}, fmt.Errorf("visit %s: %w", visit.VisitID, store.ErrNotInQueue)
	}
	return PositionResult{Visit: entry.Visit, Position: entry.Position, WaitMinutes: entry.WaitMinutes}, nil
}

// ListActiveQueue returns the waiting visits of a bucket ordered by
// sequence.
func (s *Service) ListActiveQueue(ctx context.Context, bucket store.BucketKey) ([]models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.ListActiveQueue")
	defer span.End()

	if view, hit := s.loadView(ctx, bucket); hit {
		return viewVisits(view), nil
	}

	view, err := s.computeView(ctx, bucket)
	if err != nil {
		return nil, err
	}
	s.storeView(ctx, bucket, view)
	return viewVisits(view), nil
}

// StartConsultation transitions a waiting visit to in-consultation,
// removing it from active queue views.
func (s *Service) StartConsultation(ctx context.Context, appointmentID string) (models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.StartConsultation")
	defer span.End()

	visit, err := s.transitionVisit(ctx, appointmentID, models.StatusInConsultation)
	if err != nil {
		return models.Visit{}, err
	}
	s.publish(ctx, events.Event{Type: events.TypeConsultationStarted, Bucket: store.BucketOf(visit).String(), Visit: visit})
	return visit, nil
}

// CancelVisit removes a waiting visit from the queue without a
// consultation (cancellation or no-show).
func (s *Service) CancelVisit(ctx context.Context, appointmentID string) (models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.CancelVisit")
	defer span.End()

	visit, err := s.transitionVisit(ctx, appointmentID, models.StatusRemoved)
	if err != nil {
		return models.Visit{}, err
	}
	s.publish(ctx, events.Event{Type: events.TypeCancelled, Bucket: store.BucketOf(visit).String(), Visit: visit})
	return visit, nil
}

func (s *Service) transitionVisit(ctx context.Context, appointmentID, newStatus string) (models.Visit, error) {
	var visit models.Visit
	var found bool
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		visit, found, err = s.store.FindByAppointment(ctx, appointmentID)
		return err
	})
	if err != nil {
		return models.Visit{}, err
	}
	if !found || visit.Status != models.StatusWaiting {
		return models.Visit{}, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotCheckedIn)
	}

	var updated models.Visit
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateStatus(ctx, visit.VisitID, newStatus)
		return err
	})
	if err != nil {
		// A concurrent transition between the read and the write lands
		// here; to the caller the visit is simply no longer waiting.
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrVisitNotFound) {
			return models.Visit{}, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotCheckedIn)
		}
		return models.Visit{}, err
	}

	s.invalidate(ctx, store.BucketOf(updated))
	return updated, nil
}

// Reorder replaces the waiting order of a bucket with the given visit
// IDs. The IDs must equal the current waiting set exactly; a check-in
// or consultation start racing the reorder surfaces as
// ErrVisitSetMismatch rather than being merged silently.
func (s *Service) Reorder(ctx context.Context, bucket store.BucketKey, orderedVisitIDs []string) error {
	ctx, span := s.tracer.Start(ctx, "checkin.Reorder")
	defer span.End()

	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.ReassignSequence(ctx, bucket, orderedVisitIDs)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, bucket)
	s.publish(ctx, events.Event{Type: events.TypeReordered, Bucket: bucket.String(), VisitIDs: orderedVisitIDs})
	return nil
}

// VerifyCheckIn records a staff confirmation of an active visit. It is
// an audit annotation, not a state transition.
func (s *Service) VerifyCheckIn(ctx context.Context, visitID, verifiedBy, note string) (models.VerificationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.VerifyCheckIn")
	defer span.End()

	if verifiedBy == "" {
		return models.VerificationRecord{}, fmt.Errorf("verified_by is required")
	}

	var visit models.Visit
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		visit, err = s.store.GetVisit(ctx, visitID)
		return err
	})
	if err != nil {
		return models.VerificationRecord{}, err
	}
	if !visit.Active() {
		return models.VerificationRecord{}, fmt.Errorf("visit %s: %w", visitID, ErrNotCheckedIn)
	}

	var record models.VerificationRecord
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.store.AddVerification(ctx, store.AddVerificationInput{
			VisitID:    visitID,
			VerifiedBy: verifiedBy,
			Note:       note,
			VerifiedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return models.VerificationRecord{}, err
	}

	s.publish(ctx, events.Event{Type: events.TypeVerified, Bucket: store.BucketOf(visit).String(), Visit: visit})
	return record, nil
}

// GetVisit returns a visit with its verification history.
func (s *Service) GetVisit(ctx context.Context, visitID string) (models.Visit, []models.VerificationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "checkin.GetVisit")
	defer span.End()

	var visit models.Visit
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		visit, err = s.store.GetVisit(ctx, visitID)
		return err
	})
	if err != nil {
		return models.Visit{}, nil, err
	}
	var records []models.VerificationRecord
	err = s.retry(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.store.ListVerifications(ctx, visitID)
		return err
	})
	if err != nil {
		return models.Visit{}, nil, err
	}
	return visit, records, nil
}

func (s *Service) visitDuration(bucketKind string) time.Duration {
	if bucketKind == models.BucketTherapy {
		return s.cfg.TherapyVisitDuration
	}
	return s.cfg.GeneralVisitDuration
}

func (s *Service) computeView(ctx context.Context, bucket store.BucketKey) (cache.QueueView, error) {
	var visits []models.Visit
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		visits, err = s.store.ListActive(ctx, bucket)
		return err
	})
	if err != nil {
		return cache.QueueView{}, err
	}
	SortBySequence(visits)

	perVisit := s.visitDuration(bucket.Kind)
	view := cache.QueueView{Bucket: bucket.String(), ComputedAt: s.now()}
	for i, visit := range visits {
		view.Entries = append(view.Entries, cache.QueueEntry{
			Visit:       visit,
			Position:    i + 1,
			WaitMinutes: int(time.Duration(i) * perVisit / time.Minute),
		})
	}
	return view, nil
}

func (s *Service) loadView(ctx context.Context, bucket store.BucketKey) (cache.QueueView, bool) {
	view, hit, err := s.cache.GetView(ctx, bucket.String())
	if err != nil {
		// A failing cache read degrades to a store read.
		s.logger.Warn().Err(err).Str("bucket", bucket.String()).Msg("cache read failed")
		return cache.QueueView{}, false
	}
	return view, hit
}

func (s *Service) storeView(ctx context.Context, bucket store.BucketKey, view cache.QueueView) {
	if err := s.cache.SetView(ctx, bucket.String(), view, s.cfg.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("bucket", bucket.String()).Msg("cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, bucket store.BucketKey) {
	// The mutation already committed; a stale cache entry is preferable
	// to failing the operation, so invalidation errors are logged only.
	if err := s.cache.Invalidate(ctx, bucket.String()); err != nil {
		s.logger.Warn().Err(err).Str("bucket", bucket.String()).Msg("cache invalidation failed")
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	event.EventID = uuid.NewString()
	event.OccurredAt = s.now()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Type).Msg("event publish failed")
	}
}

// retry runs a collaborator call with a per-attempt timeout, retrying
// unavailable-class failures with exponential backoff. Validation
// errors are permanent and returned on the first attempt.
func (s *Service) retry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()
		err := op(attemptCtx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, store.ErrUnavailable):
			return struct{}{}, err
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return struct{}{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, attempt, backoff.WithBackOff(expo), backoff.WithMaxTries(s.cfg.RetryMaxTries))
	return err
}

func viewVisits(view cache.QueueView) []models.Visit {
	visits := make([]models.Visit, 0, len(view.Entries))
	for _, entry := range view.Entries {
		visits = append(visits, entry.Visit)
	}
	return visits
}
