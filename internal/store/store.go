package store

import (
	"context"
	"time"

	"clinicq/checkin-service/internal/models"
)

type InsertVisitInput struct {
	AppointmentID string
	PatientID     string
	ClinicID      string
	DoctorID      string
	LocationID    string
	BucketKind    string
	TherapyType   string
	CheckInMethod string
	EnqueuedAt    time.Time
}

type AddVerificationInput struct {
	VisitID    string
	VerifiedBy string
	Note       string
	VerifiedAt time.Time
}

// VisitStore is the durable record of queued visits. Implementations
// serialize mutations per bucket: concurrent inserts into one bucket
// never share a sequence, and readers observe either the pre- or
// post-mutation queue, never a partial write.
type VisitStore interface {
	// Insert admits a visit as waiting, assigning its visit ID and the
	// next sequence for the bucket. Fails with ErrDuplicateCheckIn when
	// an active visit already holds the appointment.
	Insert(ctx context.Context, input InsertVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, error)
	// FindByAppointment returns the active visit for an appointment,
	// if any.
	FindByAppointment(ctx context.Context, appointmentID string) (models.Visit, bool, error)
	// ListActive returns the waiting visits in a bucket, in no
	// particular order.
	ListActive(ctx context.Context, bucket BucketKey) ([]models.Visit, error)
	UpdateStatus(ctx context.Context, visitID, newStatus string) (models.Visit, error)
	// ReassignSequence atomically rewrites sequences for exactly the
	// given waiting visit IDs, preserving the given order. Fails with
	// ErrVisitSetMismatch unless the IDs equal the current waiting set.
	ReassignSequence(ctx context.Context, bucket BucketKey, orderedVisitIDs []string) error
	AddVerification(ctx context.Context, input AddVerificationInput) (models.VerificationRecord, error)
	ListVerifications(ctx context.Context, visitID string) ([]models.VerificationRecord, error)
}
