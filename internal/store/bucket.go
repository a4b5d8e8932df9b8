package store

import (
	"fmt"
	"strings"

	"clinicq/checkin-service/internal/models"
)

// BucketKey identifies the scope within which queue order is
// maintained: (clinic, doctor, location) for general visits,
// (clinic, therapy type) for therapy visits.
type BucketKey struct {
	Kind        string
	ClinicID    string
	DoctorID    string
	LocationID  string
	TherapyType string
}

// String renders the key as a cache-key segment.
func (k BucketKey) String() string {
	if k.Kind == models.BucketTherapy {
		return strings.Join([]string{k.Kind, k.ClinicID, k.TherapyType}, ":")
	}
	return strings.Join([]string{k.Kind, k.ClinicID, k.DoctorID, k.LocationID}, ":")
}

// BucketOf derives the bucket key from a stored visit. The visit is
// assumed to have passed resolution at admission.
func BucketOf(visit models.Visit) BucketKey {
	if visit.BucketKind == models.BucketTherapy {
		return BucketKey{Kind: models.BucketTherapy, ClinicID: visit.ClinicID, TherapyType: visit.TherapyType}
	}
	return BucketKey{Kind: models.BucketGeneral, ClinicID: visit.ClinicID, DoctorID: visit.DoctorID, LocationID: visit.LocationID}
}

type ResolveInput struct {
	ClinicID    string
	DoctorID    string
	LocationID  string
	BucketKind  string
	TherapyType string
}

// BucketResolver maps a visit onto its queue bucket. Therapy types are
// an enumerated allow-list; unrecognized values are rejected rather
// than silently admitted.
type BucketResolver struct {
	therapies map[string]struct{}
}

func NewBucketResolver(therapyTypes []string) *BucketResolver {
	therapies := make(map[string]struct{}, len(therapyTypes))
	for _, t := range therapyTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		therapies[t] = struct{}{}
	}
	return &BucketResolver{therapies: therapies}
}

func (r *BucketResolver) Resolve(input ResolveInput) (BucketKey, error) {
	if input.ClinicID == "" {
		return BucketKey{}, fmt.Errorf("%w: clinic_id is required", ErrInvalidBucket)
	}
	switch input.BucketKind {
	case models.BucketGeneral:
		if input.DoctorID == "" || input.LocationID == "" {
			return BucketKey{}, fmt.Errorf("%w: doctor_id and location_id are required for general visits", ErrInvalidBucket)
		}
		return BucketKey{
			Kind:       models.BucketGeneral,
			ClinicID:   input.ClinicID,
			DoctorID:   input.DoctorID,
			LocationID: input.LocationID,
		}, nil
	case models.BucketTherapy:
		if input.TherapyType == "" {
			return BucketKey{}, fmt.Errorf("%w: therapy_type is required for therapy visits", ErrInvalidBucket)
		}
		if _, ok := r.therapies[input.TherapyType]; !ok {
			return BucketKey{}, fmt.Errorf("%w: unrecognized therapy type %q", ErrInvalidBucket, input.TherapyType)
		}
		return BucketKey{
			Kind:        models.BucketTherapy,
			ClinicID:    input.ClinicID,
			TherapyType: input.TherapyType,
		}, nil
	default:
		return BucketKey{}, fmt.Errorf("%w: unknown bucket kind %q", ErrInvalidBucket, input.BucketKind)
	}
}
