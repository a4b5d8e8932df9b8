package models

import "time"

type Visit struct {
	VisitID       string    `json:"visit_id"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	ClinicID      string    `json:"clinic_id"`
	DoctorID      string    `json:"doctor_id,omitempty"`
	LocationID    string    `json:"location_id,omitempty"`
	BucketKind    string    `json:"bucket_kind"`
	TherapyType   string    `json:"therapy_type,omitempty"`
	CheckInMethod string    `json:"check_in_method"`
	Status        string    `json:"status"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Sequence      int64     `json:"sequence"`
}

const (
	StatusWaiting        = "waiting"
	StatusInConsultation = "in_consultation"
	StatusRemoved        = "removed"
)

const (
	BucketGeneral = "general"
	BucketTherapy = "therapy"
)

const (
	MethodManual    = "manual"
	MethodQR        = "qr"
	MethodBiometric = "biometric"
)

// Active reports whether the visit still holds its appointment slot.
// Waiting and in-consultation visits block a second check-in for the
// same appointment; removed visits do not.
func (v Visit) Active() bool {
	return v.Status == StatusWaiting || v.Status == StatusInConsultation
}
