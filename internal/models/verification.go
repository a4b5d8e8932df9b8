package models

import "time"

// VerificationRecord is a staff confirmation of an already-admitted
// visit. Records are append-only audit annotations; they never change
// visit status.
type VerificationRecord struct {
	VerificationID string    `json:"verification_id"`
	VisitID        string    `json:"visit_id"`
	VerifiedBy     string    `json:"verified_by"`
	Note           string    `json:"note,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}
