// Package events carries domain events to the audit/notification
// collaborator. Delivery is fire-and-forget: a failed publish is
// logged by the caller and never fails the triggering operation.
package events

import (
	"context"
	"time"

	"clinicq/checkin-service/internal/models"
)

const (
	TypeCheckedIn           = "visit.checked_in"
	TypeConsultationStarted = "visit.consultation_started"
	TypeReordered           = "visit.reordered"
	TypeVerified            = "visit.verified"
	TypeCancelled           = "visit.cancelled"
)

type Event struct {
	EventID    string       `json:"event_id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Bucket     string       `json:"bucket,omitempty"`
	Visit      models.Visit `json:"visit,omitempty"`
	VisitIDs   []string     `json:"visit_ids,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops events, for deployments without a broker.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
