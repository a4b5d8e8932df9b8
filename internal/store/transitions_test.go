package store

import (
	"testing"

	"clinicq/checkin-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from  string
		to    string
		valid bool
	}{
		{models.StatusWaiting, models.StatusInConsultation, true},
		{models.StatusWaiting, models.StatusRemoved, true},
		{models.StatusWaiting, models.StatusWaiting, false},
		{models.StatusInConsultation, models.StatusRemoved, true},
		{models.StatusInConsultation, models.StatusWaiting, false},
		{models.StatusInConsultation, models.StatusInConsultation, false},
		{models.StatusRemoved, models.StatusWaiting, false},
		{models.StatusRemoved, models.StatusInConsultation, false},
		{models.StatusRemoved, models.StatusRemoved, false},
		{"unknown", models.StatusRemoved, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
