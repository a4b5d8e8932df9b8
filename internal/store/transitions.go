package store

import "clinicq/checkin-service/internal/models"

var transitionMap = map[string][]string{
	models.StatusWaiting:        {models.StatusInConsultation, models.StatusRemoved},
	models.StatusInConsultation: {models.StatusRemoved},
}

// ValidTransition reports whether a visit may move from one status to
// another. Removed is terminal; nothing re-enters waiting.
func ValidTransition(from, to string) bool {
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}
