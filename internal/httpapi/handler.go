package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"clinicq/checkin-service/internal/checkin"
	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"

	"github.com/google/uuid"
)

// Coordinator is the slice of the check-in service the HTTP layer
// uses.
type Coordinator interface {
	CheckIn(ctx context.Context, input checkin.CheckInInput) (checkin.CheckInResult, error)
	GetQueuePosition(ctx context.Context, appointmentID string) (checkin.PositionResult, error)
	ListActiveQueue(ctx context.Context, bucket store.BucketKey) ([]models.Visit, error)
	StartConsultation(ctx context.Context, appointmentID string) (models.Visit, error)
	CancelVisit(ctx context.Context, appointmentID string) (models.Visit, error)
	Reorder(ctx context.Context, bucket store.BucketKey, orderedVisitIDs []string) error
	VerifyCheckIn(ctx context.Context, visitID, verifiedBy, note string) (models.VerificationRecord, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, []models.VerificationRecord, error)
}

type Handler struct {
	coordinator Coordinator
	resolver    *store.BucketResolver
}

func NewHandler(coordinator Coordinator, resolver *store.BucketResolver) *Handler {
	return &Handler{coordinator: coordinator, resolver: resolver}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/visits/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/visits/position", h.handlePosition)
	mux.HandleFunc("/api/visits/consultation-start", h.handleConsultationStart)
	mux.HandleFunc("/api/visits/cancel", h.handleCancel)
	mux.HandleFunc("/api/visits/", h.handleVisit)
	mux.HandleFunc("/api/queues", h.handleQueue)
	mux.HandleFunc("/api/queues/reorder", h.handleReorder)
	return mux
}

type checkInRequest struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	ClinicID      string `json:"clinic_id"`
	DoctorID      string `json:"doctor_id"`
	LocationID    string `json:"location_id"`
	BucketKind    string `json:"bucket_kind"`
	TherapyType   string `json:"therapy_type"`
	Method        string `json:"method"`
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type reorderRequest struct {
	ClinicID    string   `json:"clinic_id"`
	DoctorID    string   `json:"doctor_id"`
	LocationID  string   `json:"location_id"`
	BucketKind  string   `json:"bucket_kind"`
	TherapyType string   `json:"therapy_type"`
	VisitIDs    []string `json:"visit_ids"`
}

type verifyRequest struct {
	VerifiedBy string `json:"verified_by"`
	Note       string `json:"note"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.BucketKind = strings.TrimSpace(req.BucketKind)
	req.TherapyType = strings.TrimSpace(req.TherapyType)
	req.Method = strings.TrimSpace(req.Method)

	if req.AppointmentID == "" || req.PatientID == "" || req.ClinicID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id, patient_id, and clinic_id are required")
		return
	}
	if !isValidUUID(req.AppointmentID) || !isValidUUID(req.PatientID) || !isValidUUID(req.ClinicID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id, patient_id, and clinic_id must be UUIDs")
		return
	}
	if req.BucketKind == "" {
		req.BucketKind = models.BucketGeneral
	}
	switch req.Method {
	case "", models.MethodManual, models.MethodQR, models.MethodBiometric:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "method must be manual, qr, or biometric")
		return
	}

	result, err := h.coordinator.CheckIn(r.Context(), checkin.CheckInInput{
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		ClinicID:      req.ClinicID,
		DoctorID:      req.DoctorID,
		LocationID:    req.LocationID,
		BucketKind:    req.BucketKind,
		TherapyType:   req.TherapyType,
		Method:        req.Method,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" || !isValidUUID(appointmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	result, err := h.coordinator.GetQueuePosition(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleConsultationStart(w http.ResponseWriter, r *http.Request) {
	h.handleAppointmentAction(w, r, h.coordinator.StartConsultation)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleAppointmentAction(w, r, h.coordinator.CancelVisit)
}

func (h *Handler) handleAppointmentAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (models.Visit, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req appointmentActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" || !isValidUUID(req.AppointmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	visit, err := action(r.Context(), req.AppointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// handleVisit serves GET /api/visits/{id} and POST
// /api/visits/{id}/verify.
func (h *Handler) handleVisit(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/visits/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getVisit(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "verify" && r.Method == http.MethodPost:
		h.verifyVisit(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) getVisit(w http.ResponseWriter, r *http.Request, visitID string) {
	if !isValidUUID(visitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit id must be a UUID")
		return
	}

	visit, verifications, err := h.coordinator.GetVisit(r.Context(), visitID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"visit":         visit,
		"verifications": verifications,
	})
}

func (h *Handler) verifyVisit(w http.ResponseWriter, r *http.Request, visitID string) {
	if !isValidUUID(visitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit id must be a UUID")
		return
	}

	var req verifyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.VerifiedBy = strings.TrimSpace(req.VerifiedBy)
	if req.VerifiedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "verified_by is required")
		return
	}

	record, err := h.coordinator.VerifyCheckIn(r.Context(), visitID, req.VerifiedBy, strings.TrimSpace(req.Note))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	bucket, err := h.resolver.Resolve(store.ResolveInput{
		ClinicID:    strings.TrimSpace(query.Get("clinic_id")),
		DoctorID:    strings.TrimSpace(query.Get("doctor_id")),
		LocationID:  strings.TrimSpace(query.Get("location_id")),
		BucketKind:  bucketKindOrDefault(query.Get("bucket_kind")),
		TherapyType: strings.TrimSpace(query.Get("therapy_type")),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	visits, err := h.coordinator.ListActiveQueue(r.Context(), bucket)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket": bucket.String(),
		"visits": visits,
	})
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req reorderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	bucket, err := h.resolver.Resolve(store.ResolveInput{
		ClinicID:    strings.TrimSpace(req.ClinicID),
		DoctorID:    strings.TrimSpace(req.DoctorID),
		LocationID:  strings.TrimSpace(req.LocationID),
		BucketKind:  bucketKindOrDefault(req.BucketKind),
		TherapyType: strings.TrimSpace(req.TherapyType),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	if len(req.VisitIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_ids is required")
		return
	}
	for _, id := range req.VisitIDs {
		if !isValidUUID(id) {
			writeError(w, http.StatusBadRequest, "invalid_request", "visit_ids must be UUIDs")
			return
		}
	}

	if err := h.coordinator.Reorder(r.Context(), bucket, req.VisitIDs); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func bucketKindOrDefault(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return models.BucketGeneral
	}
	return kind
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidBucket):
		return http.StatusBadRequest, "invalid_bucket", "visit does not resolve to a known queue bucket"
	case errors.Is(err, checkin.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in", "appointment already checked in"
	case errors.Is(err, checkin.ErrNotCheckedIn):
		return http.StatusConflict, "not_checked_in", "appointment is not in the waiting queue"
	case errors.Is(err, store.ErrNotInQueue):
		return http.StatusNotFound, "not_in_queue", "visit is not in the queue"
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", "visit not found"
	case errors.Is(err, store.ErrVisitSetMismatch):
		return http.StatusConflict, "visit_set_mismatch", "visit ids do not match the current waiting queue"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "visit state does not allow this action"
	case errors.Is(err, store.ErrDuplicateCheckIn):
		return http.StatusConflict, "already_checked_in", "appointment already checked in"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
