// Package postgres implements VisitStore on a pgx pool. Mutations run
// in a transaction holding a per-bucket advisory lock, which serializes
// sequence assignment and reordering within one bucket while leaving
// other buckets fully parallel.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinicq/checkin-service/internal/models"
	"clinicq/checkin-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const visitColumns = `visit_id, appointment_id, patient_id, clinic_id, doctor_id, location_id,
	bucket_kind, therapy_type, check_in_method, status, enqueued_at, sequence`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Insert(ctx context.Context, input store.InsertVisitInput) (models.Visit, error) {
	bucket := store.BucketOf(models.Visit{
		ClinicID:    input.ClinicID,
		DoctorID:    input.DoctorID,
		LocationID:  input.LocationID,
		BucketKind:  input.BucketKind,
		TherapyType: input.TherapyType,
	})

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockBucket(ctx, tx, bucket); err != nil {
		return models.Visit{}, err
	}

	var existingID string
	row := tx.QueryRow(ctx, `
		SELECT visit_id FROM visits
		WHERE appointment_id = $1 AND status IN ('waiting', 'in_consultation')
	`, input.AppointmentID)
	switch err = row.Scan(&existingID); {
	case err == nil:
		err = store.ErrDuplicateCheckIn
		return models.Visit{}, store.ErrDuplicateCheckIn
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	default:
		return models.Visit{}, unavailable(err)
	}

	var seq int64
	row = tx.QueryRow(ctx, `
		INSERT INTO bucket_sequences (bucket, next_seq) VALUES ($1, 1)
		ON CONFLICT (bucket) DO UPDATE SET next_seq = bucket_sequences.next_seq + 1
		RETURNING next_seq
	`, bucket.String())
	if err = row.Scan(&seq); err != nil {
		return models.Visit{}, unavailable(err)
	}

	enqueuedAt := input.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
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
		EnqueuedAt:    enqueuedAt,
		Sequence:      seq,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO visits (
			visit_id, appointment_id, patient_id, clinic_id, doctor_id, location_id,
			bucket_kind, therapy_type, check_in_method, status, enqueued_at, sequence
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, visit.VisitID, visit.AppointmentID, visit.PatientID, visit.ClinicID,
		nullIfEmpty(visit.DoctorID), nullIfEmpty(visit.LocationID),
		visit.BucketKind, nullIfEmpty(visit.TherapyType), visit.CheckInMethod,
		visit.Status, visit.EnqueuedAt, visit.Sequence)
	if err != nil {
		if isUniqueViolation(err) {
			err = store.ErrDuplicateCheckIn
			return models.Visit{}, store.ErrDuplicateCheckIn
		}
		return models.Visit{}, unavailable(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, unavailable(err)
	}
	return visit, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE visit_id = $1
	`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, unavailable(err)
	}
	return visit, nil
}

func (s *Store) FindByAppointment(ctx context.Context, appointmentID string) (models.Visit, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE appointment_id = $1 AND status IN ('waiting', 'in_consultation')
	`, appointmentID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, unavailable(err)
	}
	return visit, true, nil
}

func (s *Store) ListActive(ctx context.Context, bucket store.BucketKey) ([]models.Visit, error) {
	where, args := bucketWhere(bucket, 1)
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE status = 'waiting' AND `+where+`
		ORDER BY sequence ASC
	`, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return visits, nil
}

func (s *Store) UpdateStatus(ctx context.Context, visitID, newStatus string) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE visit_id = $1
	`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, unavailable(err)
	}

	if err = lockBucket(ctx, tx, store.BucketOf(visit)); err != nil {
		return models.Visit{}, err
	}

	// Re-read under the bucket lock: the status may have changed while
	// waiting for the lock.
	var current string
	row = tx.QueryRow(ctx, `SELECT status FROM visits WHERE visit_id = $1 FOR UPDATE`, visitID)
	if err = row.Scan(&current); err != nil {
		return models.Visit{}, unavailable(err)
	}
	if !store.ValidTransition(current, newStatus) {
		err = store.ErrInvalidTransition
		return models.Visit{}, store.ErrInvalidTransition
	}

	if _, err = tx.Exec(ctx, `UPDATE visits SET status = $1 WHERE visit_id = $2`, newStatus, visitID); err != nil {
		return models.Visit{}, unavailable(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, unavailable(err)
	}
	visit.Status = newStatus
	return visit, nil
}

func (s *Store) ReassignSequence(ctx context.Context, bucket store.BucketKey, orderedVisitIDs []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockBucket(ctx, tx, bucket); err != nil {
		return err
	}

	where, args := bucketWhere(bucket, 1)
	rows, err := tx.Query(ctx, `
		SELECT visit_id FROM visits
		WHERE status = 'waiting' AND `+where+`
		FOR UPDATE
	`, args...)
	if err != nil {
		return unavailable(err)
	}
	waiting := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return unavailable(err)
		}
		waiting[id] = struct{}{}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return unavailable(err)
	}

	if len(orderedVisitIDs) != len(waiting) {
		err = store.ErrVisitSetMismatch
		return store.ErrVisitSetMismatch
	}
	for _, id := range orderedVisitIDs {
		if _, ok := waiting[id]; !ok {
			err = store.ErrVisitSetMismatch
			return store.ErrVisitSetMismatch
		}
		delete(waiting, id)
	}

	// New sequences are drawn above the bucket counter so later
	// admissions still sort after every reordered visit.
	n := int64(len(orderedVisitIDs))
	var top int64
	row := tx.QueryRow(ctx, `
		INSERT INTO bucket_sequences (bucket, next_seq) VALUES ($1, $2)
		ON CONFLICT (bucket) DO UPDATE SET next_seq = bucket_sequences.next_seq + $2
		RETURNING next_seq
	`, bucket.String(), n)
	if err = row.Scan(&top); err != nil {
		return unavailable(err)
	}
	base := top - n + 1

	for i, id := range orderedVisitIDs {
		if _, err = tx.Exec(ctx, `UPDATE visits SET sequence = $1 WHERE visit_id = $2`, base+int64(i), id); err != nil {
			return unavailable(err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) AddVerification(ctx context.Context, input store.AddVerificationInput) (models.VerificationRecord, error) {
	record := models.VerificationRecord{
		VerificationID: uuid.NewString(),
		VisitID:        input.VisitID,
		VerifiedBy:     input.VerifiedBy,
		Note:           input.Note,
		VerifiedAt:     input.VerifiedAt,
	}
	if record.VerifiedAt.IsZero() {
		record.VerifiedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO visit_verifications (verification_id, visit_id, verified_by, note, verified_at)
		VALUES ($1, $2, $3, $4, $5)
	`, record.VerificationID, record.VisitID, record.VerifiedBy, nullIfEmpty(record.Note), record.VerifiedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.VerificationRecord{}, store.ErrVisitNotFound
		}
		return models.VerificationRecord{}, unavailable(err)
	}
	return record, nil
}

func (s *Store) ListVerifications(ctx context.Context, visitID string) ([]models.VerificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT verification_id, visit_id, verified_by, COALESCE(note, ''), verified_at
		FROM visit_verifications
		WHERE visit_id = $1
		ORDER BY verified_at ASC
	`, visitID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var records []models.VerificationRecord
	for rows.Next() {
		var record models.VerificationRecord
		if err := rows.Scan(&record.VerificationID, &record.VisitID, &record.VerifiedBy, &record.Note, &record.VerifiedAt); err != nil {
			return nil, unavailable(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}

func lockBucket(ctx context.Context, tx pgx.Tx, bucket store.BucketKey) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, bucket.String()); err != nil {
		return unavailable(err)
	}
	return nil
}

func bucketWhere(bucket store.BucketKey, start int) (string, []interface{}) {
	if bucket.Kind == models.BucketTherapy {
		return fmt.Sprintf("bucket_kind = 'therapy' AND clinic_id = $%d AND therapy_type = $%d", start, start+1),
			[]interface{}{bucket.ClinicID, bucket.TherapyType}
	}
	return fmt.Sprintf("bucket_kind = 'general' AND clinic_id = $%d AND doctor_id = $%d AND location_id = $%d", start, start+1, start+2),
		[]interface{}{bucket.ClinicID, bucket.DoctorID, bucket.LocationID}
}

func scanVisit(row pgx.Row) (models.Visit, error) {
	var visit models.Visit
	var doctorID sql.NullString
	var locationID sql.NullString
	var therapyType sql.NullString
	if err := row.Scan(&visit.VisitID, &visit.AppointmentID, &visit.PatientID, &visit.ClinicID,
		&doctorID, &locationID, &visit.BucketKind, &therapyType, &visit.CheckInMethod,
		&visit.Status, &visit.EnqueuedAt, &visit.Sequence); err != nil {
		return models.Visit{}, err
	}
	if doctorID.Valid {
		visit.DoctorID = doctorID.String
	}
	if locationID.Valid {
		visit.LocationID = locationID.String
	}
	if therapyType.Valid {
		visit.TherapyType = therapyType.String
	}
	return visit, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
