package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActiveSlotConstraint is the partial unique index guarding one active
// appointment per (doctor, date, slot). See db.Migrate.
const ActiveSlotConstraint = "appointments_active_slot_uidx"

const pgUniqueViolation = "23505"

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, slot_minutes, consultation_type, status,
	symptoms, diagnosis, notes, follow_up, follow_up_date, cancelled_by, cancellation_reason,
	created_at, consultation_started_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slot int32
	var status, consultation, cancelledBy string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&slot,
		&consultation,
		&status,
		&a.Symptoms,
		&a.Diagnosis,
		&a.Notes,
		&a.FollowUp,
		&a.FollowUpDate,
		&cancelledBy,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.ConsultationStartedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = CalendarDay(a.Date)
	a.Slot = TimeOfDay(slot)
	a.ConsultationType = ConsultationType(consultation)
	a.Status = Status(status)
	a.CancelledBy = Role(cancelledBy)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == ActiveSlotConstraint
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev EventLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, appt *Appointment, ev EventLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, slot_minutes, time_slot,
			consultation_type, status, symptoms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+appointmentColumns,
		appt.ID, appt.PatientID, appt.DoctorID, appt.Date, int32(appt.Slot), appt.TimeSlot(),
		string(appt.ConsultationType), string(appt.Status), appt.Symptoms, appt.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isActiveSlotViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		ORDER BY slot_minutes, created_at
	`, doctorID, CalendarDay(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_date DESC, slot_minutes
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, slot_minutes
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateTransition(ctx context.Context, next *Appointment, from Status, ev EventLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    diagnosis = $3,
		    notes = $4,
		    follow_up = $5,
		    follow_up_date = $6,
		    consultation_started_at = $7,
		    cancelled_by = $8,
		    cancellation_reason = $9,
		    updated_at = $10
		WHERE id = $1
		  AND status = $11
		RETURNING `+appointmentColumns,
		next.ID, string(next.Status), next.Diagnosis, next.Notes, next.FollowUp, next.FollowUpDate,
		next.ConsultationStartedAt, string(next.CancelledBy), next.CancellationReason, next.UpdatedAt,
		string(from))

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Either the row is gone or its status moved under us.
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, next.ID).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, ErrStaleStatus
		}
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM appointment_events
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PgProfileStore reads availability profiles from doctor_availability.
type PgProfileStore struct {
	pool *pgxpool.Pool
}

func NewPgProfileStore(pool *pgxpool.Pool) *PgProfileStore {
	return &PgProfileStore{pool: pool}
}

func (s *PgProfileStore) GetProfile(ctx context.Context, doctorID uuid.UUID) (*AvailabilityProfile, error) {
	var days []int16
	var start, end int32

	err := s.pool.QueryRow(ctx, `
		SELECT working_days, start_minutes, end_minutes
		FROM doctor_availability
		WHERE doctor_id = $1
	`, doctorID).Scan(&days, &start, &end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	p := &AvailabilityProfile{
		DoctorID: doctorID,
		Start:    TimeOfDay(start),
		End:      TimeOfDay(end),
	}
	for _, d := range days {
		p.WorkingDays = append(p.WorkingDays, time.Weekday(d))
	}
	return p, nil
}

func (s *PgProfileStore) UpsertProfile(ctx context.Context, p AvailabilityProfile) error {
	days := make([]int16, 0, len(p.WorkingDays))
	for _, d := range p.WorkingDays {
		days = append(days, int16(d))
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, working_days, start_minutes, end_minutes, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doctor_id) DO UPDATE
		SET working_days = EXCLUDED.working_days,
		    start_minutes = EXCLUDED.start_minutes,
		    end_minutes = EXCLUDED.end_minutes,
		    updated_at = now()
	`, p.DoctorID, days, int32(p.Start), int32(p.End))
	if err != nil {
		return fmt.Errorf("upsert availability profile: %w", err)
	}
	return nil
}
