package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied idempotently on startup. appointments_active_slot_uidx is
// what makes concurrent bookings of one slot resolve to a single winner.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS doctor_availability (
		doctor_id     UUID PRIMARY KEY,
		working_days  SMALLINT[] NOT NULL,
		start_minutes INTEGER NOT NULL CHECK (start_minutes BETWEEN 0 AND 1440),
		end_minutes   INTEGER NOT NULL CHECK (end_minutes BETWEEN 0 AND 1440),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (end_minutes > start_minutes)
	)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id                      UUID PRIMARY KEY,
		patient_id              UUID NOT NULL,
		doctor_id               UUID NOT NULL,
		appointment_date        DATE NOT NULL,
		slot_minutes            INTEGER NOT NULL CHECK (slot_minutes BETWEEN 0 AND 1439),
		time_slot               TEXT NOT NULL,
		consultation_type       TEXT NOT NULL CHECK (consultation_type IN ('in-person', 'video')),
		status                  TEXT NOT NULL CHECK (status IN ('scheduled', 'confirmed', 'checked-in', 'in-progress', 'completed', 'cancelled', 'no-show')),
		symptoms                TEXT NOT NULL DEFAULT '',
		diagnosis               TEXT NOT NULL DEFAULT '',
		notes                   TEXT NOT NULL DEFAULT '',
		follow_up               BOOLEAN NOT NULL DEFAULT false,
		follow_up_date          DATE,
		cancelled_by            TEXT NOT NULL DEFAULT '',
		cancellation_reason     TEXT NOT NULL DEFAULT '',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		consultation_started_at TIMESTAMPTZ,
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_slot_uidx
		ON appointments (doctor_id, appointment_date, slot_minutes)
		WHERE status NOT IN ('cancelled', 'no-show')`,

	`CREATE INDEX IF NOT EXISTS appointments_patient_idx
		ON appointments (patient_id, appointment_date DESC)`,

	`CREATE TABLE IF NOT EXISTS appointment_events (
		id             BIGSERIAL PRIMARY KEY,
		event_type     TEXT NOT NULL,
		appointment_id UUID REFERENCES appointments (id),
		payload        JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS appointment_events_appointment_idx
		ON appointment_events (appointment_id, id)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
