package store

import (
	"context"
	"database/sql"
)

// Migrate applies the schema. The UNIQUE (student_id, day) constraint on
// attendance_records is what enforces one attendance per student per day
// under concurrent writers.
func Migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id           TEXT PRIMARY KEY,
		first_name   TEXT NOT NULL,
		middle_name  TEXT NOT NULL DEFAULT '',
		last_name    TEXT NOT NULL,
		class_name   TEXT NOT NULL DEFAULT '',
		photo_url    TEXT NOT NULL DEFAULT '',
		enrolled     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(id),
		day         DATE NOT NULL,
		status      TEXT NOT NULL DEFAULT 'Present',
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, day)
	);

	CREATE TABLE IF NOT EXISTS verification_events (
		id              TEXT PRIMARY KEY,
		student_id      TEXT NOT NULL,
		verified        BOOLEAN NOT NULL,
		confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL DEFAULT '',
		within_fence    BOOLEAN,
		distance_meters DOUBLE PRECISION,
		occurred_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance_records(student_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_day     ON attendance_records(day);
	CREATE INDEX IF NOT EXISTS idx_verification_student ON verification_events(student_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}
