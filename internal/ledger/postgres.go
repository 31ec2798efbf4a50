package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresLedger persists attendance in Postgres. The (student_id, day)
// unique constraint is what makes concurrent verified check-ins race safely
// to a single row.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgres creates a ledger over an open connection.
func NewPostgres(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) RecordVerifiedCheckIn(ctx context.Context, studentID string, day Day) (Record, error) {
	if studentID == "" {
		return Record{}, errors.New("student id required")
	}

	rec := Record{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		Day:        day,
		Status:     StatusPresent,
		RecordedAt: time.Now().UTC(),
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, day, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, day) DO NOTHING
	`, rec.ID, rec.StudentID, rec.Day, rec.Status, rec.RecordedAt)
	if err != nil {
		return Record{}, err
	}

	// Read back whichever row won: ours, or the one that already existed.
	row := l.db.QueryRowContext(ctx, `
		SELECT id, student_id, day, status, recorded_at
		FROM attendance_records
		WHERE student_id = $1 AND day = $2
	`, studentID, day)
	return scanRecord(row)
}

func (l *PostgresLedger) GetRecord(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, student_id, day, status, recorded_at
		FROM attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (l *PostgresLedger) SetStatus(ctx context.Context, id string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	row := l.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET status = $2
		WHERE id = $1
		RETURNING id, student_id, day, status, recorded_at
	`, id, status)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (l *PostgresLedger) BulkSetStatus(ctx context.Context, updates []StatusUpdate) []BulkResult {
	return bulkSetStatus(ctx, l, updates)
}

func (l *PostgresLedger) ListDay(ctx context.Context, day Day) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student_id, day, status, recorded_at
		FROM attendance_records
		WHERE day = $1
		ORDER BY recorded_at
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (l *PostgresLedger) History(ctx context.Context, studentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, student_id, day, status, recorded_at
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY day DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (l *PostgresLedger) MarkAbsent(ctx context.Context, studentIDs []string, day Day, now time.Time) (int, error) {
	marked := 0
	for _, id := range studentIDs {
		res, err := l.db.ExecContext(ctx, `
			INSERT INTO attendance_records (id, student_id, day, status, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (student_id, day) DO NOTHING
		`, uuid.NewString(), id, day, StatusAbsent, now.UTC())
		if err != nil {
			return marked, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}
	return marked, nil
}

func (l *PostgresLedger) RecordAudit(ctx context.Context, evt AuditEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO verification_events (id, student_id, verified, confidence, reason, within_fence, distance_meters, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.ID, evt.StudentID, evt.Verified, evt.Confidence, evt.Reason, evt.WithinFence, evt.DistanceMeters, evt.OccurredAt)
	return err
}

func scanRecord(row *sql.Row) (Record, error) {
	var (
		rec Record
		day time.Time
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &day, &rec.Status, &rec.RecordedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Day = DayOf(day, time.UTC) // DATE columns come back as midnight UTC
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var (
			rec Record
			day time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &day, &rec.Status, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Day = DayOf(day, time.UTC)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// bulkSetStatus is shared by backends: sequential per-record updates with
// per-record results, no cross-batch atomicity.
func bulkSetStatus(ctx context.Context, l Ledger, updates []StatusUpdate) []BulkResult {
	results := make([]BulkResult, 0, len(updates))
	for _, u := range updates {
		_, err := l.SetStatus(ctx, u.RecordID, u.Status)
		results = append(results, BulkResult{RecordID: u.RecordID, Err: err})
	}
	return results
}
