// Package ledger is the authority for attendance records. Its core guarantee:
// at most one record per (student, calendar day), enforced as an idempotent
// upsert so repeated or racing verified check-ins converge on a single row.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status of a day's attendance.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Day is a calendar day in YYYY-MM-DD form. Attendance is keyed on the day,
// not the timestamp.
type Day string

const dayLayout = "2006-01-02"

// DayOf truncates t to the calendar day in loc. The campus timezone decides
// where the day boundary falls.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(dayLayout))
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(s), nil
}

// Record is one student's attendance for one day.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	Day        Day       `json:"date"`
	Status     Status    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AuditEvent is the telemetry row written for every verification attempt,
// successful or not. The worker persists these off the queue.
type AuditEvent struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	Verified       bool      `json:"verified"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	WithinFence    *bool     `json:"within_fence,omitempty"`
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// StatusUpdate is one entry of a bulk status change.
type StatusUpdate struct {
	RecordID string `json:"record_id"`
	Status   Status `json:"status"`
}

// BulkResult reports the per-record outcome of a bulk update. There is no
// atomicity across the batch; callers needing all-or-nothing build it above
// the ledger.
type BulkResult struct {
	RecordID string
	Err      error
}

var (
	// ErrNotFound means no attendance record matches the given id.
	ErrNotFound = errors.New("attendance record not found")
	// ErrInvalidStatus means the status is not Present/Absent/Late.
	ErrInvalidStatus = errors.New("invalid attendance status")
)

// Ledger is the contract implemented by attendance backends.
type Ledger interface {
	// RecordVerifiedCheckIn upserts a Present record keyed on (studentID, day).
	// If a record already exists for that pair it is returned unchanged;
	// duplicate verified check-ins are a no-op, never an error.
	RecordVerifiedCheckIn(ctx context.Context, studentID string, day Day) (Record, error)

	// GetRecord fetches one record by id.
	GetRecord(ctx context.Context, id string) (Record, error)

	// SetStatus overrides the status of an existing record.
	SetStatus(ctx context.Context, id string, status Status) (Record, error)

	// BulkSetStatus applies updates sequentially, one result per entry.
	BulkSetStatus(ctx context.Context, updates []StatusUpdate) []BulkResult

	// ListDay returns all records for a calendar day.
	ListDay(ctx context.Context, day Day) ([]Record, error)

	// History returns a student's records, newest first.
	History(ctx context.Context, studentID string, limit int) ([]Record, error)

	// MarkAbsent inserts an Absent record for each student without a record on
	// day, returning how many were marked. Students already recorded keep
	// their record.
	MarkAbsent(ctx context.Context, studentIDs []string, day Day, now time.Time) (int, error)

	// RecordAudit persists a verification audit event.
	RecordAudit(ctx context.Context, evt AuditEvent) error
}
