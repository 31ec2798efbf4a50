package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryLedger backs tests and local development. Same contract as the
// Postgres backend, enforced with a mutex instead of a unique constraint.
type InMemoryLedger struct {
	mu      sync.Mutex
	byKey   map[string]*Record // student|day -> record
	byID    map[string]*Record
	audits  []AuditEvent
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemoryLedger {
	return &InMemoryLedger{
		byKey: make(map[string]*Record),
		byID:  make(map[string]*Record),
	}
}

func key(studentID string, day Day) string { return studentID + "|" + string(day) }

func (l *InMemoryLedger) RecordVerifiedCheckIn(ctx context.Context, studentID string, day Day) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byKey[key(studentID, day)]; ok {
		return *existing, nil
	}
	rec := &Record{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		Day:        day,
		Status:     StatusPresent,
		RecordedAt: time.Now().UTC(),
	}
	l.byKey[key(studentID, day)] = rec
	l.byID[rec.ID] = rec
	return *rec, nil
}

func (l *InMemoryLedger) GetRecord(ctx context.Context, id string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

func (l *InMemoryLedger) SetStatus(ctx context.Context, id string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Status = status
	return *rec, nil
}

func (l *InMemoryLedger) BulkSetStatus(ctx context.Context, updates []StatusUpdate) []BulkResult {
	return bulkSetStatus(ctx, l, updates)
}

func (l *InMemoryLedger) ListDay(ctx context.Context, day Day) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var recs []Record
	for _, rec := range l.byID {
		if rec.Day == day {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].RecordedAt.Before(recs[j].RecordedAt) })
	return recs, nil
}

func (l *InMemoryLedger) History(ctx context.Context, studentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var recs []Record
	for _, rec := range l.byID {
		if rec.StudentID == studentID {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Day > recs[j].Day })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (l *InMemoryLedger) MarkAbsent(ctx context.Context, studentIDs []string, day Day, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	marked := 0
	for _, id := range studentIDs {
		if _, ok := l.byKey[key(id, day)]; ok {
			continue
		}
		rec := &Record{
			ID:         uuid.NewString(),
			StudentID:  id,
			Day:        day,
			Status:     StatusAbsent,
			RecordedAt: now.UTC(),
		}
		l.byKey[key(id, day)] = rec
		l.byID[rec.ID] = rec
		marked++
	}
	return marked, nil
}

func (l *InMemoryLedger) RecordAudit(ctx context.Context, evt AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	l.audits = append(l.audits, evt)
	return nil
}

// Audits returns recorded audit events. Test helper.
func (l *InMemoryLedger) Audits() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.audits))
	copy(out, l.audits)
	return out
}
