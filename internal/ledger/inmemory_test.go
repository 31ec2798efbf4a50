package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRecordVerifiedCheckInIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	day := Day("2024-05-01")

	first, err := l.RecordVerifiedCheckIn(ctx, "S1", day)
	if err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	if first.Status != StatusPresent {
		t.Fatalf("expected Present, got %s", first.Status)
	}

	for i := 0; i < 5; i++ {
		again, err := l.RecordVerifiedCheckIn(ctx, "S1", day)
		if err != nil {
			t.Fatalf("repeat check-in %d: %v", i, err)
		}
		if again.ID != first.ID {
			t.Fatalf("expected same record, got %s vs %s", again.ID, first.ID)
		}
		if !again.RecordedAt.Equal(first.RecordedAt) {
			t.Fatalf("recordedAt changed on repeat: %v vs %v", again.RecordedAt, first.RecordedAt)
		}
	}

	recs, err := l.ListDay(ctx, day)
	if err != nil {
		t.Fatalf("list day: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", len(recs))
	}
}

func TestRecordVerifiedCheckInConcurrent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	day := Day("2024-05-01")

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := l.RecordVerifiedCheckIn(ctx, "S1", day)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent check-ins produced different records: %s vs %s", ids[i], ids[0])
		}
	}
	recs, _ := l.ListDay(ctx, day)
	if len(recs) != 1 {
		t.Fatalf("expected one record after race, got %d", len(recs))
	}
}

func TestSeparateDaysSeparateRecords(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	a, _ := l.RecordVerifiedCheckIn(ctx, "S1", Day("2024-05-01"))
	b, _ := l.RecordVerifiedCheckIn(ctx, "S1", Day("2024-05-02"))
	if a.ID == b.ID {
		t.Fatal("different days must be different records")
	}

	hist, err := l.History(ctx, "S1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Day != Day("2024-05-02") {
		t.Fatalf("expected newest-first history, got %+v", hist)
	}
}

func TestSetStatus(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	rec, _ := l.RecordVerifiedCheckIn(ctx, "S1", Day("2024-05-01"))

	updated, err := l.SetStatus(ctx, rec.ID, StatusLate)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != StatusLate {
		t.Fatalf("expected Late, got %s", updated.Status)
	}

	if _, err := l.SetStatus(ctx, rec.ID, Status("Snoozing")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := l.SetStatus(ctx, "nope", StatusAbsent); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBulkSetStatusPerRecord(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	a, _ := l.RecordVerifiedCheckIn(ctx, "S1", Day("2024-05-01"))
	b, _ := l.RecordVerifiedCheckIn(ctx, "S2", Day("2024-05-01"))

	results := l.BulkSetStatus(ctx, []StatusUpdate{
		{RecordID: a.ID, Status: StatusLate},
		{RecordID: "missing", Status: StatusAbsent},
		{RecordID: b.ID, Status: StatusAbsent},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("valid updates failed: %+v", results)
	}
	if !errors.Is(results[1].Err, ErrNotFound) {
		t.Fatalf("expected per-record ErrNotFound, got %v", results[1].Err)
	}

	// The failure in the middle must not undo the surrounding updates.
	got, _ := l.GetRecord(ctx, b.ID)
	if got.Status != StatusAbsent {
		t.Fatalf("expected later update applied, got %s", got.Status)
	}
}

func TestMarkAbsentSkipsRecorded(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	day := Day("2024-05-01")
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

	checked, _ := l.RecordVerifiedCheckIn(ctx, "S1", day)

	marked, err := l.MarkAbsent(ctx, []string{"S1", "S2", "S3"}, day, now)
	if err != nil {
		t.Fatalf("mark absent: %v", err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 marked absent, got %d", marked)
	}

	// Sweep is idempotent.
	marked, _ = l.MarkAbsent(ctx, []string{"S1", "S2", "S3"}, day, now)
	if marked != 0 {
		t.Fatalf("second sweep marked %d", marked)
	}

	got, _ := l.GetRecord(ctx, checked.ID)
	if got.Status != StatusPresent {
		t.Fatalf("sweep overwrote a present record: %s", got.Status)
	}
}

func TestDayOfUsesLocation(t *testing.T) {
	kathmandu, err := time.LoadLocation("Asia/Kathmandu")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 22:00 UTC is already the next morning in Kathmandu (UTC+5:45).
	utc := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	if d := DayOf(utc, kathmandu); d != Day("2024-05-02") {
		t.Fatalf("expected 2024-05-02, got %s", d)
	}
	if d := DayOf(utc, time.UTC); d != Day("2024-05-01") {
		t.Fatalf("expected 2024-05-01, got %s", d)
	}
}

func TestParseDay(t *testing.T) {
	if _, err := ParseDay("2024-05-01"); err != nil {
		t.Fatalf("valid day rejected: %v", err)
	}
	for _, bad := range []string{"", "05/01/2024", "2024-13-01", "yesterday"} {
		if _, err := ParseDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
