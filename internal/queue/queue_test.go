package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"campuscheck/internal/ledger"
)

func testEvent() ledger.AuditEvent {
	return ledger.AuditEvent{
		ID:         "evt-1",
		StudentID:  "S1",
		Verified:   true,
		Confidence: 0.92,
		Reason:     "MATCH",
		OccurredAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := q.Publish(ctx, Message{Type: TypeCheckIn, Event: testEvent()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Type != TypeCheckIn || msg.Event.StudentID != "S1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewRedisQueue(client, "test:checkins")
	if err := q.Publish(ctx, Message{Type: TypeCheckIn, Event: testEvent()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Event.ID != "evt-1" || msg.Event.Confidence != 0.92 {
			t.Fatalf("event mangled in transit: %+v", msg.Event)
		}
	case <-ctx.Done():
		t.Fatal("no message delivered from redis")
	}
}
