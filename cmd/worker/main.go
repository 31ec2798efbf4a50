package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuscheck/internal/config"
	"campuscheck/internal/ledger"
	"campuscheck/internal/logging"
	"campuscheck/internal/queue"
	"campuscheck/internal/store"
	"campuscheck/internal/student"
)

// Worker persists verification audit events off the queue and runs the
// end-of-day absent sweep.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campuscheck:checkins")
	}

	led := ledger.NewPostgres(db.Client)
	students := student.NewPostgres(db.Client)

	loc, err := time.LoadLocation(cfg.AttendanceTZ)
	if err != nil {
		log.Warn("unknown timezone, falling back to UTC", "tz", cfg.AttendanceTZ)
		loc = time.UTC
	}

	go runAbsentSweep(ctx, log, led, students, loc, cfg.AbsentCutoffHour)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", "err", err)
		os.Exit(1)
	}

	log.Info("worker started")
	for msg := range messages {
		if msg.Type != queue.TypeCheckIn {
			continue
		}
		if err := led.RecordAudit(ctx, msg.Event); err != nil {
			log.Error("audit persist failed", "event_id", msg.Event.ID, "err", err)
			continue
		}
		log.Debug("audit persisted",
			"event_id", msg.Event.ID,
			"student_id", msg.Event.StudentID,
			"verified", msg.Event.Verified)
	}
	log.Info("worker stopped")
}

// runAbsentSweep marks every enrolled student without a record as Absent once
// the daily cutoff passes. The sweep is idempotent so restarts re-running it
// are harmless.
func runAbsentSweep(ctx context.Context, log *slog.Logger, led ledger.Ledger, students student.Repository, loc *time.Location, cutoffHour int) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastSwept ledger.Day
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			local := now.In(loc)
			day := ledger.DayOf(now, loc)
			if local.Hour() < cutoffHour || day == lastSwept {
				continue
			}

			ids, err := students.ListIDs(ctx)
			if err != nil {
				log.Error("absent sweep: list students failed", "err", err)
				continue
			}
			marked, err := led.MarkAbsent(ctx, ids, day, now)
			if err != nil {
				log.Error("absent sweep failed", "day", day, "err", err)
				continue
			}
			lastSwept = day
			log.Info("absent sweep done", "day", day, "marked", marked, "students", len(ids))
		}
	}
}
