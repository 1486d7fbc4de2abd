package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// The worker drains mark events published by the API and recomputes the
// per-student attendance summaries for the affected class and day.
func main() {
	cfg := config.Load()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	q := queue.NewRedisQueue(redisClient.Client, "faceattend:marks")

	ledger := attendance.NewRepository(db.Client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}

	log.Println("Worker started, waiting for mark events")
	for evt := range events {
		if err := ledger.RecomputeSummary(ctx, evt.ClassID, evt.Date, evt.Slot); err != nil {
			log.Printf("summary recompute failed for class %d: %v", evt.ClassID, err)
			continue
		}
		log.Printf("summary updated: class=%d date=%s record=%s", evt.ClassID, evt.Date.Format("2006-01-02"), evt.RecordID)
	}
	log.Println("Worker exited")
}
