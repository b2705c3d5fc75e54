// Package main implements a one-shot seed command that loads fixture jobs
// directly into the timetablex database, for exercising the HTTP surface
// locally without running a real extraction through the Worker Pool.
//
// Usage:
//
//	TIMETABLEX_SECRET_KEY=<same key as the server> go run ./cmd/seed
//
// The command defines no flags; it reads its settings from these
// environment variables:
//
//	TIMETABLEX_DB_DSN      SQLite file path or Postgres DSN (default: ./timetablex.db)
//	TIMETABLEX_SECRET_KEY  Master encryption key — must match the value used by the server
//	TIMETABLEX_DATA_DIR    Blob store base directory (default: ./data)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/scanline-io/timetablex/internal/blobstore"
	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	flag.Parse()

	// ─── Config ───────────────────────────────────────────────────────────────

	dsn := envOrDefault("TIMETABLEX_DB_DSN", "./timetablex.db")
	dataDir := envOrDefault("TIMETABLEX_DATA_DIR", "./data")

	secretKey := os.Getenv("TIMETABLEX_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"TIMETABLEX_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted webhook secret will be unreadable at delivery time.",
		)
	}

	// ─── Encryption ───────────────────────────────────────────────────────────

	// InitEncryption must run before any DB write so EncryptedString fields
	// (the seeded webhook's Secret) are encoded with the right key.
	if err := db.InitEncryption([]byte(secretKey)); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	gormDB, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query noise in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	blobs, err := blobstore.NewLocalStore(dataDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	jobRepo := repositories.NewJobRepository(gormDB)
	timetableRepo := repositories.NewTimetableRepository(gormDB)
	webhookRepo := repositories.NewWebhookRepository(gormDB)

	ctx := context.Background()

	// ─── Completed job with a full extracted timetable ──────────────────────

	completedJob, err := seedCompletedJob(ctx, jobRepo, timetableRepo, blobs)
	if err != nil {
		return fmt.Errorf("seed completed job: %w", err)
	}
	fmt.Printf("✓ Completed job seeded\n  ID: %s\n", completedJob.ID)

	// ─── Pending job, untouched by any worker ────────────────────────────────

	pendingJob, err := seedPendingJob(ctx, jobRepo, blobs)
	if err != nil {
		return fmt.Errorf("seed pending job: %w", err)
	}
	fmt.Printf("✓ Pending job seeded\n  ID: %s\n", pendingJob.ID)

	// ─── Webhook attached to the completed job ───────────────────────────────

	webhook, err := seedWebhook(ctx, webhookRepo, completedJob.ID)
	if err != nil {
		return fmt.Errorf("seed webhook: %w", err)
	}
	fmt.Printf("✓ Webhook seeded\n  ID: %s\n  Job: %s\n", webhook.ID, webhook.JobID)

	return nil
}

func seedCompletedJob(
	ctx context.Context,
	jobs repositories.JobRepository,
	timetables repositories.TimetableRepository,
	blobs blobstore.Store,
) (*db.Job, error) {
	artifactKey := blobstore.UploadKey("seed", 1700000000000, "sample-timetable.png")
	if err := blobs.Put(ctx, artifactKey, []byte("fixture artifact bytes"), "image/png"); err != nil {
		return nil, fmt.Errorf("write artifact blob: %w", err)
	}

	resultKey := blobstore.ResultKey("seed-completed")
	if err := blobs.Put(ctx, resultKey, []byte(`{"teacherName":"Ms. Alvarez"}`), "application/json"); err != nil {
		return nil, fmt.Errorf("write result blob: %w", err)
	}

	now := time.Now().UTC()
	startedAt := now.Add(-2 * time.Minute)

	job := &db.Job{
		Status:          "completed",
		ArtifactBlobKey: artifactKey,
		MimeType:        "image/png",
		OriginalName:    "sample-timetable.png",
		SizeBytes:       int64(len("fixture artifact bytes")),
		TeacherNameHint: "Ms. Alvarez",
		StartedAt:       &startedAt,
		CompletedAt:     &now,
		Method:          "structured",
		Complexity:      "simple",
		ResultBlobKey:   resultKey,
	}
	if err := jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	timetable := &db.ExtractedTimetable{
		JobID:       job.ID,
		TeacherName: "Ms. Alvarez",
		ClassName:   "Grade 5B",
		Term:        "Fall 2026",
		Week:        "A",
		Warnings:    `["low confidence on Wednesday 2pm block"]`,
		Blocks: []db.TimeBlock{
			{Day: "Monday", StartTime: 480, EndTime: 540, EventName: "Math", IsFixed: true},
			{Day: "Monday", StartTime: 540, EndTime: 600, EventName: "Reading", IsFixed: true},
			{Day: "Wednesday", StartTime: 840, EndTime: 900, EventName: "Science"},
		},
		RecurringBlocks: []db.RecurringBlock{
			{StartTime: 720, EndTime: 750, EventName: "Lunch", AppliesDaily: true},
		},
	}
	if err := timetables.CreateWithBlocks(ctx, timetable); err != nil {
		return nil, fmt.Errorf("create timetable: %w", err)
	}

	timetableID := timetable.ID
	job.ExtractedTimetableID = &timetableID
	if err := jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("attach timetable to job: %w", err)
	}

	return job, nil
}

func seedPendingJob(ctx context.Context, jobs repositories.JobRepository, blobs blobstore.Store) (*db.Job, error) {
	artifactKey := blobstore.UploadKey("seed", 1700000100000, "queued-timetable.pdf")
	if err := blobs.Put(ctx, artifactKey, []byte("fixture pdf bytes"), "application/pdf"); err != nil {
		return nil, fmt.Errorf("write artifact blob: %w", err)
	}

	job := &db.Job{
		Status:          "pending",
		ArtifactBlobKey: artifactKey,
		MimeType:        "application/pdf",
		OriginalName:    "queued-timetable.pdf",
		SizeBytes:       int64(len("fixture pdf bytes")),
		MaxRetries:      3,
	}
	if err := jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func seedWebhook(ctx context.Context, webhooks repositories.WebhookRepository, jobID uuid.UUID) (*db.Webhook, error) {
	webhook := &db.Webhook{
		JobID:       jobID,
		URL:         "https://example.com/hooks/timetablex",
		Secret:      db.EncryptedString("seed-fixture-secret"),
		MaxAttempts: 3,
	}
	if err := webhooks.Create(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
