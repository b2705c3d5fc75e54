// Package worker implements the Worker Pool (C10, spec §4.7): N concurrent
// drainers that pull jobs off the Job Queue, run them through the
// Preprocessor and Orchestrator, and persist the result, following the
// retry protocol of spec §7 on failure.
package worker

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/scanline-io/timetablex/internal/blobstore"
	"github.com/scanline-io/timetablex/internal/clock"
	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/extraction"
	"github.com/scanline-io/timetablex/internal/metrics"
	"github.com/scanline-io/timetablex/internal/notification"
	"github.com/scanline-io/timetablex/internal/orchestrator"
	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/queue"
	"github.com/scanline-io/timetablex/internal/repositories"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

// Pool runs Config.WorkerConcurrency drainers against a shared Queue and Job
// Store. Workers share no mutable in-process state; correctness rests on
// the queue's visibility timeout and the Job Store's conditional updates
// (spec §4.7 "Concurrency semantics").
type Pool struct {
	queue      queue.Queue
	jobs       repositories.JobRepository
	timetables repositories.TimetableRepository
	retryLogs  repositories.RetryLogRepository
	webhooks   repositories.WebhookRepository
	blobs      blobstore.Store
	pre        *preprocessor.Preprocessor
	orch       *orchestrator.Orchestrator
	notify     *notification.Service
	config     pipeline.Config
	clock      clock.Clock
	log        *zap.Logger
}

// New returns a Pool wiring every dependency the worker loop needs.
func New(
	q queue.Queue,
	jobs repositories.JobRepository,
	timetables repositories.TimetableRepository,
	retryLogs repositories.RetryLogRepository,
	webhooks repositories.WebhookRepository,
	blobs blobstore.Store,
	pre *preprocessor.Preprocessor,
	orch *orchestrator.Orchestrator,
	notify *notification.Service,
	config pipeline.Config,
	clk clock.Clock,
	log *zap.Logger,
) *Pool {
	return &Pool{
		queue:      q,
		jobs:       jobs,
		timetables: timetables,
		retryLogs:  retryLogs,
		webhooks:   webhooks,
		blobs:      blobs,
		pre:        pre,
		orch:       orch,
		notify:     notify,
		config:     config,
		clock:      clk,
		log:        log.Named("worker"),
	}
}

// Run spawns Config.WorkerConcurrency drainers and blocks until ctx is
// cancelled or a drainer returns a non-nil error. On cancellation it
// returns once every drainer has observed ctx.Done and returned — the
// bounded wait for in-flight jobs spec §4.7's "Shutdown" calls for.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.WorkerConcurrency; i++ {
		g.Go(func() error {
			p.drain(gctx)
			return nil
		})
	}
	return g.Wait()
}

// drain is one worker's poll loop (spec §4.7 "Per worker loop").
func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.queue.Receive(ctx, 1, p.config.LongPollSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("queue receive failed", zap.Error(err))
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		p.handle(ctx, msgs[0])
	}
}

// handle processes one received message through steps 2-6 of spec §4.7.
func (p *Pool) handle(ctx context.Context, msg queue.Message) {
	jm, err := queue.ParseJobMessage(msg.Body)
	if err != nil {
		p.log.Error("unparseable job message, dropping", zap.Error(err), zap.String("messageId", msg.ID))
		p.deleteMessage(ctx, msg)
		return
	}

	jobID, err := uuid.Parse(jm.JobID)
	if err != nil {
		p.log.Error("job message has a malformed jobId, dropping", zap.Error(err), zap.String("messageId", msg.ID))
		p.deleteMessage(ctx, msg)
		return
	}

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		p.log.Error("job lookup failed, dropping message", zap.Error(err), zap.String("jobId", jobID.String()))
		p.deleteMessage(ctx, msg)
		return
	}

	switch types.JobStatus(job.Status) {
	case types.JobStatusCancelled:
		// S6: a job cancelled while Pending must be observed before any work
		// starts, and never reach a backend call.
		p.log.Info("job cancelled before processing, skipping", zap.String("jobId", jobID.String()))
		p.deleteMessage(ctx, msg)
		return
	case types.JobStatusCompleted, types.JobStatusFailed:
		// S7: a redelivery that arrives after the job already reached a
		// terminal status must not touch the result a second time.
		p.log.Info("job already terminal, dropping duplicate delivery", zap.String("jobId", jobID.String()))
		p.deleteMessage(ctx, msg)
		return
	case types.JobStatusProcessing:
		// This delivery is a legitimate retry redelivery (the prior attempt
		// left the job in Processing per the retry protocol) or a racing
		// duplicate of one still in flight. Either way proceed directly;
		// the conditional Completed transition is what prevents a
		// double-write, not this check.
	default: // Pending
		if err := p.jobs.MarkProcessing(ctx, jobID, p.clock.Now()); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				p.log.Info("lost the race to claim this job, dropping message", zap.String("jobId", jobID.String()))
				p.deleteMessage(ctx, msg)
				return
			}
			p.log.Error("mark processing failed, leaving message for redelivery", zap.Error(err), zap.String("jobId", jobID.String()))
			return
		}
	}

	blob, err := p.blobs.Get(ctx, jm.FileURL)
	if err != nil {
		p.fail(ctx, jobID, job, msg, pipeline.Wrap(types.ErrorKindBlob, err))
		return
	}

	artifact, err := p.pre.Process(ctx, blob, jm.MimeType, jm.OriginalFileName)
	if err != nil {
		p.fail(ctx, jobID, job, msg, err)
		return
	}

	hint := extraction.Hint{
		TeacherName: firstNonEmpty(jm.TeacherName, job.TeacherNameHint),
		ClassName:   firstNonEmpty(jm.ClassName, job.ClassNameHint),
	}

	result, err := p.orch.Run(ctx, artifact, hint)
	if err != nil {
		p.fail(ctx, jobID, job, msg, err)
		return
	}

	p.succeed(ctx, jobID, job, result, msg)
}

// succeed implements spec §4.7 step 5.
func (p *Pool) succeed(ctx context.Context, jobID uuid.UUID, job *db.Job, result orchestrator.Result, msg queue.Message) {
	resultJSON, err := json.Marshal(toResultDocument(result))
	if err != nil {
		p.log.Error("marshal extraction result failed", zap.Error(err), zap.String("jobId", jobID.String()))
		return
	}

	resultKey := blobstore.ResultKey(jobID.String())
	if err := p.blobs.Put(ctx, resultKey, resultJSON, "application/json"); err != nil {
		p.log.Error("upload result blob failed, leaving message for redelivery", zap.Error(err), zap.String("jobId", jobID.String()))
		return
	}

	tt := toDBTimetable(jobID, result.Data)
	if err := p.timetables.CreateWithBlocks(ctx, &tt); err != nil {
		p.log.Error("persist extracted timetable failed, leaving message for redelivery", zap.Error(err), zap.String("jobId", jobID.String()))
		return
	}

	err = p.jobs.MarkCompleted(ctx, jobID, string(result.Method), string(result.Complexity), resultKey, tt.ID, p.clock.Now())
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			// S7: a prior delivery already completed this job. Discard this
			// result without a second write and acknowledge the message.
			p.log.Info("job already completed by a prior delivery, discarding duplicate result", zap.String("jobId", jobID.String()))
			p.deleteMessage(ctx, msg)
			return
		}
		p.log.Error("mark completed failed, leaving message for redelivery", zap.Error(err), zap.String("jobId", jobID.String()))
		return
	}

	p.deleteMessage(ctx, msg)

	metrics.JobsCompleted.WithLabelValues("completed").Inc()
	if job.StartedAt != nil {
		metrics.JobDuration.WithLabelValues(string(result.Method), string(result.Complexity)).Observe(p.clock.Now().Sub(*job.StartedAt).Seconds())
	}

	p.dispatchWebhooks(ctx, jobID)
}

func (p *Pool) dispatchWebhooks(ctx context.Context, jobID uuid.UUID) {
	webhooks, err := p.webhooks.ListByJob(ctx, jobID)
	if err != nil {
		p.log.Error("list webhooks for completed job failed", zap.Error(err), zap.String("jobId", jobID.String()))
		return
	}
	for _, wh := range webhooks {
		if wh.Delivered {
			continue
		}
		if err := p.notify.Attempt(ctx, wh); err != nil {
			p.log.Error("webhook dispatch attempt failed", zap.Error(err), zap.String("webhookId", wh.ID.String()))
		}
	}
}

// fail implements the retry protocol of spec §7.
func (p *Pool) fail(ctx context.Context, jobID uuid.UUID, job *db.Job, msg queue.Message, cause error) {
	attempt := job.RetryCount + 1
	logErr := p.retryLogs.Append(ctx, &db.RetryLog{
		JobID:         jobID,
		AttemptNumber: attempt,
		ErrorKind:     string(pipeline.KindOf(cause)),
		Message:       cause.Error(),
		Timestamp:     p.clock.Now(),
	})
	if logErr != nil {
		p.log.Error("append retry log failed", zap.Error(logErr), zap.String("jobId", jobID.String()))
	}
	metrics.RetryAttempts.Inc()

	// retryCount is recorded for every failed attempt, the final one
	// included, so it always equals the number of RetryLog rows.
	if err := p.jobs.MarkRetrying(ctx, jobID, attempt, cause.Error()); err != nil {
		p.log.Error("mark retrying failed", zap.Error(err), zap.String("jobId", jobID.String()))
	}
	if attempt < job.MaxRetries {
		// Leave the message in the queue; it reappears after the visibility
		// timeout for the next attempt (spec §7: "one visibility-timeout per
		// attempt" back-off).
		return
	}

	if err := p.jobs.MarkFailed(ctx, jobID, cause.Error(), p.clock.Now()); err != nil {
		p.log.Error("mark failed failed", zap.Error(err), zap.String("jobId", jobID.String()))
	}
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
	if err := p.queue.SendDLQ(ctx, msg.Body, cause.Error()); err != nil {
		p.log.Error("send to dlq failed", zap.Error(err), zap.String("jobId", jobID.String()))
	}
	p.deleteMessage(ctx, msg)
}

func (p *Pool) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := p.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		p.log.Error("delete message failed", zap.Error(err), zap.String("messageId", msg.ID))
	}
}

// RecoverStaleJobs requeues jobs stuck in Processing whose startedAt is
// older than one visibility timeout without a terminal transition — a crashed
// worker's in-flight job, grounded on the stale-recovery sweep a worker runs
// before joining its main poll loop. It returns how many jobs were
// requeued.
func (p *Pool) RecoverStaleJobs(ctx context.Context) (int, error) {
	cutoff := p.clock.Now().Add(-p.config.VisibilityTimeout())
	stale, err := p.jobs.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range stale {
		if err := p.jobs.TransitionStatus(ctx, job.ID, "processing", "pending"); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				continue // already progressed past Processing by the time we got here
			}
			p.log.Error("transition stale job to pending failed", zap.Error(err), zap.String("jobId", job.ID.String()))
			continue
		}

		jm := queue.JobMessage{
			JobID:            job.ID.String(),
			FileURL:          job.ArtifactBlobKey,
			OriginalFileName: job.OriginalName,
			MimeType:         job.MimeType,
			TeacherName:      job.TeacherNameHint,
			ClassName:        job.ClassNameHint,
			UserID:           job.SubmitterID,
		}
		body, err := jm.Marshal()
		if err != nil {
			p.log.Error("marshal stale job message failed", zap.Error(err), zap.String("jobId", job.ID.String()))
			continue
		}
		if _, err := p.queue.Send(ctx, body); err != nil {
			p.log.Error("requeue stale job failed", zap.Error(err), zap.String("jobId", job.ID.String()))
			continue
		}
		recovered++
	}

	return recovered, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// resultDocument is the JSON shape persisted under results/{jobId}/… —
// the same data GetByIDWithResult reassembles from the database, kept
// alongside it as the durable artifact the spec's result document refers to.
type resultDocument struct {
	TeacherName     string                    `json:"teacherName"`
	ClassName       string                    `json:"className"`
	Term            string                    `json:"term"`
	Week            string                    `json:"week"`
	Blocks          []timetable.TimeBlock     `json:"blocks"`
	RecurringBlocks []timetable.RecurringBlock `json:"recurringBlocks"`
	Warnings        []string                  `json:"warnings"`
	Method          types.ExtractionMethod    `json:"method"`
	Complexity      types.ComplexityLevel     `json:"complexity"`
	ElapsedMs       int64                     `json:"elapsedMs"`
}

func toResultDocument(r orchestrator.Result) resultDocument {
	return resultDocument{
		TeacherName:     r.Data.TeacherName,
		ClassName:       r.Data.ClassName,
		Term:            r.Data.Term,
		Week:            r.Data.Week,
		Blocks:          r.Data.Blocks,
		RecurringBlocks: r.Data.RecurringBlocks,
		Warnings:        r.Data.Warnings,
		Method:          r.Method,
		Complexity:      r.Complexity,
		ElapsedMs:       r.ElapsedMs,
	}
}

func toDBTimetable(jobID uuid.UUID, t timetable.Timetable) db.ExtractedTimetable {
	warnings, err := json.Marshal(t.Warnings)
	if err != nil || t.Warnings == nil {
		warnings = []byte("[]")
	}

	blocks := make([]db.TimeBlock, len(t.Blocks))
	for i, b := range t.Blocks {
		blocks[i] = db.TimeBlock{
			Day:        string(b.Day),
			StartTime:  b.StartTime,
			EndTime:    b.EndTime,
			EventName:  b.EventName,
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
			IsFixed:    b.IsFixed,
		}
	}

	recurring := make([]db.RecurringBlock, len(t.RecurringBlocks))
	for i, r := range t.RecurringBlocks {
		recurring[i] = db.RecurringBlock{
			StartTime:    r.StartTime,
			EndTime:      r.EndTime,
			EventName:    r.EventName,
			AppliesDaily: r.AppliesDaily,
			Notes:        r.Notes,
		}
	}

	return db.ExtractedTimetable{
		JobID:           jobID,
		TeacherName:     t.TeacherName,
		ClassName:       t.ClassName,
		Term:            t.Term,
		Week:            t.Week,
		Warnings:        string(warnings),
		Blocks:          blocks,
		RecurringBlocks: recurring,
	}
}
