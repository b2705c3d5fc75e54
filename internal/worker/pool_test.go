package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/clock"
	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/extraction"
	"github.com/scanline-io/timetablex/internal/notification"
	"github.com/scanline-io/timetablex/internal/orchestrator"
	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/queue"
	"github.com/scanline-io/timetablex/internal/repositories"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

// ---- fakes -----------------------------------------------------------------

type fakeQueue struct {
	mu      sync.Mutex
	deleted []string
	dlq     []string
	sent    [][]byte
}

func (f *fakeQueue) Send(_ context.Context, body []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return "sent-id", nil
}
func (f *fakeQueue) Receive(context.Context, int, int) ([]queue.Message, error) { return nil, nil }
func (f *fakeQueue) Delete(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}
func (f *fakeQueue) SendDLQ(_ context.Context, _ []byte, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, errorMessage)
	return nil
}

type fakeJobRepo struct {
	jobs map[uuid.UUID]*db.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: make(map[uuid.UUID]*db.Job)} }

func (r *fakeJobRepo) put(j db.Job) *db.Job {
	jc := j
	r.jobs[jc.ID] = &jc
	return &jc
}

func (r *fakeJobRepo) Create(context.Context, *db.Job) error { return nil }
func (r *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*db.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *j
	return &cp, nil
}
func (r *fakeJobRepo) GetByIDWithResult(context.Context, uuid.UUID) (*db.Job, *db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	return nil, nil, nil, nil, nil
}
func (r *fakeJobRepo) Update(_ context.Context, job *db.Job) error {
	r.jobs[job.ID] = job
	return nil
}
func (r *fakeJobRepo) TransitionStatus(_ context.Context, id uuid.UUID, fromStatus, toStatus string) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != fromStatus {
		return repositories.ErrConflict
	}
	j.Status = toStatus
	return nil
}
func (r *fakeJobRepo) MarkProcessing(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != "pending" {
		return repositories.ErrConflict
	}
	j.Status = "processing"
	j.StartedAt = &startedAt
	return nil
}
func (r *fakeJobRepo) MarkCompleted(_ context.Context, id uuid.UUID, method, complexity, resultBlobKey string, timetableID uuid.UUID, completedAt time.Time) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != "processing" {
		return repositories.ErrConflict
	}
	j.Status = "completed"
	j.Method = method
	j.Complexity = complexity
	j.ResultBlobKey = resultBlobKey
	j.ExtractedTimetableID = &timetableID
	j.CompletedAt = &completedAt
	return nil
}
func (r *fakeJobRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != "processing" {
		return repositories.ErrConflict
	}
	j.Status = "failed"
	j.ErrorMessage = errMsg
	j.CompletedAt = &completedAt
	return nil
}
func (r *fakeJobRepo) MarkRetrying(_ context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != "processing" {
		return repositories.ErrConflict
	}
	j.RetryCount = retryCount
	j.ErrorMessage = errMsg
	return nil
}
func (r *fakeJobRepo) MarkCancelled(_ context.Context, id uuid.UUID) error {
	j, ok := r.jobs[id]
	if !ok || j.Status != "pending" {
		return repositories.ErrConflict
	}
	j.Status = "cancelled"
	return nil
}
func (r *fakeJobRepo) List(context.Context, repositories.ListOptions) ([]db.Job, int64, error) {
	return nil, 0, nil
}
func (r *fakeJobRepo) ListStaleProcessing(_ context.Context, olderThan time.Time) ([]db.Job, error) {
	var out []db.Job
	for _, j := range r.jobs {
		if j.Status == "processing" && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			out = append(out, *j)
		}
	}
	return out, nil
}

type fakeTimetableRepo struct {
	created []db.ExtractedTimetable
}

func (r *fakeTimetableRepo) CreateWithBlocks(_ context.Context, t *db.ExtractedTimetable) error {
	if t.ID == (uuid.UUID{}) {
		t.ID = uuid.New()
	}
	r.created = append(r.created, *t)
	return nil
}
func (r *fakeTimetableRepo) GetByID(context.Context, uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	return nil, nil, nil, nil
}
func (r *fakeTimetableRepo) GetByJobID(context.Context, uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	return nil, nil, nil, nil
}

type fakeRetryLogRepo struct {
	rows []db.RetryLog
}

func (r *fakeRetryLogRepo) Append(_ context.Context, log *db.RetryLog) error {
	r.rows = append(r.rows, *log)
	return nil
}
func (r *fakeRetryLogRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]db.RetryLog, error) {
	var out []db.RetryLog
	for _, row := range r.rows {
		if row.JobID == jobID {
			out = append(out, row)
		}
	}
	return out, nil
}
func (r *fakeRetryLogRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	rows, _ := r.ListByJob(ctx, jobID)
	return int64(len(rows)), nil
}

type fakeWebhookRepo struct {
	byJob map[uuid.UUID][]db.Webhook
}

func (r *fakeWebhookRepo) Create(context.Context, *db.Webhook) error { return nil }
func (r *fakeWebhookRepo) GetByID(context.Context, uuid.UUID) (*db.Webhook, error) {
	return nil, repositories.ErrNotFound
}
func (r *fakeWebhookRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]db.Webhook, error) {
	return r.byJob[jobID], nil
}
func (r *fakeWebhookRepo) ListPendingDelivery(context.Context, int) ([]db.Webhook, error) {
	return nil, nil
}
func (r *fakeWebhookRepo) MarkDelivered(context.Context, uuid.UUID, time.Time) error { return nil }
func (r *fakeWebhookRepo) MarkAttempt(context.Context, uuid.UUID, int, time.Time, string) error {
	return nil
}

type fakeBlobStore struct {
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{objects: make(map[string][]byte)} }

func (s *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}
func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}
func (s *fakeBlobStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

// fakeBackend implements extraction.Backend and always returns the same
// canned result or error, counting invocations when calls is non-nil.
type fakeBackend struct {
	result timetable.Timetable
	err    error
	calls  *int
}

func (f fakeBackend) Extract(context.Context, preprocessor.ProcessedArtifact, extraction.Hint) (timetable.Timetable, error) {
	if f.calls != nil {
		*f.calls++
	}
	return f.result, f.err
}

// ---- test setup -------------------------------------------------------------

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

func newTestPool(t *testing.T, vision fakeBackend, cfg pipeline.Config) (*Pool, *fakeJobRepo, *fakeQueue, *fakeTimetableRepo, *fakeRetryLogRepo, clock.Clock) {
	t.Helper()

	jobRepo := newFakeJobRepo()
	q := &fakeQueue{}
	ttRepo := &fakeTimetableRepo{}
	retryRepo := &fakeRetryLogRepo{}
	whRepo := &fakeWebhookRepo{byJob: make(map[uuid.UUID][]db.Webhook)}
	blobs := newFakeBlobStore()
	blobs.objects["uploads/anon/1-grid.png"] = pngFixture(t)

	structured := fakeBackend{result: validGrid()}
	fakeClock := clock.NewFake()

	orch := orchestrator.New(structured, vision, structured, cfg, zap.NewNop()).WithClock(fakeClock.Now)
	pre := preprocessor.New(nil, zap.NewNop())
	notify := notification.NewService(whRepo, notification.NewWebhookSender(notification.DefaultConfig()), zap.NewNop())

	pool := New(q, jobRepo, ttRepo, retryRepo, whRepo, blobs, pre, orch, notify, cfg, fakeClock, zap.NewNop())
	return pool, jobRepo, q, ttRepo, retryRepo, fakeClock
}

func validGrid() timetable.Timetable {
	return timetable.Timetable{
		TeacherName: "Ms. Lee",
		Blocks: []timetable.TimeBlock{
			{Day: types.Monday, StartTime: 540, EndTime: 600, EventName: "Maths"},
		},
	}
}

func pendingJob(id uuid.UUID, maxRetries int) db.Job {
	j := db.Job{
		ArtifactBlobKey: "uploads/anon/1-grid.png",
		MimeType:        "image/png",
		OriginalName:    "grid.png",
		MaxRetries:      maxRetries,
	}
	j.ID = id
	j.Status = "pending"
	return j
}

func pngMessage(jobID uuid.UUID) queue.Message {
	jm := queue.JobMessage{JobID: jobID.String(), FileURL: "uploads/anon/1-grid.png", OriginalFileName: "grid.png", MimeType: "image/png"}
	body, _ := jm.Marshal()
	return queue.Message{ID: "m1", Body: body, ReceiptHandle: "rh-" + jobID.String()}
}

// ---- scenarios --------------------------------------------------------------

// S6 — a job cancelled while Pending must never reach a backend call.
func TestHandleCancelledJobNeverCallsBackend(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.StructuredEnabled = false // force the vision path so a stray call is obvious
	calls := 0
	vision := fakeBackend{result: validGrid(), calls: &calls}

	pool, jobRepo, q, ttRepo, _, _ := newTestPool(t, vision, cfg)
	id := uuid.New()
	job := pendingJob(id, 3)
	job.Status = "cancelled"
	jobRepo.put(job)

	pool.handle(context.Background(), pngMessage(id))

	if calls != 0 {
		t.Fatalf("backend must not be called for a cancelled job, calls=%d", calls)
	}
	if len(ttRepo.created) != 0 {
		t.Error("no timetable should be persisted for a cancelled job")
	}
	if len(q.deleted) != 1 {
		t.Errorf("expected the message to be deleted, deleted=%v", q.deleted)
	}
	got, _ := jobRepo.GetByID(context.Background(), id)
	if got.Status != "cancelled" {
		t.Errorf("job status = %q, want unchanged cancelled", got.Status)
	}
}

// S7 — a redelivered message for an already-Completed job must not upload
// or mutate a second result.
func TestHandleDuplicateDeliveryAfterCompletionIsANoOp(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	vision := fakeBackend{result: validGrid()}
	pool, jobRepo, q, ttRepo, _, _ := newTestPool(t, vision, cfg)

	id := uuid.New()
	jobRepo.put(pendingJob(id, 3))

	msg := pngMessage(id)
	pool.handle(context.Background(), msg)

	got, _ := jobRepo.GetByID(context.Background(), id)
	if got.Status != "completed" {
		t.Fatalf("first delivery should complete the job, status=%q", got.Status)
	}
	if len(ttRepo.created) != 1 {
		t.Fatalf("expected exactly one persisted timetable, got %d", len(ttRepo.created))
	}

	// Second, racing delivery of the same message.
	pool.handle(context.Background(), msg)

	if len(ttRepo.created) != 1 {
		t.Errorf("duplicate delivery must not persist a second timetable, got %d", len(ttRepo.created))
	}
	if len(q.deleted) != 2 {
		t.Errorf("both deliveries should delete their message, deleted=%v", q.deleted)
	}
}

// S5 — three consecutive transient vision failures with maxRetries=3 end in
// Failed, with exactly 3 RetryLog rows and one DLQ record, and the message
// removed from the main queue only after the final failure.
func TestHandleRetryThenDLQ(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.StructuredEnabled = false     // force every attempt through the vision path
	cfg.VisionFallbackEnabled = false // no in-process fallback masking the failures

	visionErr := pipeline.Wrap(types.ErrorKindVisionBackend, errors.New("transient upstream failure"))
	vision := fakeBackend{err: visionErr}

	pool, jobRepo, q, ttRepo, retryRepo, _ := newTestPool(t, vision, cfg)
	id := uuid.New()
	jobRepo.put(pendingJob(id, 3))
	msg := pngMessage(id)

	for attempt := 1; attempt <= 3; attempt++ {
		pool.handle(context.Background(), msg)

		got, _ := jobRepo.GetByID(context.Background(), id)
		if got.RetryCount != attempt {
			t.Errorf("after attempt %d: retryCount = %d, want %d", attempt, got.RetryCount, attempt)
		}
		if attempt < 3 {
			if got.Status != "processing" {
				t.Errorf("after attempt %d: status = %q, want processing", attempt, got.Status)
			}
			if len(q.deleted) != 0 {
				t.Errorf("after attempt %d: message must stay in queue, deleted=%v", attempt, q.deleted)
			}
		}
	}

	final, _ := jobRepo.GetByID(context.Background(), id)
	if final.Status != "failed" {
		t.Errorf("final status = %q, want failed", final.Status)
	}
	if len(retryRepo.rows) != 3 {
		t.Errorf("retry log rows = %d, want 3", len(retryRepo.rows))
	}
	for i, row := range retryRepo.rows {
		if row.AttemptNumber != i+1 {
			t.Errorf("retry log[%d].AttemptNumber = %d, want %d", i, row.AttemptNumber, i+1)
		}
	}
	if len(q.dlq) != 1 {
		t.Errorf("dlq records = %d, want 1", len(q.dlq))
	}
	if len(q.deleted) != 1 {
		t.Errorf("message should be deleted exactly once, after the final failure: deleted=%v", q.deleted)
	}
	if len(ttRepo.created) != 0 {
		t.Errorf("a failed job must not have a persisted timetable, got %d", len(ttRepo.created))
	}
}

// RecoverStaleJobs requeues a crashed worker's in-flight job and transitions
// it back to Pending.
func TestRecoverStaleJobsRequeuesAndTransitionsToPending(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	vision := fakeBackend{result: validGrid()}
	pool, jobRepo, q, _, _, fakeClk := newTestPool(t, vision, cfg)

	id := uuid.New()
	job := pendingJob(id, 3)
	job.Status = "processing"
	started := fakeClk.Now().Add(-1 * time.Hour)
	job.StartedAt = &started
	jobRepo.put(job)

	n, err := pool.RecoverStaleJobs(context.Background())
	if err != nil {
		t.Fatalf("RecoverStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	got, _ := jobRepo.GetByID(context.Background(), id)
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if len(q.sent) != 1 {
		t.Errorf("expected one requeued message, got %d", len(q.sent))
	}
}
