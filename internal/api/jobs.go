package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/blobstore"
	"github.com/scanline-io/timetablex/internal/calendar"
	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/metrics"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/queue"
	"github.com/scanline-io/timetablex/internal/repositories"
)

// maxArtifactSizeBytes is the Submission Facade's upload cap (spec §4.1).
const maxArtifactSizeBytes = 10 << 20 // 10 MiB

// JobHandler groups the HTTP handlers that implement the core's external
// interface (spec §6): submission, status/result, listing, webhook
// attachment, cancellation, and the calendar projection.
type JobHandler struct {
	jobs     repositories.JobRepository
	webhooks repositories.WebhookRepository
	queue    queue.Queue
	blobs    blobstore.Store
	validate *validator.Validate
	logger   *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(
	jobs repositories.JobRepository,
	webhooks repositories.WebhookRepository,
	q queue.Queue,
	blobs blobstore.Store,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		webhooks: webhooks,
		queue:    q,
		blobs:    blobs,
		validate: validator.New(),
		logger:   logger.Named("job_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

type submitResponse struct {
	JobID             string `json:"jobId"`
	Status            string `json:"status"`
	CreatedAt         string `json:"createdAt"`
	StatusURL         string `json:"statusUrl"`
	WebhookRegistered bool   `json:"webhookRegistered"`
}

type timeBlockResponse struct {
	Day        string   `json:"day"`
	StartTime  string   `json:"startTime"`
	EndTime    string   `json:"endTime"`
	EventName  string   `json:"eventName"`
	Notes      string   `json:"notes,omitempty"`
	Color      string   `json:"color,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFixed    bool     `json:"isFixed,omitempty"`
}

type recurringBlockResponse struct {
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	EventName    string `json:"eventName"`
	AppliesDaily bool   `json:"appliesDaily"`
	Notes        string `json:"notes,omitempty"`
}

type resultResponse struct {
	TeacherName     string                   `json:"teacherName,omitempty"`
	ClassName       string                   `json:"className,omitempty"`
	Term            string                   `json:"term,omitempty"`
	Week            string                   `json:"week,omitempty"`
	Blocks          []timeBlockResponse      `json:"blocks"`
	RecurringBlocks []recurringBlockResponse `json:"recurringBlocks"`
	Warnings        []string                 `json:"warnings"`
}

type jobResponse struct {
	JobID            string          `json:"jobId"`
	Status           string          `json:"status"`
	CreatedAt        string          `json:"createdAt"`
	StartedAt        *string         `json:"startedAt,omitempty"`
	CompletedAt      *string         `json:"completedAt,omitempty"`
	ProcessingMethod string          `json:"processingMethod,omitempty"`
	Complexity       string          `json:"complexity,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	RetryCount       int             `json:"retryCount"`
	Result           *resultResponse `json:"result,omitempty"`
}

type listJobsResponse struct {
	Jobs       []jobResponse `json:"jobs"`
	Pagination pagination    `json:"pagination"`
}

type pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

func jobToResponse(j *db.Job, tt *db.ExtractedTimetable, blocks []db.TimeBlock, recurring []db.RecurringBlock) jobResponse {
	resp := jobResponse{
		JobID:            j.ID.String(),
		Status:           j.Status,
		CreatedAt:        j.CreatedAt.UTC().Format(time.RFC3339),
		ProcessingMethod: j.Method,
		Complexity:       j.Complexity,
		ErrorMessage:     j.ErrorMessage,
		RetryCount:       j.RetryCount,
	}
	if j.StartedAt != nil {
		s := j.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	if tt != nil {
		resp.Result = &resultResponse{
			TeacherName:     tt.TeacherName,
			ClassName:       tt.ClassName,
			Term:            tt.Term,
			Week:            tt.Week,
			Blocks:          make([]timeBlockResponse, len(blocks)),
			RecurringBlocks: make([]recurringBlockResponse, len(recurring)),
			Warnings:        warningsFromJSON(tt.Warnings),
		}
		for i, b := range blocks {
			resp.Result.Blocks[i] = timeBlockResponse{
				Day: b.Day, StartTime: formatMinutes(b.StartTime), EndTime: formatMinutes(b.EndTime),
				EventName: b.EventName, Notes: b.Notes, Color: b.Color, Confidence: b.Confidence, IsFixed: b.IsFixed,
			}
		}
		for i, r := range recurring {
			resp.Result.RecurringBlocks[i] = recurringBlockResponse{
				StartTime: formatMinutes(r.StartTime), EndTime: formatMinutes(r.EndTime),
				EventName: r.EventName, AppliesDaily: r.AppliesDaily, Notes: r.Notes,
			}
		}
	}
	return resp
}

func warningsFromJSON(s string) []string {
	var w []string
	if s == "" {
		return w
	}
	_ = json.Unmarshal([]byte(s), &w)
	return w
}

func formatMinutes(m int) string {
	h, mm := m/60, m%60
	return pad2(h) + ":" + pad2(mm)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// -----------------------------------------------------------------------------
// Submit
// -----------------------------------------------------------------------------

// Submit handles POST /api/v2/timetable/upload. It implements the
// Submission Facade (C4, spec §4.1): persist artifact, create Job, enqueue,
// optionally register a webhook before enqueue.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxArtifactSizeBytes + (1 << 20)); err != nil {
		ErrBadRequest(w, "could not parse multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrBadRequest(w, "missing \"file\" field")
		return
	}
	defer file.Close()

	if header.Size > maxArtifactSizeBytes {
		ErrPayloadTooLarge(w, "artifact exceeds "+humanize.IBytes(maxArtifactSizeBytes)+", got "+humanize.IBytes(uint64(header.Size)))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if !preprocessor.SupportedMimeType(mimeType) {
		ErrUnsupportedType(w, "unsupported mime type \""+mimeType+"\"")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxArtifactSizeBytes+1))
	if err != nil {
		ErrBadRequest(w, "could not read uploaded file: "+err.Error())
		return
	}
	if len(data) > maxArtifactSizeBytes {
		ErrPayloadTooLarge(w, "artifact exceeds "+humanize.IBytes(maxArtifactSizeBytes))
		return
	}

	submitterID := r.FormValue("userId")
	teacherHint := r.FormValue("teacherName")
	classHint := r.FormValue("className")
	webhookURL := r.FormValue("webhookUrl")

	ctx := r.Context()
	key := blobstore.UploadKey(submitterID, time.Now().UTC().UnixMilli(), header.Filename)
	if err := h.blobs.Put(ctx, key, data, mimeType); err != nil {
		h.logger.Error("failed to persist uploaded artifact", zap.Error(err))
		ErrInternal(w)
		return
	}

	job := db.Job{
		Status:          "pending",
		ArtifactBlobKey: key,
		MimeType:        mimeType,
		OriginalName:    header.Filename,
		SizeBytes:       int64(len(data)),
		SubmitterID:     submitterID,
		TeacherNameHint: teacherHint,
		ClassNameHint:   classHint,
		MaxRetries:      3,
	}
	if err := h.jobs.Create(ctx, &job); err != nil {
		h.logger.Error("failed to create job record", zap.Error(err))
		ErrInternal(w)
		return
	}

	webhookRegistered := false
	if webhookURL != "" {
		wh := db.Webhook{JobID: job.ID, URL: webhookURL, MaxAttempts: 3, Secret: db.EncryptedString(generateWebhookSecret())}
		if err := h.webhooks.Create(ctx, &wh); err != nil {
			h.logger.Error("failed to register webhook before enqueue", zap.String("job_id", job.ID.String()), zap.Error(err))
		} else {
			webhookRegistered = true
		}
	}

	msg := queue.JobMessage{
		JobID:            job.ID.String(),
		FileURL:          key,
		OriginalFileName: header.Filename,
		MimeType:         mimeType,
		TeacherName:      teacherHint,
		ClassName:        classHint,
		UserID:           submitterID,
	}
	body, err := msg.Marshal()
	if err != nil {
		h.failEnqueue(ctx, &job, err)
		ErrInternal(w)
		return
	}
	if _, err := h.queue.Send(ctx, body); err != nil {
		h.failEnqueue(ctx, &job, err)
		ErrInternal(w)
		return
	}

	metrics.JobsSubmitted.Inc()

	Accepted(w, submitResponse{
		JobID:             job.ID.String(),
		Status:            "pending",
		CreatedAt:         job.CreatedAt.UTC().Format(time.RFC3339),
		StatusURL:         "/api/v2/timetable/jobs/" + job.ID.String(),
		WebhookRegistered: webhookRegistered,
	})
}

// failEnqueue marks a freshly created Job Failed with kind enqueue_error
// (spec §4.1: "if enqueue fails after Job creation, the Job is marked
// Failed... and does not occupy the queue"). No worker has touched this job
// yet — it was never enqueued — so a direct field mutation is safe without
// going through the Processing-gated MarkFailed transition.
func (h *JobHandler) failEnqueue(ctx context.Context, job *db.Job, cause error) {
	h.logger.Error("enqueue failed after job creation, marking failed", zap.String("job_id", job.ID.String()), zap.Error(cause))
	now := time.Now().UTC()
	job.Status = "failed"
	job.ErrorMessage = "enqueue_error: " + cause.Error()
	job.CompletedAt = &now
	if err := h.jobs.Update(ctx, job); err != nil {
		h.logger.Error("failed to mark job failed after enqueue error", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
}

func generateWebhookSecret() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Status / result
// -----------------------------------------------------------------------------

// GetByID handles GET /api/v2/timetable/jobs/{jobId}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "jobId")
	if !ok {
		return
	}

	job, tt, blocks, recurring, err := h.jobs.GetByIDWithResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get job", zap.String("job_id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(job, tt, blocks, recurring))
}

// List handles GET /api/v2/timetable/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	jobs, total, err := h.jobs.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i], nil, nil, nil)
	}
	Ok(w, listJobsResponse{Jobs: items, Pagination: pagination{Limit: opts.Limit, Offset: opts.Offset, Total: total}})
}

// -----------------------------------------------------------------------------
// Webhook attach
// -----------------------------------------------------------------------------

type attachWebhookRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Secret string `json:"secret"`
}

type attachWebhookResponse struct {
	WebhookID string `json:"webhookId"`
	JobID     string `json:"jobId"`
	URL       string `json:"url"`
}

// AttachWebhook handles POST /api/v2/timetable/jobs/{jobId}/webhook.
func (h *JobHandler) AttachWebhook(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, r, "jobId")
	if !ok {
		return
	}

	var req attachWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrUnprocessable(w, err.Error())
		return
	}

	if _, err := h.jobs.GetByID(r.Context(), jobID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		ErrInternal(w)
		return
	}

	wh := db.Webhook{JobID: jobID, URL: req.URL, MaxAttempts: 3, Secret: db.EncryptedString(req.Secret)}
	if err := h.webhooks.Create(r.Context(), &wh); err != nil {
		h.logger.Error("failed to create webhook", zap.String("job_id", jobID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, attachWebhookResponse{WebhookID: wh.ID.String(), JobID: jobID.String(), URL: wh.URL})
}

// -----------------------------------------------------------------------------
// Cancel
// -----------------------------------------------------------------------------

// Cancel handles DELETE /api/v2/timetable/jobs/{jobId}. Only a Pending job
// can be cancelled (spec §5) — the conditional MarkCancelled transition
// enforces this without a separate read-then-write race window.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "jobId")
	if !ok {
		return
	}

	if err := h.jobs.MarkCancelled(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "job is no longer pending and cannot be cancelled")
			return
		}
		h.logger.Error("failed to cancel job", zap.String("job_id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	metrics.JobsCompleted.WithLabelValues("cancelled").Inc()

	NoContent(w)
}

// -----------------------------------------------------------------------------
// Calendar projection
// -----------------------------------------------------------------------------

// FullCalendar handles GET /api/v2/timetable/jobs/{jobId}/fullcalendar (C11).
func (h *JobHandler) FullCalendar(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "jobId")
	if !ok {
		return
	}

	job, tt, blocks, recurring, err := h.jobs.GetByIDWithResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		ErrInternal(w)
		return
	}
	if job.Status != "completed" || tt == nil {
		ErrUnprocessable(w, "job has no completed result to project")
		return
	}

	Ok(w, calendar.Project(tt, blocks, recurring))
}

// -----------------------------------------------------------------------------
// DLQ housekeeping
// -----------------------------------------------------------------------------

type dlqEntryResponse struct {
	ErrorMessage string `json:"errorMessage"`
	EnqueuedAt   string `json:"enqueuedAt"`
}

// ListDLQ handles GET /api/v2/timetable/dlq (SPEC_FULL.md §C): a read-only
// listing of dead-lettered jobs for operators, giving spec §7's "clients
// can reinspect the DLQ externally" a concrete shape.
func (h *JobHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.queue.(queue.DLQLister)
	if !ok {
		Ok(w, []dlqEntryResponse{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := lister.ListDLQ(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dlq", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]dlqEntryResponse, len(entries))
	for i, e := range entries {
		items[i] = dlqEntryResponse{
			ErrorMessage: e.ErrorMessage,
			EnqueuedAt:   time.UnixMilli(e.EnqueuedAtMs).UTC().Format(time.RFC3339),
		}
	}
	Ok(w, items)
}

// -----------------------------------------------------------------------------
// Shared handler helpers
// -----------------------------------------------------------------------------

// parseUUID extracts and parses a UUID path parameter by name.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a valid UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

// paginationOpts reads limit and offset query parameters from the request.
// Defaults: limit=20, offset=0. Max limit is capped at 100.
func paginationOpts(r *http.Request) repositories.ListOptions {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return repositories.ListOptions{Limit: limit, Offset: offset}
}
