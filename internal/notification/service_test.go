package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/db"
)

type fakeWebhookRepo struct {
	delivered   map[uuid.UUID]time.Time
	attempts    map[uuid.UUID]int
	lastErr     map[uuid.UUID]string
	pending     []db.Webhook
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{
		delivered: make(map[uuid.UUID]time.Time),
		attempts:  make(map[uuid.UUID]int),
		lastErr:   make(map[uuid.UUID]string),
	}
}

func (f *fakeWebhookRepo) Create(context.Context, *db.Webhook) error { return nil }
func (f *fakeWebhookRepo) GetByID(context.Context, uuid.UUID) (*db.Webhook, error) {
	return nil, nil
}
func (f *fakeWebhookRepo) ListByJob(context.Context, uuid.UUID) ([]db.Webhook, error) { return nil, nil }
func (f *fakeWebhookRepo) ListPendingDelivery(context.Context, int) ([]db.Webhook, error) {
	return f.pending, nil
}
func (f *fakeWebhookRepo) MarkDelivered(_ context.Context, id uuid.UUID, deliveredAt time.Time) error {
	f.delivered[id] = deliveredAt
	return nil
}
func (f *fakeWebhookRepo) MarkAttempt(_ context.Context, id uuid.UUID, attempts int, _ time.Time, errMsg string) error {
	f.attempts[id] = attempts
	f.lastErr[id] = errMsg
	return nil
}

func TestAttemptMarksDeliveredOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newFakeWebhookRepo()
	svc := NewService(repo, NewWebhookSender(DefaultConfig()), zap.NewNop())

	wh := db.Webhook{URL: srv.URL, MaxAttempts: 3}
	wh.ID = uuid.New()
	wh.JobID = uuid.New()

	if err := svc.Attempt(context.Background(), wh); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if _, ok := repo.delivered[wh.ID]; !ok {
		t.Error("expected webhook to be marked delivered")
	}
}

func TestAttemptRecordsFailureBelowMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := newFakeWebhookRepo()
	svc := NewService(repo, NewWebhookSender(DefaultConfig()), zap.NewNop())

	wh := db.Webhook{URL: srv.URL, MaxAttempts: 3, Attempts: 0}
	wh.ID = uuid.New()
	wh.JobID = uuid.New()

	if err := svc.Attempt(context.Background(), wh); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if repo.attempts[wh.ID] != 1 {
		t.Errorf("attempts = %d, want 1", repo.attempts[wh.ID])
	}
	if _, ok := repo.delivered[wh.ID]; ok {
		t.Error("expected webhook not to be marked delivered")
	}
}

func TestSweepPendingAttemptsEachWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newFakeWebhookRepo()
	wh1, wh2 := db.Webhook{URL: srv.URL, MaxAttempts: 3}, db.Webhook{URL: srv.URL, MaxAttempts: 3}
	wh1.ID, wh1.JobID = uuid.New(), uuid.New()
	wh2.ID, wh2.JobID = uuid.New(), uuid.New()
	repo.pending = []db.Webhook{wh1, wh2}

	svc := NewService(repo, NewWebhookSender(DefaultConfig()), zap.NewNop())
	n, err := svc.SweepPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if n != 2 {
		t.Errorf("SweepPending attempted %d, want 2", n)
	}
	if len(repo.delivered) != 2 {
		t.Errorf("delivered = %d, want 2", len(repo.delivered))
	}
}
