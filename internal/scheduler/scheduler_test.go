package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeWebhookSweeper struct {
	calls int32
}

func (f *fakeWebhookSweeper) SweepPending(context.Context, int) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

type fakeStaleRecoverer struct {
	calls int32
}

func (f *fakeStaleRecoverer) RecoverStaleJobs(context.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

type fakeQueueDepthSampler struct {
	calls int32
	depth int64
}

func (f *fakeQueueDepthSampler) Depth(context.Context) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.depth, nil
}

func TestSchedulerRunsBothSweepsOnTheirIntervals(t *testing.T) {
	webhooks := &fakeWebhookSweeper{}
	staleJobs := &fakeStaleRecoverer{}

	s, err := New(webhooks, staleJobs, nil, Config{
		WebhookSweepInterval:       20 * time.Millisecond,
		StaleRecoverySweepInterval: 20 * time.Millisecond,
		WebhookSweepLimit:          10,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&webhooks.calls) > 0 && atomic.LoadInt32(&staleJobs.calls) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sweeps did not run within deadline: webhook calls=%d, stale calls=%d",
		atomic.LoadInt32(&webhooks.calls), atomic.LoadInt32(&staleJobs.calls))
}

func TestNewAppliesDefaultsForZeroConfig(t *testing.T) {
	s, err := New(&fakeWebhookSweeper{}, &fakeStaleRecoverer{}, nil, Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	if s.config.WebhookSweepInterval != DefaultConfig().WebhookSweepInterval {
		t.Errorf("WebhookSweepInterval = %v, want default", s.config.WebhookSweepInterval)
	}
	if s.config.WebhookSweepLimit != DefaultConfig().WebhookSweepLimit {
		t.Errorf("WebhookSweepLimit = %d, want default", s.config.WebhookSweepLimit)
	}
	if s.config.QueueDepthSampleInterval != DefaultConfig().QueueDepthSampleInterval {
		t.Errorf("QueueDepthSampleInterval = %v, want default", s.config.QueueDepthSampleInterval)
	}
}

func TestStopShutsDownCleanly(t *testing.T) {
	s, err := New(&fakeWebhookSweeper{}, &fakeStaleRecoverer{}, nil, DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestQueueDepthSweepRunsWhenSamplerProvided(t *testing.T) {
	sampler := &fakeQueueDepthSampler{depth: 7}

	s, err := New(&fakeWebhookSweeper{}, &fakeStaleRecoverer{}, sampler, Config{
		WebhookSweepInterval:       time.Hour,
		StaleRecoverySweepInterval: time.Hour,
		QueueDepthSampleInterval:   20 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&sampler.calls) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue depth sweep did not run within deadline")
}
