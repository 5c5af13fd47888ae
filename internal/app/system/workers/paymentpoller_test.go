package workers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/collectives/internal/app/system/workers"
	"go.uber.org/zap"
)

type fakePoller struct {
	mu        sync.Mutex
	calls     int
	olderThan time.Duration
	err       error
}

func (f *fakePoller) PollStale(_ context.Context, olderThan time.Duration, _ int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.olderThan = olderThan
	return 2, f.err
}

func (f *fakePoller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPaymentPoller_Poll(t *testing.T) {
	f := &fakePoller{}
	w := workers.NewPaymentPoller(f, zap.NewNop(), time.Hour, 45*time.Minute)
	w.Poll()
	if f.count() != 1 {
		t.Fatalf("calls = %d, want 1", f.count())
	}
	if f.olderThan != 45*time.Minute {
		t.Errorf("olderThan = %v", f.olderThan)
	}

	f.err = errors.New("boom")
	w.Poll()
	if f.count() != 2 {
		t.Errorf("an error must not stop later polls")
	}
}

func TestPaymentPoller_StartStop(t *testing.T) {
	f := &fakePoller{}
	w := workers.NewPaymentPoller(f, zap.NewNop(), 5*time.Millisecond, time.Minute)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for f.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	if f.count() == 0 {
		t.Fatal("poller never ran")
	}

	n := f.count()
	time.Sleep(20 * time.Millisecond)
	if f.count() != n {
		t.Error("poller kept running after Stop")
	}
}
