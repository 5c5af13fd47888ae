// internal/app/system/workers/paymentpoller.go
package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StalePoller finalizes online payments left Initiated by asking the
// processor about them.
type StalePoller interface {
	PollStale(ctx context.Context, olderThan time.Duration, limit int64) (int, error)
}

// PaymentPoller is a background worker that re-queries the payment processor
// for payments whose buyer never came back and whose notification was lost.
type PaymentPoller struct {
	payments  StalePoller
	log       *zap.Logger
	interval  time.Duration
	olderThan time.Duration
	batch     int64
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPaymentPoller creates a new payment poller.
//
// Parameters:
//   - payments: the payment service
//   - logger: zap logger for logging
//   - interval: how often to poll (e.g., 10 minutes)
//   - olderThan: how long a payment must have been Initiated before it is polled (e.g., 1 hour)
func NewPaymentPoller(payments StalePoller, logger *zap.Logger, interval, olderThan time.Duration) *PaymentPoller {
	return &PaymentPoller{
		payments:  payments,
		log:       logger,
		interval:  interval,
		olderThan: olderThan,
		batch:     100,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background polling loop.
func (w *PaymentPoller) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("payment poller started",
		zap.Duration("interval", w.interval),
		zap.Duration("older_than", w.olderThan))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *PaymentPoller) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("payment poller stopped")
}

func (w *PaymentPoller) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll runs one polling pass.
func (w *PaymentPoller) Poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	count, err := w.payments.PollStale(ctx, w.olderThan, w.batch)
	if err != nil {
		w.log.Error("failed to poll stale payments", zap.Error(err))
		return
	}

	if count > 0 {
		w.log.Info("finalized stale payments", zap.Int("count", count))
	}
}
