/*
scheduler.go - Queued bill run scheduler

PURPOSE:
  Periodically picks up queued bill runs and processes them, oldest first,
  one at a time.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Shares the handler's processing lock with POST /process
  - A bill run that errors stays in error; it is never retried
  - A run interrupted by Stop goes back to queued and is picked up on the
    next start

CONFIGURATION:
  - CheckInterval: How often to check (default: 30 seconds)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBillRunScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessBillRun
  - twopart/orchestrator.go: What processing a bill run does
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/abstraction-billing/twopart"
	"go.uber.org/zap"
)

// BillRunScheduler processes queued bill runs in the background.
type BillRunScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBillRunScheduler creates a new scheduler.
func NewBillRunScheduler(handler *Handler) *BillRunScheduler {
	return &BillRunScheduler{
		Handler:       handler,
		CheckInterval: 30 * time.Second,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *BillRunScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.Handler.Logger
	if !s.Enabled {
		logger.Info("bill run scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run(ctx)

	logger.Info("bill run scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight bill run to finish
// or observe cancellation.
func (s *BillRunScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Handler.Logger.Info("bill run scheduler stopped")
}

func (s *BillRunScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunOnce processes every bill run queued at the time of the call and
// returns how many it processed.
func (s *BillRunScheduler) RunOnce(ctx context.Context) int {
	logger := s.Handler.Logger

	queued, err := s.Handler.Store.ListBillRuns(ctx, twopart.BillRunQueued)
	if err != nil {
		logger.Error("list queued bill runs failed", zap.Error(err))
		return 0
	}

	processed := 0
	for _, billRun := range queued {
		if ctx.Err() != nil {
			return processed
		}
		if _, err := s.Handler.ProcessBillRun(ctx, billRun.ID); err != nil {
			logger.Error("scheduled bill run failed",
				zap.String("bill_run_id", billRun.ID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	if processed > 0 {
		logger.Info("scheduled bill runs processed", zap.Int("count", processed))
	}
	return processed
}
