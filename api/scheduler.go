/*
scheduler.go - Automated aggregate recompute

PURPOSE:
  Periodically recomputes every tenant's sales so stored aggregates and
  enabled amounts converge even when a post-commit recompute failed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sale is recomputed under its own lock; no global lock is taken
  - Recompute is idempotent, so a run over unchanged sales writes nothing

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecomputeScheduler(svc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputeTenant endpoint (manual recompute)
  - commission/enablement.go: Recompute
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/commission-engine/commission"
	"go.uber.org/zap"
)

// RecomputeScheduler recomputes all sales on a fixed interval.
type RecomputeScheduler struct {
	Service       *commission.Service
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRecomputeScheduler(svc *commission.Service, log *zap.Logger) *RecomputeScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecomputeScheduler{
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler. A zero interval disables it.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info("recompute scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.log.Info("recompute scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("recompute scheduler stopped")
	}
}

func (rs *RecomputeScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one pass over every tenant and returns the reports.
func (rs *RecomputeScheduler) RunNow(ctx context.Context) []commission.TenantRecomputeReport {
	start := time.Now()
	reports, err := rs.Service.RecomputeAll(ctx)

	sales, failed := 0, 0
	for _, r := range reports {
		sales += r.Sales
		failed += len(r.Failed)
	}
	if err != nil {
		rs.log.Warn("recompute pass finished with errors",
			zap.Int("tenants", len(reports)),
			zap.Int("sales", sales),
			zap.Int("failed", failed),
			zap.Error(err))
		return reports
	}
	rs.log.Info("recompute pass completed",
		zap.Int("tenants", len(reports)),
		zap.Int("sales", sales),
		zap.Duration("took", time.Since(start)))
	return reports
}
