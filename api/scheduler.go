/*
scheduler.go - Periodic balance reconciliation

PURPOSE:
  Wallet balances are maintained incrementally. A store without
  multi-document transactions can leave a wallet off by one delta if the
  process dies between the transaction write and the balance increment.
  The scheduler periodically recomputes every balance from its
  transactions and reports (or repairs) drift.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each wallet is checked under the ledger's per-wallet lock, so regular
    traffic keeps flowing during a run
  - Repair is opt-in; without it drift is only logged

CONFIGURATION:
  - CheckInterval: How often to check (RECONCILE_INTERVAL, 0 disables)
  - Repair:        Fix drifted balances (RECONCILE_REPAIR)

USAGE:
  scheduler := NewReconciliationScheduler(ledger, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

  A stopped scheduler can be started again.

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual reconciliation)
  - finance/reconcile.go: Ledger.Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/finance"
)

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Drifts    []finance.Drift
	Err       error
}

// ReconciliationScheduler runs Ledger.Reconcile on an interval.
type ReconciliationScheduler struct {
	Ledger        *finance.Ledger
	CheckInterval time.Duration
	Repair        bool
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *RunResult
}

// NewReconciliationScheduler creates a scheduler with a one hour interval.
func NewReconciliationScheduler(ledger *finance.Ledger, log zerolog.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With().Str("component", "reconciler").Logger(),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.log.Info().
		Dur("interval", rs.CheckInterval).
		Bool("repair", rs.Repair).
		Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	rs.ticker = nil
	close(rs.stop)
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info().Msg("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (rs *ReconciliationScheduler) Run(ctx context.Context) error {
	rs.Start()
	<-ctx.Done()
	rs.Stop()
	return nil
}

func (rs *ReconciliationScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-tick:
			rs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one reconciliation pass and records its result.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) RunResult {
	start := time.Now()
	drifts, err := rs.Ledger.Reconcile(ctx, rs.Repair)
	result := RunResult{
		StartedAt: start,
		Duration:  time.Since(start),
		Drifts:    drifts,
		Err:       err,
	}

	switch {
	case err != nil:
		rs.log.Error().Err(err).Msg("reconciliation failed")
	case len(drifts) > 0:
		rs.log.Warn().
			Int("drifted", len(drifts)).
			Bool("repair", rs.Repair).
			Dur("duration", result.Duration).
			Msg("reconciliation found drift")
	default:
		rs.log.Debug().Dur("duration", result.Duration).Msg("reconciliation clean")
	}

	rs.mu.Lock()
	rs.lastRun = &result
	rs.mu.Unlock()
	return result
}

// LastRun returns the most recent pass, or nil before the first one.
func (rs *ReconciliationScheduler) LastRun() *RunResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}
