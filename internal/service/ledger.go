package service

import (
	"context"
	"sync"

	"github.com/relay-run/relay/internal/core"
)

// MemoryLedger accumulates per-run LLM spend in memory. Totals survive for
// the lifetime of the process, which matches the cost-limit contract: a
// resumed run starts a fresh accumulator rather than re-counting spend from
// before the crash.
type MemoryLedger struct {
	mu     sync.Mutex
	totals map[core.RunID]float64
}

// NewMemoryLedger creates an empty usage ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{totals: make(map[core.RunID]float64)}
}

// Record adds one call's usage to the run's total.
func (l *MemoryLedger) Record(ctx context.Context, runID core.RunID, usage core.Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals[runID] += usage.CostUSD
	return nil
}

// Check reports whether the run's accumulated spend has reached the limit.
func (l *MemoryLedger) Check(ctx context.Context, runID core.RunID, limit float64) (bool, float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.totals[runID]
	return total >= limit, total, nil
}

// Total returns the current accumulated spend for a run.
func (l *MemoryLedger) Total(runID core.RunID) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[runID]
}
