package cpu

import (
	"sync/atomic"
)

// ============================================================================
// BACKEND METRICS - memory and allocation telemetry
// ============================================================================

// Metrics tracks allocation behavior of the cpu backend. The resident
// counters are the ground truth the bounded-memory tests assert against:
// CurrentBytes must stay flat across steps when per-step input size is
// constant, and must return to its pre-tile level after every tile.
type Metrics struct {
	// Memory metrics
	CurrentBytes atomic.Int64
	PeakBytes    atomic.Int64
	Allocations  atomic.Uint64
	Releases     atomic.Uint64

	// Pool metrics
	PoolHits   atomic.Uint64
	PoolMisses atomic.Uint64

	// Context lifecycle
	ContextsOpened atomic.Uint64
	ContextsClosed atomic.Uint64
}

// Stats is the process-wide metrics instance for the cpu backend.
var Stats Metrics

func recordAlloc(bytes int) {
	Stats.Allocations.Add(1)
	cur := Stats.CurrentBytes.Add(int64(bytes))

	// Racy peak update is fine: we only need a monotone approximation.
	for {
		peak := Stats.PeakBytes.Load()
		if cur <= peak || Stats.PeakBytes.CompareAndSwap(peak, cur) {
			break
		}
	}
}

func recordRelease(bytes int) {
	Stats.Releases.Add(1)
	Stats.CurrentBytes.Add(-int64(bytes))
}

// ResetStats zeroes all counters. Intended for tests.
func ResetStats() {
	Stats.CurrentBytes.Store(0)
	Stats.PeakBytes.Store(0)
	Stats.Allocations.Store(0)
	Stats.Releases.Store(0)
	Stats.PoolHits.Store(0)
	Stats.PoolMisses.Store(0)
	Stats.ContextsOpened.Store(0)
	Stats.ContextsClosed.Store(0)
}
