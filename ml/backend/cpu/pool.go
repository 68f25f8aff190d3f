package cpu

import (
	"runtime"
	"sync"
)

const (
	// Slab tiers, in float32 elements. Most chunk activations land in
	// the medium and large tiers; the huge tier covers full-frame
	// upsampled outputs.
	slabSizeSmall  = 4 * 1024
	slabSizeMedium = 64 * 1024
	slabSizeLarge  = 1024 * 1024
	slabSizeHuge   = 4 * 1024 * 1024

	// Thread sizing bounds for row-parallel kernels.
	minWorkerThreads    = 1
	maxWorkerThreads    = 32
	threadScalingFactor = 2 // threads per core for I/O-bound work
)

// ============================================================================
// SLAB POOL FOR REDUCED ALLOCATION OVERHEAD
// ============================================================================

// SlabPool provides pooled float32 slices for tensor storage to reduce
// GC pressure in the per-chunk hot loop. Requests above the huge tier
// are allocated directly and never pooled.
type SlabPool struct {
	mu     sync.Mutex
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
	huge   sync.Pool
}

func newSlabPool() *SlabPool {
	p := &SlabPool{}
	p.initPools()
	return p
}

func (p *SlabPool) initPools() {
	p.small = sync.Pool{New: func() any { b := make([]float32, slabSizeSmall); return &b }}
	p.medium = sync.Pool{New: func() any { b := make([]float32, slabSizeMedium); return &b }}
	p.large = sync.Pool{New: func() any { b := make([]float32, slabSizeLarge); return &b }}
	p.huge = sync.Pool{New: func() any { b := make([]float32, slabSizeHuge); return &b }}
}

// TensorSlabPool is the shared pool used by all cpu contexts.
var TensorSlabPool = newSlabPool()

// GetSlab returns a pooled slice with capacity of at least size elements.
func (p *SlabPool) GetSlab(size int) *[]float32 {
	switch {
	case size <= slabSizeSmall:
		Stats.PoolHits.Add(1)
		return p.small.Get().(*[]float32)
	case size <= slabSizeMedium:
		Stats.PoolHits.Add(1)
		return p.medium.Get().(*[]float32)
	case size <= slabSizeLarge:
		Stats.PoolHits.Add(1)
		return p.large.Get().(*[]float32)
	case size <= slabSizeHuge:
		Stats.PoolHits.Add(1)
		return p.huge.Get().(*[]float32)
	}

	Stats.PoolMisses.Add(1)
	b := make([]float32, size)
	return &b
}

// PutSlab returns a slab to its tier. Non-tier sizes are dropped.
func (p *SlabPool) PutSlab(b *[]float32) {
	if b == nil {
		return
	}
	switch cap(*b) {
	case slabSizeSmall:
		p.small.Put(b)
	case slabSizeMedium:
		p.medium.Put(b)
	case slabSizeLarge:
		p.large.Put(b)
	case slabSizeHuge:
		p.huge.Put(b)
	}
}

// Drain discards all pooled slabs so the next GC cycle can reclaim
// them. Called from Backend.Reclaim between tile iterations.
func (p *SlabPool) Drain() {
	p.mu.Lock()
	p.initPools()
	p.mu.Unlock()
}

// ============================================================================
// THREAD CONFIGURATION
// ============================================================================

// OptimalThreadCount sizes worker pools for a workload class. A positive
// hint wins outright; otherwise the count is derived from core count.
func OptimalThreadCount(workloadType string, hint int) int {
	numCPU := runtime.NumCPU()

	if hint > 0 {
		return min(hint, maxWorkerThreads)
	}

	switch workloadType {
	case "io":
		threads := numCPU * threadScalingFactor
		return max(minWorkerThreads, min(threads, maxWorkerThreads))

	case "compute":
		return max(minWorkerThreads, min(numCPU, maxWorkerThreads))

	default:
		return max(minWorkerThreads, min(numCPU, maxWorkerThreads))
	}
}
