// Package cpu is a pure-Go eager backend for the ml interfaces.
//
// # Ownership model
//
// Every tensor belongs to the Context that allocated it. Close returns
// all of a context's storage to the slab pool and updates the backend
// metrics, so the lifetime of per-chunk and per-tile transients is
// exactly the lifetime of their context. No tensor survives by accident
// through a hidden reference chain.
//
// # Characteristics
//
//   - Eager execution: ops run when called; Forward/Compute are no-ops
//   - Slab-pooled storage with byte-level accounting (see metrics.go)
//   - Row-parallel convolution sized by OptimalThreadCount
//   - Not thread-safe per context (caller drives one context per goroutine)
package cpu

import (
	"fmt"

	"github.com/g023/streamvsr/envconfig"
	"github.com/g023/streamvsr/ml"
)

// Backend implements ml.Backend, ml.BackendCacheConfig and
// ml.BackendMemory.
type Backend struct{}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) NewContext() ml.Context {
	return b.NewContextSize(8)
}

func (b *Backend) NewContextSize(n int) ml.Context {
	Stats.ContextsOpened.Add(1)
	return &context{
		backend: b,
		tensors: make([]*tensor, 0, n),
	}
}

func (b *Backend) CacheConfig() ml.CacheConfig {
	return ml.CacheConfig{
		StateDType:   ml.DTypeF32,
		StatePadding: 1,
	}
}

// Reclaim drops pooled slabs so the next GC cycle can return them to
// the OS. The tiled upscale path calls this between tiles.
func (b *Backend) Reclaim() {
	TensorSlabPool.Drain()
}

// threads returns the worker count for row-parallel kernels, honoring
// the STREAMVSR_THREADS hint.
func (b *Backend) threads() int {
	return OptimalThreadCount("compute", envconfig.Threads())
}

// ============================================================================
// CONTEXT
// ============================================================================

type context struct {
	backend *Backend
	tensors []*tensor
	closed  bool
}

// alloc creates a tensor backed by pooled storage and records it for
// release on Close.
func (c *context) alloc(dtype ml.DType, shape []int) *tensor {
	if c.closed {
		panic("cpu: allocation on closed context")
	}

	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Errorf("cpu: negative dimension in shape %v", shape))
		}
		n *= s
	}
	if len(shape) == 0 {
		n = 0
	}

	slab := TensorSlabPool.GetSlab(n)
	data := (*slab)[:n]
	clear(data)

	t := &tensor{
		ctx:   c,
		dtype: dtype,
		shape: append([]int(nil), shape...),
		data:  data,
		slab:  slab,
	}

	recordAlloc(n * 4)
	c.tensors = append(c.tensors, t)
	return t
}

func (c *context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	return c.alloc(dtype, shape)
}

func (c *context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	return c.alloc(dtype, shape)
}

func (c *context) FromFloats(s []float32, shape ...int) ml.Tensor {
	t := c.alloc(ml.DTypeF32, shape)
	if len(s) != len(t.data) {
		panic(fmt.Errorf("cpu: FromFloats data length %d does not match shape %v", len(s), shape))
	}
	copy(t.data, s)
	return t
}

func (c *context) FromInts(s []int32, shape ...int) ml.Tensor {
	t := c.alloc(ml.DTypeI32, shape)
	if len(s) != len(t.data) {
		panic(fmt.Errorf("cpu: FromInts data length %d does not match shape %v", len(s), shape))
	}
	for i, v := range s {
		t.data[i] = float32(v)
	}
	return t
}

// Forward and Compute exist for API parity with deferred backends.
func (c *context) Forward(...ml.Tensor) ml.Context { return c }
func (c *context) Compute(...ml.Tensor)            {}

func (c *context) Input() ml.Context    { return c }
func (c *context) Layer(int) ml.Context { return c }

func (c *context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	Stats.ContextsClosed.Add(1)

	for _, t := range c.tensors {
		recordRelease(len(t.data) * 4)
		t.data = nil
		TensorSlabPool.PutSlab(t.slab)
		t.slab = nil
	}
	c.tensors = nil
}
