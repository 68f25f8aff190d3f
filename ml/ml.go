// Package ml defines the backend-neutral tensor interfaces the rest of
// streamvsr programs against.
//
// The split mirrors how inference runtimes are usually layered: a thin
// interface package that cache and model code depend on, with concrete
// backends (currently the pure-Go cpu backend) living underneath it.
// All tensors are owned by the Context that created them; closing a
// Context releases every tensor allocated through it. Operations that
// produce new tensors allocate them in the Context passed to the call,
// which is what lets per-chunk and per-tile transients have an explicit,
// scoped lifetime instead of relying on the garbage collector to notice.
package ml

// DType describes the element representation of a tensor.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeI32:
		return "I32"
	default:
		return "Other"
	}
}

// Backend creates contexts for tensor allocation and compute.
type Backend interface {
	NewContext() Context
	// NewContextSize hints the expected number of tensors so the
	// backend can size its bookkeeping up front.
	NewContextSize(n int) Context
}

// BackendCacheConfig is implemented by backends that want to influence
// how caches lay out their state buffers.
type BackendCacheConfig interface {
	CacheConfig() CacheConfig
}

// BackendMemory is implemented by backends that expose an explicit
// memory-reclamation step. Callers that iterate over independent units
// of work (the tiled upscale path) invoke Reclaim between iterations so
// transient allocations from one iteration can never accumulate into
// the next.
type BackendMemory interface {
	Reclaim()
}

// CacheConfig holds backend preferences for cache state storage.
type CacheConfig struct {
	// StateDType is the representation used for persistent cache state.
	// Recurrent state is kept in F32 by default; lower precision here is
	// a backend's own risk.
	StateDType DType

	// StatePadding rounds the channel dimension of state buffers up to a
	// multiple, for backends with alignment requirements. Zero means no
	// padding.
	StatePadding int
}

// FusedStreamingConv is implemented by tensor types that can run the
// concat + causal conv + tail extraction of a streaming step as one
// fused operation. Backends without it get the composed fallback.
type FusedStreamingConv interface {
	FusedStreamingConv(ctx Context, state, kernel Tensor) (out, tail Tensor)
}

// Context allocates tensors and executes operations. Contexts are not
// thread-safe; one goroutine drives one context.
type Context interface {
	Empty(dtype DType, shape ...int) Tensor
	Zeros(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// Forward registers tensors with the compute graph. Eager backends
	// treat this as a no-op; it exists so cache code can be written the
	// same way against deferred backends.
	Forward(...Tensor) Context
	Compute(...Tensor)

	// Input returns the context used for small host-side inputs such as
	// index tensors. Layer scopes allocations to a model stage for
	// backends that care about placement.
	Input() Context
	Layer(int) Context

	Close()
}

// Tensor is a dense numeric array of up to four dimensions.
//
// Shape convention used throughout streamvsr: frames are [C, H, W] and
// chunked sequences are [C, H, W, T] with T the temporal axis. Stage
// activations are flattened to [features, T] before temporal ops.
type Tensor interface {
	Dim(n int) int
	Stride(n int) int
	Shape() []int
	DType() DType

	// Floats returns a copy of the data as float32, regardless of DType.
	Floats() []float32

	Add(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	// Concat joins t2 after the receiver along dim. All other dims must
	// match.
	Concat(ctx Context, t2 Tensor, dim int) Tensor

	// Slice copies the half-open range [start, end) along dim with the
	// given step.
	Slice(ctx Context, dim, start, end, step int) Tensor

	Reshape(ctx Context, shape ...int) Tensor

	// Cast returns a copy converted to dtype. Casting to the current
	// dtype still produces a fresh tensor in ctx, which is how results
	// are moved from a transient context into a caller-owned one.
	Cast(ctx Context, dtype DType) Tensor

	// Copy writes the receiver's data into t2, which must have the same
	// number of elements.
	Copy(ctx Context, t2 Tensor) Tensor

	// CausalConv applies a shared depthwise causal filter along the last
	// axis of a [features, window+frames] tensor. The kernel has
	// window+1 taps; output is [features, frames]. Position t of the
	// output sees input positions t..t+window only, so with the lookback
	// window prepended no output element can depend on future frames.
	CausalConv(ctx Context, kernel Tensor) Tensor

	// UpsampleNearest scales the H and W axes of a [C, H, W] or
	// [C, H, W, T] tensor by an integer factor using nearest-neighbor
	// sampling.
	UpsampleNearest(ctx Context, scale int) Tensor
}
