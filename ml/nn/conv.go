package nn

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/g023/streamvsr/convcache"
	"github.com/g023/streamvsr/ml"
)

// =============================================================================
// STREAMING CONV OPTIMIZATION CONFIGURATION
// =============================================================================

// ConvValidationMode controls shape validation behavior.
// Disable after warmup in production for maximum performance.
type ConvValidationMode int32

const (
	// ValidationEnabled performs full shape checks (default, safe)
	ValidationEnabled ConvValidationMode = iota
	// ValidationDisabled skips shape checks (production mode after warmup)
	ValidationDisabled
	// ValidationOnce validates first call only, then auto-disables
	ValidationOnce
)

var (
	// validationMode controls whether shape validation is performed.
	// Use SetConvValidationMode() to change. Default: ValidationEnabled
	validationMode atomic.Int32

	// validationOnceMap tracks first-call validation per tensor type
	validationOnceMap sync.Map // map[reflect.Type]bool

	// fusedCapabilityCache caches fused-op interface check results per
	// type, so the hot step loop never repeats the type assertion
	fusedCapabilityCache sync.Map // map[reflect.Type]bool
)

// Pre-allocated error messages to avoid allocations in hot path
var (
	errNotStageShape  = "input must be [features, frames]"
	errKernelTaps     = "kernel taps must equal lookback window + 1"
	errKernelNot1D    = "kernel must be one-dimensional"
	errNilConvCache   = "streaming conv requires a lookback cache"
	errNoFramesToTail = "chunk shorter than lookback window; cannot form next tail"
)

// SetConvValidationMode configures shape validation behavior.
// Call with ValidationDisabled after pipeline warmup for production inference.
//
//go:noinline
func SetConvValidationMode(mode ConvValidationMode) {
	validationMode.Store(int32(mode))
}

// GetConvValidationMode returns the current validation mode.
//
//go:noinline
func GetConvValidationMode() ConvValidationMode {
	return ConvValidationMode(validationMode.Load())
}

// ResetConvCaches clears all internal caches.
// Useful for testing or when tensor implementations change.
//
//go:noinline
func ResetConvCaches() {
	validationOnceMap = sync.Map{}
	fusedCapabilityCache = sync.Map{}
}

// =============================================================================
// INTERNAL OPTIMIZATION HELPERS
// =============================================================================

// checkFusedCapability performs a cached fused-conv interface check.
//
//go:inline
func checkFusedCapability(x ml.Tensor) (ml.FusedStreamingConv, bool) {
	// Fast path: check type cache first
	xType := reflect.TypeOf(x)
	if cached, ok := fusedCapabilityCache.Load(xType); ok {
		if cached.(bool) {
			fused, _ := x.(ml.FusedStreamingConv)
			return fused, true
		}
		return nil, false
	}

	// Slow path: first time for this type, check and cache result
	fused, ok := x.(ml.FusedStreamingConv)
	fusedCapabilityCache.Store(xType, ok)
	return fused, ok
}

// validateShapes checks input and kernel compatibility with the cache.
// Panics with pre-allocated error messages to minimize allocations.
//
//go:inline
func validateShapes(x, kernel ml.Tensor, window int) {
	if len(x.Shape()) != 2 {
		panic(errNotStageShape)
	}
	if len(kernel.Shape()) != 1 {
		panic(errKernelNot1D)
	}
	if kernel.Dim(0) != window+1 {
		panic(errKernelTaps)
	}
}

// shouldValidate determines if validation should be performed based on mode.
//
//go:inline
func shouldValidate(x ml.Tensor) bool {
	mode := ConvValidationMode(validationMode.Load())
	switch mode {
	case ValidationDisabled:
		return false
	case ValidationOnce:
		xType := reflect.TypeOf(x)
		if _, validated := validationOnceMap.Load(xType); validated {
			return false
		}
		validationOnceMap.Store(xType, true)
		return true
	default: // ValidationEnabled
		return true
	}
}

// =============================================================================
// PUBLIC STREAMING CONV API
// =============================================================================

// StreamingConv runs one step of a causal temporal convolution over a
// chunked stream. The cache supplies the trailing window of the
// previous step, which is prepended before the filter runs, so output
// frame t of this chunk sees exactly the window frames before it even
// across chunk boundaries.
//
// Ordering inside a step is load-bearing and fixed here:
//
//  1. read the cached window (previous step's tail)
//  2. convolve [state | x]
//  3. store this step's trailing window for the next step
//
// Parameters:
//   - ctx: Context for tensor operations; all transients land here
//   - x: chunk activations with shape [features, frames]
//   - kernel: shared depthwise filter with window+1 taps
//   - cache: per-stage lookback cache; the active stage must be set
//
// Returns:
//
//	Convolved output with shape [features, frames]
//
//go:noinline
func StreamingConv(ctx ml.Context, x, kernel ml.Tensor, cache *convcache.Lookback) ml.Tensor {
	if cache == nil {
		panic(errNilConvCache)
	}
	if shouldValidate(x) {
		validateShapes(x, kernel, cache.Window())
	}
	return streamingConvCore(ctx, x, kernel, cache)
}

// SeedOnly stores a chunk's trailing window without convolving, for
// pipeline stages whose first chunk bypasses the transform entirely.
// Subsequent chunks then observe this chunk's tail as history, the same
// as if the transform had run.
//
//go:noinline
func SeedOnly(ctx ml.Context, x ml.Tensor, cache *convcache.Lookback) {
	if cache == nil {
		panic(errNilConvCache)
	}
	window := cache.Window()
	if len(x.Shape()) != 2 {
		panic(errNotStageShape)
	}
	if x.Dim(1) < window {
		panic(errNoFramesToTail)
	}
	frames := x.Dim(1)
	tail := x.Slice(ctx, 1, frames-window, frames, 1)
	cache.Update(ctx, tail)
}

// =============================================================================
// CORE STREAMING CONV IMPLEMENTATION
// =============================================================================

//go:noinline
func streamingConvCore(ctx ml.Context, x, kernel ml.Tensor, cache *convcache.Lookback) ml.Tensor {
	// ==========================================================================
	// PHASE 1: Cache Read (previous step's tail)
	// ==========================================================================

	ctx.Forward(x)
	state := cache.State(ctx, x.Dim(0))

	// ==========================================================================
	// PHASE 2: Convolution over [state | x]
	// ==========================================================================

	window := cache.Window()
	full := state.Concat(ctx, x, 1)

	var out, tail ml.Tensor
	if fused, ok := checkFusedCapability(x); ok {
		out, tail = fused.FusedStreamingConv(ctx, full, kernel)
	} else {
		out = full.CausalConv(ctx, kernel)
		total := full.Dim(1)
		tail = full.Slice(ctx, 1, total-window, total, 1)
	}

	// ==========================================================================
	// PHASE 3: Cache Update (this step's tail, read already done)
	// ==========================================================================

	cache.Update(ctx, tail)

	return out
}
