// Package convcache provides the recurrent state cache for streaming
// causal convolution.
//
// # Lookback Cache
//
// A causal temporal convolution over a chunked stream needs the
// trailing window of the previous chunk as context for the current one.
// Lookback keeps exactly one such window per stage and enforces the
// ordering that makes it correct:
//
//	read the stored window (previous step's tail)
//	run the transform with it
//	only then overwrite it with the current step's tail
//
// Storing before reading would hand the transform the current step's
// own data as "history": a silent causality break that, in runtimes
// with reference tracking, also chains every intermediate alive across
// steps. Both orderings of that bug are rejected with a panic here.
//
// ## Properties
//
//   - One preallocated state buffer per stage, overwritten in place:
//     steady-state memory is constant regardless of stream length
//   - Zero-seeded first window, identical on every path that can be
//     "first" (fresh cache, after Reset, after a Restore miss)
//   - Reset releases all stage storage, for reuse across spatially
//     independent tile sequences
//   - Optional wavelet compression of stages idle for many steps
//
// ## Limitations
//
//   - Not thread-safe (caller must synchronize)
//   - Stage channel counts are fixed from first use until Reset
package convcache

import (
	"fmt"

	"github.com/g023/streamvsr/convcache/wavelet"
	"github.com/g023/streamvsr/envconfig"
	"github.com/g023/streamvsr/ml"
)

// Chunk describes one step of a stream: a fixed number of new frames,
// optionally with explicit temporal positions for bookkeeping.
type Chunk struct {
	Frames    int
	Positions []int32
}

// Lookback stores the most recent trailing window of each stage's
// input, of shape [channels, window] per stage.
type Lookback struct {
	DType ml.DType

	// window is the number of trailing frames kept per stage. The
	// matching causal kernel has window+1 taps.
	window int

	maxStages int

	// config controls state storage; see ml.CacheConfig
	config *ml.CacheConfig

	// ** current step **

	curChunk  int
	curStage  int
	curFrames int

	// ** cache data storage **

	backend ml.Backend
	stages  map[int]*stageState
	ctxs    map[int]ml.Context

	// ** compression fields **

	compressionEnabled bool
	compressionIdle    int
	codec              *wavelet.Codec
}

// stageState is the bookkeeping for a single stage. buf holds the
// trailing window; the chunk counters implement the ordering guard and
// the idle-compression sweep.
type stageState struct {
	buf         ml.Tensor
	channels    int
	bufChannels int

	lastRead  int
	lastWrite int
	lastTouch int

	compressed *wavelet.Coefficients
}

func NewLookbackCache(window int) *Lookback {
	if window < 1 {
		panic(fmt.Errorf("convcache: window must be >= 1, got %d", window))
	}
	return &Lookback{
		window:   window,
		curChunk: -1,
		stages:   make(map[int]*stageState),
		ctxs:     make(map[int]ml.Context),
	}
}

func (c *Lookback) Init(backend ml.Backend, dtype ml.DType, maxStages int) {
	if maxStages < 1 {
		panic(fmt.Errorf("convcache: maxStages must be >= 1, got %d", maxStages))
	}

	if c.config == nil {
		var config ml.CacheConfig
		if cc, ok := backend.(ml.BackendCacheConfig); ok {
			config = cc.CacheConfig()
		}
		c.config = &config
	}

	if c.config.StateDType == ml.DTypeOther {
		c.config.StateDType = ml.DTypeF32
	}
	if c.config.StatePadding == 0 {
		c.config.StatePadding = 1
	}

	c.DType = dtype
	c.backend = backend
	c.maxStages = maxStages

	// Idle-state compression from environment config
	c.compressionEnabled = envconfig.CacheCompression()
	if c.compressionEnabled {
		c.compressionIdle = envconfig.CompressionIdleThreshold()
		c.codec = wavelet.NewCodec(wavelet.CodecConfig{
			Levels:    envconfig.CompressionLevel(),
			Threshold: 0.01,
			Strategy:  wavelet.ThresholdAbsolute,
		})
	}
}

func (c *Lookback) SetConfig(config ml.CacheConfig) {
	if c.config != nil {
		panic("config cannot be changed after being previously set, either by the model or backend")
	}
	c.config = &config
}

// Window returns the trailing-window length in frames.
func (c *Lookback) Window() int {
	return c.window
}

// Len returns the number of stages currently holding state.
func (c *Lookback) Len() int {
	return len(c.stages)
}

func (c *Lookback) Close() {
	for _, ctx := range c.ctxs {
		ctx.Close()
	}
	c.ctxs = make(map[int]ml.Context)
	c.stages = make(map[int]*stageState)
}

// ============================================================================
// STEP LIFECYCLE
// ============================================================================

// StartChunk begins one step of the stream. All State/Update calls
// until the next StartChunk belong to this step.
func (c *Lookback) StartChunk(ctx ml.Context, chunk Chunk) error {
	if chunk.Frames < 1 {
		return fmt.Errorf("%w: frames must be >= 1, got %d", ErrInvalidChunk, chunk.Frames)
	}
	if chunk.Positions != nil && len(chunk.Positions) != chunk.Frames {
		return fmt.Errorf("%w: %d positions for %d frames", ErrInvalidChunk, len(chunk.Positions), chunk.Frames)
	}

	c.curChunk++
	c.curFrames = chunk.Frames

	if c.compressionEnabled {
		c.compressIdleStages()
	}

	return nil
}

// SetStage selects the active stage for State and Update.
func (c *Lookback) SetStage(stage int) {
	if stage < 0 || stage >= c.maxStages {
		panic(errStageRange)
	}
	c.curStage = stage
}

// ============================================================================
// STATE AND UPDATE
// ============================================================================

// State returns the active stage's stored trailing window as a
// [channels, window] tensor allocated in ctx. On a stage's first
// invocation the window is zero-seeded; afterwards it is always the
// window stored at the end of the previous step. Reading after this
// step's Update panics: that would be the current step observing its
// own tail as history.
func (c *Lookback) State(ctx ml.Context, channels int) ml.Tensor {
	if c.curChunk < 0 {
		panic(errNoActiveChunk)
	}

	st, ok := c.stages[c.curStage]
	if !ok {
		st = c.seedStage(channels)
	}

	if st.channels != channels {
		panic(errChannelsChanged)
	}
	if st.lastWrite == c.curChunk {
		panic(errStateAfterUpdate)
	}

	if st.compressed != nil {
		c.decompressStage(c.curStage, st)
	}

	st.lastRead = c.curChunk
	st.lastTouch = c.curChunk

	out := st.buf
	if st.bufChannels != st.channels {
		out = out.Slice(ctx, 0, 0, st.channels, 1)
	}
	// Cast materializes a step-scoped copy, so the transform never
	// aliases cache storage that Update is about to overwrite.
	return out.Cast(ctx, c.DType)
}

// Update stores the current step's trailing window for the next step.
// Only legal after this step's State read, except on a stage's first
// invocation, where Update alone seeds the cache (the skip-the-transform
// first-step branch). The previous window's storage is overwritten in
// place; nothing from earlier steps can remain referenced.
func (c *Lookback) Update(ctx ml.Context, tail ml.Tensor) {
	if c.curChunk < 0 {
		panic(errNoActiveChunk)
	}
	if len(tail.Shape()) != 2 || tail.Dim(1) != c.window {
		panic(errBadTailShape)
	}

	st, ok := c.stages[c.curStage]
	if !ok {
		st = c.seedStage(tail.Dim(0))
		st.lastRead = c.curChunk
	}

	if st.channels != tail.Dim(0) {
		panic(errChannelsChanged)
	}
	if st.lastWrite == c.curChunk {
		panic(errDoubleUpdate)
	}
	if st.lastRead != c.curChunk {
		panic(errUpdateBeforeRead)
	}

	if st.compressed != nil {
		// Full overwrite; the stale coefficients are simply dropped.
		c.decompressStage(c.curStage, st)
	}

	src := tail
	if st.bufChannels != st.channels {
		pad := ctx.Zeros(c.config.StateDType, st.bufChannels-st.channels, c.window)
		src = src.Concat(ctx, pad, 0)
	}
	src.Copy(ctx, st.buf)

	st.lastWrite = c.curChunk
	st.lastTouch = c.curChunk
}

// Reset releases every stage's state and storage. Required between
// spatially independent tile sequences: tiles must not see each other's
// temporal context, and per-tile state buffers must not outlive the
// tile that allocated them.
func (c *Lookback) Reset() {
	for _, ctx := range c.ctxs {
		ctx.Close()
	}
	c.ctxs = make(map[int]ml.Context)
	c.stages = make(map[int]*stageState)
}

// ============================================================================
// STAGE STORAGE
// ============================================================================

func (c *Lookback) stageCtx(stage int) ml.Context {
	if ctx, ok := c.ctxs[stage]; ok {
		return ctx
	}
	ctx := c.backend.NewContextSize(2).Layer(stage)
	c.ctxs[stage] = ctx
	return ctx
}

// seedStage allocates a zero window for a stage's first invocation.
// Every "first" path funnels through here, so fresh streams, post-Reset
// tiles and restore misses all observe the same neutral context.
func (c *Lookback) seedStage(channels int) *stageState {
	if channels < 1 {
		panic(fmt.Errorf("convcache: channels must be >= 1, got %d", channels))
	}

	bufChannels := roundUp(channels, c.config.StatePadding)

	st := &stageState{
		channels:    channels,
		bufChannels: bufChannels,
		lastRead:    -1,
		lastWrite:   -1,
		lastTouch:   c.curChunk,
	}
	st.buf = c.stageCtx(c.curStage).Zeros(c.config.StateDType, bufChannels, c.window)
	c.stages[c.curStage] = st
	return st
}

func roundUp(length, pad int) int {
	return ((length + pad - 1) / pad) * pad
}
