// Package upscale implements the streaming video super-resolution
// pipeline: chunked causal temporal convolution stages around a
// nearest-neighbor spatial upsample, with a per-stage lookback cache
// carrying temporal context across chunks.
//
// Two inference paths produce identical semantics:
//
//   - ProcessStream runs whole frames through the pipeline chunk by
//     chunk.
//   - ProcessTiled splits frames into a spatial grid and runs each
//     tile's chunk sequence independently, resetting the lookback cache
//     and reclaiming backend memory between tiles so peak memory is set
//     by one tile, not the whole frame.
//
// Both paths normalize their output to F32 before returning; see
// NormalizeOutput.
package upscale

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/g023/streamvsr/convcache"
	"github.com/g023/streamvsr/ml"
	"github.com/g023/streamvsr/ml/nn"
)

// Upscaler drives the stage pipeline for one stream or one tiled pass.
// Not safe for concurrent use; the lookback cache is single-writer.
type Upscaler struct {
	cfg     Config
	backend ml.Backend
	cache   *convcache.Lookback

	// wctx owns the stage kernels for the upscaler's lifetime
	wctx    ml.Context
	kernels []ml.Tensor

	// preStages run before the spatial upsample, the rest after
	preStages int

	limiter *rate.Limiter
	logger  *log.Logger
	session string

	chunks atomic.Uint64
	tiles  atomic.Uint64
}

func New(backend ml.Backend, cfg Config) (*Upscaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := uuid.New().String()

	u := &Upscaler{
		cfg:       cfg,
		backend:   backend,
		cache:     convcache.NewLookbackCache(cfg.Window),
		preStages: (cfg.Stages + 1) / 2,
		session:   session,
		logger:    log.With("component", "upscale", "session", session[:8]),
	}
	u.cache.Init(backend, cfg.Precision, cfg.Stages)

	if cfg.ChunksPerSecond > 0 {
		u.limiter = rate.NewLimiter(cfg.ChunksPerSecond, 1)
	}

	u.wctx = backend.NewContextSize(cfg.Stages)
	u.kernels = make([]ml.Tensor, cfg.Stages)
	for s := range u.kernels {
		u.kernels[s] = u.wctx.FromFloats(stageKernel(cfg.Window), cfg.Window+1)
	}

	u.logger.Debug("upscaler ready",
		"scale", cfg.Scale, "window", cfg.Window, "stages", cfg.Stages,
		"precision", cfg.Precision.String())
	return u, nil
}

// stageKernel builds a normalized recency-weighted smoothing filter.
// Tap window (the newest frame) carries the most weight so the filter
// sharpens rather than smears motion.
func stageKernel(window int) []float32 {
	taps := window + 1
	w := make([]float32, taps)
	var sum float32
	for i := range w {
		w[i] = float32(i + 1)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

func (u *Upscaler) Close() {
	u.cache.Close()
	u.wctx.Close()
}

// ResetState clears all temporal context, as between unrelated streams.
func (u *Upscaler) ResetState() {
	u.cache.Reset()
}

// Session returns the upscaler's session identifier.
func (u *Upscaler) Session() string { return u.session }

// ChunksProcessed reports the total chunks run through the pipeline.
func (u *Upscaler) ChunksProcessed() uint64 { return u.chunks.Load() }

// TilesProcessed reports the total tiles completed by ProcessTiled.
func (u *Upscaler) TilesProcessed() uint64 { return u.tiles.Load() }

// ============================================================================
// STREAMING PATH
// ============================================================================

// ProcessChunk runs one [C, H, W, T] chunk through every stage and
// returns the upscaled [C, H*scale, W*scale, T] result, normalized to
// F32, allocated in out. Temporal context flows from the previous
// ProcessChunk call through the lookback cache. All intermediates live
// in a chunk-scoped context that is closed before returning, so per-
// chunk memory cannot accumulate across a stream.
func (u *Upscaler) ProcessChunk(ctx context.Context, out ml.Context, frames ml.Tensor) (ml.Tensor, error) {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	shape := frames.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("upscale: chunk must be [C, H, W, T], got %v", shape)
	}
	c, h, w, t := shape[0], shape[1], shape[2], shape[3]

	start := time.Now()

	cctx := u.backend.NewContext()
	defer cctx.Close()

	if err := u.cache.StartChunk(cctx, convcache.Chunk{Frames: t}); err != nil {
		return nil, err
	}

	x := frames.Cast(cctx, u.cfg.Precision)

	for s := 0; s < u.preStages; s++ {
		x = u.runStage(cctx, x, s, c, h, w, t)
	}

	x = x.UpsampleNearest(cctx, u.cfg.Scale)
	oh, ow := h*u.cfg.Scale, w*u.cfg.Scale

	for s := u.preStages; s < u.cfg.Stages; s++ {
		x = u.runStage(cctx, x, s, c, oh, ow, t)
	}

	u.chunks.Add(1)
	u.logger.Debug("chunk done", "frames", t, "in", fmt.Sprintf("%dx%d", w, h),
		"out", fmt.Sprintf("%dx%d", ow, oh), "dur", time.Since(start))

	return NormalizeOutput(out, x), nil
}

// runStage applies one temporal conv stage to a [C, H, W, T] tensor by
// flattening spatial dims into features.
func (u *Upscaler) runStage(cctx ml.Context, x ml.Tensor, stage, c, h, w, t int) ml.Tensor {
	u.cache.SetStage(stage)
	flat := x.Reshape(cctx, c*h*w, t)
	y := nn.StreamingConv(cctx, flat, u.kernels[stage], u.cache)
	return y.Reshape(cctx, c, h, w, t)
}

// ProcessStream runs a chunk sequence through the pipeline in order and
// concatenates the results along the temporal axis. State is reset
// first; a stream never inherits context from a previous one.
func (u *Upscaler) ProcessStream(ctx context.Context, out ml.Context, chunks []ml.Tensor) (ml.Tensor, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("upscale: empty stream")
	}

	u.cache.Reset()

	var result ml.Tensor
	for i, chunk := range chunks {
		res, err := u.ProcessChunk(ctx, out, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if result == nil {
			result = res
		} else {
			result = result.Concat(out, res, 3)
		}
	}
	return result, nil
}

// ============================================================================
// TILED PATH
// ============================================================================

// ProcessTiled runs a chunk sequence tile by tile and stitches the
// upscaled tiles back into full frames. Each tile is a spatially
// independent stream: the lookback cache is reset before it starts, and
// after it finishes the tile's transient context is closed, the cache
// is reset again, and the backend's memory reclamation hook runs. Peak
// memory is therefore bounded by one tile regardless of frame size or
// tile count.
//
// The stitched result is F32, the same as ProcessStream's; the two
// paths differ only in memory profile, never in output dtype.
func (u *Upscaler) ProcessTiled(ctx context.Context, out ml.Context, chunks []ml.Tensor, tile int) (ml.Tensor, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("upscale: empty stream")
	}

	shape := chunks[0].Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("upscale: chunk must be [C, H, W, T], got %v", shape)
	}
	h, w := shape[1], shape[2]

	grid, cols, err := tileGrid(h, w, tile)
	if err != nil {
		return nil, err
	}

	u.logger.Debug("tiled pass", "grid", fmt.Sprintf("%dx%d", cols, len(grid)/cols),
		"tile", tile, "chunks", len(chunks))

	tileOuts := make([]ml.Tensor, 0, len(grid))
	for i, rect := range grid {
		res, err := u.processTile(ctx, out, chunks, rect)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		tileOuts = append(tileOuts, res)

		// Per-tile cleanup: drop the tile's temporal state and let the
		// backend release its transient allocations before the next
		// tile starts.
		u.cache.Reset()
		if bm, ok := u.backend.(ml.BackendMemory); ok {
			bm.Reclaim()
		}
		u.tiles.Add(1)
	}

	return stitchGrid(out, tileOuts, cols), nil
}

// processTile runs all chunks for one tile. The tile's input slices and
// per-chunk results live in a tile-scoped context; only the final
// normalized tile output escapes into out.
func (u *Upscaler) processTile(ctx context.Context, out ml.Context, chunks []ml.Tensor, rect tileRect) (ml.Tensor, error) {
	u.cache.Reset()

	tctx := u.backend.NewContext()
	defer tctx.Close()

	var result ml.Tensor
	for i, chunk := range chunks {
		in := chunk.
			Slice(tctx, 1, rect.y0, rect.y1, 1).
			Slice(tctx, 2, rect.x0, rect.x1, 1)

		res, err := u.ProcessChunk(ctx, tctx, in)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if result == nil {
			result = res
		} else {
			result = result.Concat(tctx, res, 3)
		}
	}

	return NormalizeOutput(out, result), nil
}
