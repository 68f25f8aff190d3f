package convcache

import (
	"time"

	"github.com/g023/streamvsr/convcache/wavelet"
	"github.com/g023/streamvsr/ml"
)

// ============================================================================
// IDLE-STATE COMPRESSION
// ============================================================================

// compressIdleStages compresses stages that have not been touched for
// compressionIdle steps. Their storage context is closed outright; the
// state survives only as sparse wavelet coefficients until the next
// State read or Update overwrite.
//
// Runs at chunk boundaries (from StartChunk), never mid-step, so a
// stage can only be idle relative to whole steps.
func (c *Lookback) compressIdleStages() {
	for stage, st := range c.stages {
		if st.compressed != nil || st.buf == nil {
			continue
		}
		if st.lastTouch >= c.curChunk-c.compressionIdle {
			continue
		}

		start := time.Now()
		data := st.buf.Floats()
		coeffs := c.codec.Compress(data, st.bufChannels, c.window, c.config.StateDType)
		if coeffs == nil {
			continue
		}

		if ctx, ok := c.ctxs[stage]; ok {
			ctx.Close()
			delete(c.ctxs, stage)
		}
		st.buf = nil
		st.compressed = coeffs

		wavelet.RecordCompression(uint64(len(data))*4, uint64(coeffs.SparseSize())*4, time.Since(start))
	}
}

func (c *Lookback) decompressStage(stage int, st *stageState) {
	start := time.Now()
	data := c.codec.Decompress(st.compressed)

	ctx := c.stageCtx(stage)
	buf := ctx.FromFloats(data, st.bufChannels, c.window)
	if c.config.StateDType != ml.DTypeF32 {
		buf = buf.Cast(ctx, c.config.StateDType)
	}
	st.buf = buf
	st.compressed = nil

	wavelet.RecordDecompression(time.Since(start))
}

// CompressedStages reports how many stages currently hold only
// coefficients. Exposed for diagnostics.
func (c *Lookback) CompressedStages() int {
	n := 0
	for _, st := range c.stages {
		if st.compressed != nil {
			n++
		}
	}
	return n
}
