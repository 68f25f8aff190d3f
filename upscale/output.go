package upscale

import "github.com/g023/streamvsr/ml"

// NormalizeOutput converts a pipeline result to the single output
// precision, F32, allocated in ctx. Every path out of the upscaler
// funnels through this, so tiled and streaming results are always
// byte-compatible and safe to concatenate or compare: mixed-precision
// output is how a consumer ends up blending F16 tiles into F32 frames.
//
// Idempotent; normalizing an F32 tensor just moves it into ctx.
func NormalizeOutput(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.Cast(ctx, ml.DTypeF32)
}

// stitchRow joins a row of tiles along the width axis.
func stitchRow(ctx ml.Context, tiles []ml.Tensor) ml.Tensor {
	row := tiles[0]
	for _, t := range tiles[1:] {
		row = row.Concat(ctx, t, 2)
	}
	return row
}

// stitchGrid assembles a row-major list of tile outputs into full
// frames. All tensors must already share a dtype, which NormalizeOutput
// guarantees.
func stitchGrid(ctx ml.Context, tiles []ml.Tensor, cols int) ml.Tensor {
	var out ml.Tensor
	for i := 0; i < len(tiles); i += cols {
		row := stitchRow(ctx, tiles[i:i+cols])
		if out == nil {
			out = row
		} else {
			out = out.Concat(ctx, row, 1)
		}
	}
	return out
}
