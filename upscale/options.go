package upscale

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/g023/streamvsr/ml"
)

// Config controls an Upscaler. Zero values are filled in by
// DefaultConfig; Validate rejects combinations the pipeline cannot run.
type Config struct {
	// Scale is the integer spatial upscale factor.
	Scale int

	// Window is the temporal lookback in frames. Each causal kernel has
	// Window+1 taps.
	Window int

	// Stages is the number of temporal conv stages. Stages are split
	// around the spatial upsample, so the later ones run at output
	// resolution.
	Stages int

	// Precision is the compute dtype for stage activations. Output is
	// always normalized to F32 regardless of this setting.
	Precision ml.DType

	// TileSize is the square tile edge for tiled inference. Zero
	// disables tiling as a default; ProcessTiled takes it explicitly.
	TileSize int

	// ChunksPerSecond throttles chunk submission. Zero means no limit.
	ChunksPerSecond rate.Limit
}

func DefaultConfig() Config {
	return Config{
		Scale:     4,
		Window:    2,
		Stages:    4,
		Precision: ml.DTypeF32,
	}
}

func (c *Config) Validate() error {
	if c.Scale < 1 {
		return fmt.Errorf("upscale: scale must be >= 1, got %d", c.Scale)
	}
	if c.Window < 1 {
		return fmt.Errorf("upscale: window must be >= 1, got %d", c.Window)
	}
	if c.Stages < 1 {
		return fmt.Errorf("upscale: stages must be >= 1, got %d", c.Stages)
	}
	if c.Precision != ml.DTypeF32 && c.Precision != ml.DTypeF16 {
		return fmt.Errorf("upscale: precision must be F32 or F16, got %s", c.Precision)
	}
	if c.TileSize != 0 && c.TileSize < minTileSize {
		return fmt.Errorf("upscale: tile size must be >= %d, got %d", minTileSize, c.TileSize)
	}
	if c.ChunksPerSecond < 0 {
		return fmt.Errorf("upscale: negative rate limit")
	}
	return nil
}
