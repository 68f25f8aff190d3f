package wavelet

import (
	"github.com/g023/streamvsr/ml"
)

// Strategy defines how thresholding is applied.
type Strategy int

const (
	ThresholdAbsolute Strategy = iota
	ThresholdRelative
)

// CodecConfig configures the wavelet compression.
type CodecConfig struct {
	Levels    int
	Threshold float32
	Strategy  Strategy
}

// Codec handles end-to-end compression and reconstruction of one
// stage's lookback window.
type Codec struct {
	Transform Transform
	Config    CodecConfig
}

func NewCodec(config CodecConfig) *Codec {
	return &Codec{
		Transform: &UnrolledHaarTransform{},
		Config:    config,
	}
}

// Compress decomposes a [channels, window] state buffer (flattened,
// channels contiguous) and sparsifies the detail bands.
func (c *Codec) Compress(data []float32, channels, window int, dtype ml.DType) *Coefficients {
	coeffs := c.Transform.Decompose(data, c.Config.Levels)
	if coeffs == nil {
		return nil
	}
	coeffs.Channels = channels
	coeffs.Window = window
	coeffs.DType = dtype

	switch c.Config.Strategy {
	case ThresholdRelative:
		var peak float32
		for _, v := range coeffs.Approximation {
			if v > peak {
				peak = v
			} else if -v > peak {
				peak = -v
			}
		}
		coeffs.Threshold(c.Config.Threshold * peak)
	default:
		coeffs.Threshold(c.Config.Threshold)
	}

	return coeffs
}

// Decompress reconstructs the flat state buffer.
func (c *Codec) Decompress(coeffs *Coefficients) []float32 {
	if coeffs == nil {
		return nil
	}
	return c.Transform.Reconstruct(coeffs, coeffs.Levels)
}
