package wavelet

import (
	"github.com/g023/streamvsr/ml"
)

// Coefficients stores the result of a wavelet decomposition of one
// stage's lookback state.
type Coefficients struct {
	Approximation []float32   // Coarsest scale coefficients
	Details       [][]float32 // Detail coefficients at each level
	Length        int         // Original buffer length before padding
	Channels      int         // Stage channel count (restored on decompress)
	Window        int         // Stage window length (restored on decompress)
	Levels        int         // Number of decomposition levels
	DType         ml.DType    // Original tensor dtype
}

// Threshold applies hard thresholding to the detail coefficients.
func (c *Coefficients) Threshold(threshold float32) {
	for l := 0; l < c.Levels; l++ {
		for i := range c.Details[l] {
			if c.Details[l][i] < threshold && c.Details[l][i] > -threshold {
				c.Details[l][i] = 0
			}
		}
	}
}

// Size returns the total number of coefficients stored.
func (c *Coefficients) Size() int {
	size := len(c.Approximation)
	for _, d := range c.Details {
		size += len(d)
	}
	return size
}

// SparseSize returns the number of non-zero coefficients, the quantity
// that actually matters after thresholding.
func (c *Coefficients) SparseSize() int {
	count := 0
	for _, v := range c.Approximation {
		if v != 0 {
			count++
		}
	}
	for _, d := range c.Details {
		for _, v := range d {
			if v != 0 {
				count++
			}
		}
	}
	return count
}
