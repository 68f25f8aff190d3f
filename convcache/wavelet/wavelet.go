// Package wavelet provides the codec used to compress idle lookback
// state. Stage state that has not been touched for many steps is mostly
// smooth spatial content, which wavelet thresholding shrinks well; the
// loss is bounded by the threshold and only affects stages that were
// already stale.
package wavelet

import (
	"math"
)

// Transform defines wavelet decomposition and reconstruction over a
// flat float32 buffer.
type Transform interface {
	Decompose(data []float32, levels int) *Coefficients
	Reconstruct(coeffs *Coefficients, targetLevel int) []float32
}

// HaarTransform implements the fast Haar wavelet transform.
type HaarTransform struct{}

// Decompose performs multi-level Haar wavelet decomposition. Input is
// zero-padded up to a power of two internally; Coefficients remembers
// the true length.
func (h *HaarTransform) Decompose(data []float32, levels int) *Coefficients {
	n := len(data)
	if n == 0 {
		return nil
	}

	paddedN := 1
	for paddedN < n {
		paddedN <<= 1
	}

	current := make([]float32, paddedN)
	copy(current, data)

	coeffs := &Coefficients{
		Details: make([][]float32, levels),
		Length:  n,
		Levels:  levels,
	}

	for l := 0; l < levels; l++ {
		size := paddedN >> uint(l)
		if size < 2 {
			coeffs.Levels = l
			coeffs.Details = coeffs.Details[:l]
			break
		}

		half := size / 2
		approx := make([]float32, half)
		detail := make([]float32, half)

		for i := 0; i < half; i++ {
			v1 := current[2*i]
			v2 := current[2*i+1]
			approx[i] = (v1 + v2) * float32(math.Sqrt(0.5))
			detail[i] = (v1 - v2) * float32(math.Sqrt(0.5))
		}

		coeffs.Details[l] = detail
		copy(current, approx)
	}

	coeffs.Approximation = current[:paddedN>>uint(coeffs.Levels)]
	return coeffs
}

// Reconstruct performs the inverse Haar transform down from
// targetLevel. targetLevel equal to Levels reproduces the input up to
// thresholding loss.
func (h *HaarTransform) Reconstruct(coeffs *Coefficients, targetLevel int) []float32 {
	if coeffs == nil {
		return nil
	}

	if targetLevel > coeffs.Levels {
		targetLevel = coeffs.Levels
	}

	current := make([]float32, len(coeffs.Approximation))
	copy(current, coeffs.Approximation)

	for l := targetLevel - 1; l >= 0; l-- {
		detail := coeffs.Details[l]
		size := len(current)
		next := make([]float32, size*2)

		for i := 0; i < size; i++ {
			a := current[i]
			d := detail[i]
			next[2*i] = (a + d) * float32(math.Sqrt(0.5))
			next[2*i+1] = (a - d) * float32(math.Sqrt(0.5))
		}
		current = next
	}

	if len(current) > coeffs.Length {
		return current[:coeffs.Length]
	}
	return current
}
