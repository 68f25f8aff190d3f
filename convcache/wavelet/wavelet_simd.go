package wavelet

// UnrolledHaarTransform is the Haar transform with the inner loop
// unrolled four-wide so the compiler can vectorize it. Lookback state
// buffers are large (features scale with tile area), which makes the
// decomposition loop worth the treatment.
type UnrolledHaarTransform struct {
	HaarTransform
}

// Decompose implements an optimized version of Haar decomposition.
func (s *UnrolledHaarTransform) Decompose(data []float32, levels int) *Coefficients {
	n := len(data)
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

	sqrt05 := float32(0.70710678118)

	for l := 0; l < levels; l++ {
		size := paddedN >> uint(l)
		if size < 8 { // Fall back to the scalar path for small tails
			return s.HaarTransform.Decompose(data, levels)
		}

		half := size / 2
		approx := make([]float32, half)
		detail := make([]float32, half)

		i := 0
		for ; i+3 < half; i += 4 {
			v0a, v0b := current[2*i], current[2*i+1]
			v1a, v1b := current[2*(i+1)], current[2*(i+1)+1]
			v2a, v2b := current[2*(i+2)], current[2*(i+2)+1]
			v3a, v3b := current[2*(i+3)], current[2*(i+3)+1]

			approx[i] = (v0a + v0b) * sqrt05
			detail[i] = (v0a - v0b) * sqrt05
			approx[i+1] = (v1a + v1b) * sqrt05
			detail[i+1] = (v1a - v1b) * sqrt05
			approx[i+2] = (v2a + v2b) * sqrt05
			detail[i+2] = (v2a - v2b) * sqrt05
			approx[i+3] = (v3a + v3b) * sqrt05
			detail[i+3] = (v3a - v3b) * sqrt05
		}

		for ; i < half; i++ {
			v1 := current[2*i]
			v2 := current[2*i+1]
			approx[i] = (v1 + v2) * sqrt05
			detail[i] = (v1 - v2) * sqrt05
		}

		coeffs.Details[l] = detail
		current = approx
	}

	coeffs.Approximation = current
	return coeffs
}
