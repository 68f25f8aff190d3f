package wavelet

import "math"

// D4Transform implements the Daubechies-4 wavelet transform.
// D4 provides better continuity and energy compaction than Haar, which
// pays off on smoothly varying state (upsampled stages).
type D4Transform struct{}

var (
	// D4 coefficients
	h0 = float32((1 + math.Sqrt(3)) / (4 * math.Sqrt(2)))
	h1 = float32((3 + math.Sqrt(3)) / (4 * math.Sqrt(2)))
	h2 = float32((3 - math.Sqrt(3)) / (4 * math.Sqrt(2)))
	h3 = float32((1 - math.Sqrt(3)) / (4 * math.Sqrt(2)))

	g0 = h3
	g1 = -h2
	g2 = h1
	g3 = -h0
)

func (d *D4Transform) Decompose(data []float32, levels int) *Coefficients {
	n := len(data)
	if n == 0 {
		return nil
	}

	paddedN := 1
	for paddedN < n {
		paddedN <<= 1
	}
	if paddedN < 4 {
		paddedN = 4
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
		if size < 4 {
			coeffs.Levels = l
			coeffs.Details = coeffs.Details[:l]
			break
		}

		half := size / 2
		approx := make([]float32, half)
		detail := make([]float32, half)

		for i := 0; i < half; i++ {
			i2 := i * 2
			// Periodic boundary conditions
			approx[i] = h0*current[i2] + h1*current[(i2+1)%size] + h2*current[(i2+2)%size] + h3*current[(i2+3)%size]
			detail[i] = g0*current[i2] + g1*current[(i2+1)%size] + g2*current[(i2+2)%size] + g3*current[(i2+3)%size]
		}

		coeffs.Details[l] = detail
		current = approx
	}

	coeffs.Approximation = current[:paddedN>>uint(coeffs.Levels)]
	return coeffs
}

// Reconstruct inverts the decomposition. The forward filter bank is
// orthonormal with periodic boundaries, so the inverse is its
// transpose: scatter each (approx, detail) pair back through the
// analysis filters.
func (d *D4Transform) Reconstruct(coeffs *Coefficients, targetLevel int) []float32 {
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
		half := len(current)
		size := half * 2
		next := make([]float32, size)

		for i := 0; i < half; i++ {
			i2 := i * 2
			a := current[i]
			dd := detail[i]
			next[i2] += a*h0 + dd*g0
			next[(i2+1)%size] += a*h1 + dd*g1
			next[(i2+2)%size] += a*h2 + dd*g2
			next[(i2+3)%size] += a*h3 + dd*g3
		}
		current = next
	}

	if len(current) > coeffs.Length {
		return current[:coeffs.Length]
	}
	return current
}
