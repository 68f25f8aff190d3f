package cpu

import "math"

// halfRound rounds a float32 through IEEE 754 binary16 and back. The
// backend stores everything as float32; this models the value domain of
// F16 tensors so precision-contract bugs are reproducible on the cpu
// backend.
func halfRound(f float32) float32 {
	return halfToFloat(floatToHalf(f))
}

func floatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits >> 16 & 0x8000)
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		// Overflow and specials. Keep NaN payloads non-zero.
		if int32(bits>>23&0xff) == 0xff && mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00

	case exp <= 0:
		// Subnormal half, round to nearest even.
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		round := mant >> (shift - 1) & 1
		sticky := mant&(1<<(shift-1)-1) != 0
		if round == 1 && (sticky || half&1 == 1) {
			half++
		}
		return sign | half

	default:
		half := sign | uint16(exp)<<10 | uint16(mant>>13)
		round := mant >> 12 & 1
		sticky := mant&0xfff != 0
		if round == 1 && (sticky || half&1 == 1) {
			half++
		}
		return half
	}
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1f)
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0x1f:
		if mant != 0 {
			return math.Float32frombits(sign | 0x7fc00000)
		}
		return math.Float32frombits(sign | 0x7f800000)

	case exp == 0:
		// Subnormal half: mant * 2^-24.
		f := float32(mant) / (1 << 24)
		if sign != 0 {
			return -f
		}
		return f

	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
