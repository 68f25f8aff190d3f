package cpu

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/g023/streamvsr/ml"
)

// tensor is dense row-major storage with the first dimension
// contiguous, matching the convention of the ml package. All dtypes are
// held as float32 internally; F16 is modeled by rounding values through
// half precision on Cast so precision semantics are observable.
type tensor struct {
	ctx   *context
	dtype ml.DType
	shape []int
	data  []float32
	slab  *[]float32
}

const elementSize = 4

func cc(ctx ml.Context) *context {
	c, ok := ctx.(*context)
	if !ok {
		panic("cpu: context from a different backend")
	}
	return c
}

func (t *tensor) Dim(n int) int {
	return t.shape[n]
}

func (t *tensor) Stride(n int) int {
	stride := elementSize
	for i := range n {
		stride *= t.shape[i]
	}
	return stride
}

func (t *tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *tensor) DType() ml.DType {
	return t.dtype
}

func (t *tensor) Floats() []float32 {
	out := make([]float32, len(t.data))
	copy(out, t.data)
	return out
}

func (t *tensor) elems() int {
	return len(t.data)
}

// shape4 pads a shape out to 4 dims for generic index loops.
func shape4(shape []int) [4]int {
	out := [4]int{1, 1, 1, 1}
	for i := 0; i < len(shape) && i < 4; i++ {
		out[i] = shape[i]
	}
	return out
}

func strides4(shape [4]int) [4]int {
	out := [4]int{1, 1, 1, 1}
	for i := 1; i < 4; i++ {
		out[i] = out[i-1] * shape[i-1]
	}
	return out
}

// ============================================================================
// ELEMENTWISE OPS
// ============================================================================

func sameShape(a, b *tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

func (t *tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	o := t2.(*tensor)
	if !sameShape(t, o) {
		panic(fmt.Errorf("cpu: Add shape mismatch %v vs %v", t.shape, o.shape))
	}
	out := cc(ctx).alloc(t.dtype, t.shape)
	for i := range out.data {
		out.data[i] = t.data[i] + o.data[i]
	}
	return out
}

func (t *tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	o := t2.(*tensor)
	if !sameShape(t, o) {
		panic(fmt.Errorf("cpu: Mul shape mismatch %v vs %v", t.shape, o.shape))
	}
	out := cc(ctx).alloc(t.dtype, t.shape)
	for i := range out.data {
		out.data[i] = t.data[i] * o.data[i]
	}
	return out
}

func (t *tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	out := cc(ctx).alloc(t.dtype, t.shape)
	f := float32(s)
	for i := range out.data {
		out.data[i] = t.data[i] * f
	}
	return out
}

// ============================================================================
// SHAPE OPS
// ============================================================================

func (t *tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != t.elems() {
		panic(fmt.Errorf("cpu: Reshape %v to %v changes element count", t.shape, shape))
	}
	out := cc(ctx).alloc(t.dtype, shape)
	copy(out.data, t.data)
	return out
}

func (t *tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	o := t2.(*tensor)
	if len(t.shape) != len(o.shape) || dim >= len(t.shape) {
		panic(fmt.Errorf("cpu: Concat rank mismatch %v vs %v dim %d", t.shape, o.shape, dim))
	}
	for i := range t.shape {
		if i != dim && t.shape[i] != o.shape[i] {
			panic(fmt.Errorf("cpu: Concat shape mismatch %v vs %v dim %d", t.shape, o.shape, dim))
		}
	}

	outShape := t.Shape()
	outShape[dim] += o.shape[dim]
	out := cc(ctx).alloc(t.dtype, outShape)

	aDims, oDims := shape4(t.shape), shape4(out.shape)
	oStr := strides4(oDims)
	split := aDims[dim]

	var coord [4]int
	for i3 := range oDims[3] {
		coord[3] = i3
		for i2 := range oDims[2] {
			coord[2] = i2
			for i1 := range oDims[1] {
				coord[1] = i1
				for i0 := range oDims[0] {
					coord[0] = i0

					src := t
					srcCoord := coord
					if coord[dim] >= split {
						src = o
						srcCoord[dim] -= split
					}
					sDims := shape4(src.shape)
					sStr := strides4(sDims)

					out.data[coord[0]*oStr[0]+coord[1]*oStr[1]+coord[2]*oStr[2]+coord[3]*oStr[3]] =
						src.data[srcCoord[0]*sStr[0]+srcCoord[1]*sStr[1]+srcCoord[2]*sStr[2]+srcCoord[3]*sStr[3]]
				}
			}
		}
	}

	return out
}

func (t *tensor) Slice(ctx ml.Context, dim, start, end, step int) ml.Tensor {
	if dim >= len(t.shape) || start < 0 || end > t.shape[dim] || start > end || step <= 0 {
		panic(fmt.Errorf("cpu: Slice [%d:%d:%d] out of range for dim %d of %v", start, end, step, dim, t.shape))
	}

	outShape := t.Shape()
	outShape[dim] = (end - start + step - 1) / step
	out := cc(ctx).alloc(t.dtype, outShape)

	iDims := shape4(t.shape)
	oDims := shape4(out.shape)
	iStr, oStr := strides4(iDims), strides4(oDims)

	var coord [4]int
	for i3 := range oDims[3] {
		coord[3] = i3
		for i2 := range oDims[2] {
			coord[2] = i2
			for i1 := range oDims[1] {
				coord[1] = i1
				for i0 := range oDims[0] {
					coord[0] = i0

					srcCoord := coord
					srcCoord[dim] = start + coord[dim]*step

					out.data[coord[0]*oStr[0]+coord[1]*oStr[1]+coord[2]*oStr[2]+coord[3]*oStr[3]] =
						t.data[srcCoord[0]*iStr[0]+srcCoord[1]*iStr[1]+srcCoord[2]*iStr[2]+srcCoord[3]*iStr[3]]
				}
			}
		}
	}

	return out
}

// ============================================================================
// PRECISION
// ============================================================================

func (t *tensor) Cast(ctx ml.Context, dtype ml.DType) ml.Tensor {
	out := cc(ctx).alloc(dtype, t.shape)
	switch dtype {
	case ml.DTypeF16:
		for i, v := range t.data {
			out.data[i] = halfRound(v)
		}
	case ml.DTypeI32:
		for i, v := range t.data {
			out.data[i] = float32(int32(v))
		}
	default:
		copy(out.data, t.data)
	}
	return out
}

func (t *tensor) Copy(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	dst := t2.(*tensor)
	if dst.elems() != t.elems() {
		panic(fmt.Errorf("cpu: Copy element count mismatch %v vs %v", t.shape, dst.shape))
	}
	if dst.dtype == ml.DTypeF16 {
		for i, v := range t.data {
			dst.data[i] = halfRound(v)
		}
	} else {
		copy(dst.data, t.data)
	}
	return dst
}

// ============================================================================
// DOMAIN KERNELS
// ============================================================================

// CausalConv applies a shared depthwise causal filter along the last
// axis. Input is [features, window+frames], kernel is [window+1], output
// is [features, frames]. Rows are independent, so the loop is split
// across workers.
func (t *tensor) CausalConv(ctx ml.Context, kernel ml.Tensor) ml.Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Errorf("cpu: CausalConv input must be 2D, got %v", t.shape))
	}
	k := kernel.(*tensor)
	if len(k.shape) != 1 {
		panic(fmt.Errorf("cpu: CausalConv kernel must be 1D, got %v", k.shape))
	}

	features, length, taps := t.shape[0], t.shape[1], k.shape[0]
	frames := length - taps + 1
	if frames <= 0 {
		panic(fmt.Errorf("cpu: CausalConv input length %d shorter than kernel %d", length, taps))
	}

	out := cc(ctx).alloc(t.dtype, []int{features, frames})
	w := k.data

	workers := cc(ctx).backend.threads()
	if workers > features {
		workers = max(1, features)
	}
	rowsPer := (features + workers - 1) / workers

	var g errgroup.Group
	for wi := range workers {
		lo := wi * rowsPer
		hi := min(lo+rowsPer, features)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			// Storage is [features, L] with features contiguous:
			// element (f, t) lives at f + features*t.
			for ti := range frames {
				for f := lo; f < hi; f++ {
					var acc float32
					for tap := range taps {
						acc += w[tap] * t.data[f+features*(ti+tap)]
					}
					out.data[f+features*ti] = acc
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// UpsampleNearest scales the H and W axes of a [C, H, W] or [C, H, W, T]
// tensor by an integer factor.
func (t *tensor) UpsampleNearest(ctx ml.Context, scale int) ml.Tensor {
	if scale < 1 || (len(t.shape) != 3 && len(t.shape) != 4) {
		panic(fmt.Errorf("cpu: UpsampleNearest needs [C,H,W] or [C,H,W,T] and scale >= 1, got %v x%d", t.shape, scale))
	}

	outShape := t.Shape()
	outShape[1] *= scale
	outShape[2] *= scale
	out := cc(ctx).alloc(t.dtype, outShape)

	iDims := shape4(t.shape)
	oDims := shape4(out.shape)
	iStr, oStr := strides4(iDims), strides4(oDims)

	for ti := range oDims[3] {
		for wi := range oDims[2] {
			for hi := range oDims[1] {
				for ci := range oDims[0] {
					out.data[ci*oStr[0]+hi*oStr[1]+wi*oStr[2]+ti*oStr[3]] =
						t.data[ci*iStr[0]+(hi/scale)*iStr[1]+(wi/scale)*iStr[2]+ti*iStr[3]]
				}
			}
		}
	}

	return out
}
