package cpu

import (
	"math"
	"testing"

	"github.com/g023/streamvsr/ml"
)

func testContext(t *testing.T) ml.Context {
	t.Helper()
	ctx := New().NewContext()
	t.Cleanup(ctx.Close)
	return ctx
}

func floatsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestElementwiseOps(t *testing.T) {
	ctx := testContext(t)

	a := ctx.FromFloats([]float32{1, 2, 3, 4}, 2, 2)
	b := ctx.FromFloats([]float32{10, 20, 30, 40}, 2, 2)

	if got := a.Add(ctx, b).Floats(); !floatsEqual(got, []float32{11, 22, 33, 44}) {
		t.Errorf("Add = %v", got)
	}
	if got := a.Mul(ctx, b).Floats(); !floatsEqual(got, []float32{10, 40, 90, 160}) {
		t.Errorf("Mul = %v", got)
	}
	if got := a.Scale(ctx, 0.5).Floats(); !floatsEqual(got, []float32{0.5, 1, 1.5, 2}) {
		t.Errorf("Scale = %v", got)
	}
}

func TestAddShapeMismatchPanics(t *testing.T) {
	ctx := testContext(t)
	a := ctx.Zeros(ml.DTypeF32, 2, 2)
	b := ctx.Zeros(ml.DTypeF32, 2, 3)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	a.Add(ctx, b)
}

func TestStride(t *testing.T) {
	ctx := testContext(t)
	a := ctx.Zeros(ml.DTypeF32, 3, 4, 5)

	if got := a.Stride(0); got != 4 {
		t.Errorf("Stride(0) = %d, want 4", got)
	}
	if got := a.Stride(1); got != 12 {
		t.Errorf("Stride(1) = %d, want 12", got)
	}
	if got := a.Stride(2); got != 48 {
		t.Errorf("Stride(2) = %d, want 48", got)
	}
}

func TestConcat(t *testing.T) {
	ctx := testContext(t)

	// [2, 2] with the first dim contiguous: (i0, i1) at i0 + 2*i1
	a := ctx.FromFloats([]float32{1, 2, 3, 4}, 2, 2)

	b := ctx.FromFloats([]float32{9, 10}, 1, 2)
	if got := a.Concat(ctx, b, 0); !floatsEqual(got.Floats(), []float32{1, 2, 9, 3, 4, 10}) {
		t.Errorf("Concat dim 0 = %v", got.Floats())
	}

	c := ctx.FromFloats([]float32{9, 10}, 2, 1)
	if got := a.Concat(ctx, c, 1); !floatsEqual(got.Floats(), []float32{1, 2, 3, 4, 9, 10}) {
		t.Errorf("Concat dim 1 = %v", got.Floats())
	}
}

func TestSlice(t *testing.T) {
	ctx := testContext(t)

	// Columns 0..3 of a [2, 4]: col k holds {2k+1, 2k+2}
	a := ctx.FromFloats([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4)

	got := a.Slice(ctx, 1, 1, 3, 1)
	if shape := got.Shape(); shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("Slice shape = %v, want [2 2]", shape)
	}
	if !floatsEqual(got.Floats(), []float32{3, 4, 5, 6}) {
		t.Errorf("Slice [1:3] = %v", got.Floats())
	}

	strided := a.Slice(ctx, 1, 0, 4, 2)
	if !floatsEqual(strided.Floats(), []float32{1, 2, 5, 6}) {
		t.Errorf("Slice [0:4:2] = %v", strided.Floats())
	}

	rows := a.Slice(ctx, 0, 1, 2, 1)
	if !floatsEqual(rows.Floats(), []float32{2, 4, 6, 8}) {
		t.Errorf("Slice dim 0 [1:2] = %v", rows.Floats())
	}
}

func TestSliceRangePanics(t *testing.T) {
	ctx := testContext(t)
	a := ctx.Zeros(ml.DTypeF32, 2, 4)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	a.Slice(ctx, 1, 0, 5, 1)
}

func TestReshape(t *testing.T) {
	ctx := testContext(t)
	a := ctx.FromFloats([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	r := a.Reshape(ctx, 6)
	if !floatsEqual(r.Floats(), []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Reshape data = %v", r.Floats())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on element count change")
		}
	}()
	a.Reshape(ctx, 4)
}

func TestCast(t *testing.T) {
	ctx := testContext(t)
	a := ctx.FromFloats([]float32{0.1, 1, -2.7, 65504}, 4)

	f16 := a.Cast(ctx, ml.DTypeF16)
	if f16.DType() != ml.DTypeF16 {
		t.Fatalf("dtype = %v", f16.DType())
	}
	got := f16.Floats()
	if got[0] == 0.1 {
		t.Error("0.1 survived F16 rounding unchanged")
	}
	if got[1] != 1 || got[3] != 65504 {
		t.Errorf("F16-exact values changed: %v", got)
	}

	i32 := a.Cast(ctx, ml.DTypeI32)
	if want := []float32{0, 1, -2, 65504}; !floatsEqual(i32.Floats(), want) {
		t.Errorf("I32 cast = %v, want %v", i32.Floats(), want)
	}

	// Casting to the same dtype still yields an independent copy
	f32 := a.Cast(ctx, ml.DTypeF32)
	if !floatsEqual(f32.Floats(), a.Floats()) {
		t.Errorf("F32 cast = %v", f32.Floats())
	}
}

func TestCopyIntoF16Rounds(t *testing.T) {
	ctx := testContext(t)
	src := ctx.FromFloats([]float32{0.1, 0.2}, 2)
	dst := ctx.Zeros(ml.DTypeF16, 2)

	src.Copy(ctx, dst)
	for i, v := range dst.Floats() {
		if v != halfRound(src.Floats()[i]) {
			t.Errorf("dst[%d] = %f, want half-rounded", i, v)
		}
	}
}

func TestCausalConv(t *testing.T) {
	ctx := testContext(t)

	// 2 features, window 2 (3 taps), 3 output frames from 5 input cols
	in := ctx.FromFloats([]float32{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
		5, 50,
	}, 2, 5)
	kernel := ctx.FromFloats([]float32{0.25, 0.25, 0.5}, 3)

	out := in.CausalConv(ctx, kernel)
	if shape := out.Shape(); shape[0] != 2 || shape[1] != 3 {
		t.Fatalf("output shape = %v, want [2 3]", shape)
	}

	// out(f, t) = 0.25*in(f,t) + 0.25*in(f,t+1) + 0.5*in(f,t+2)
	want := []float32{
		0.25*1 + 0.25*2 + 0.5*3, 0.25*10 + 0.25*20 + 0.5*30,
		0.25*2 + 0.25*3 + 0.5*4, 0.25*20 + 0.25*30 + 0.5*40,
		0.25*3 + 0.25*4 + 0.5*5, 0.25*30 + 0.25*40 + 0.5*50,
	}
	if got := out.Floats(); !floatsEqual(got, want) {
		t.Errorf("CausalConv = %v, want %v", got, want)
	}
}

func TestCausalConvMatchesNaive(t *testing.T) {
	ctx := testContext(t)

	const features, length, taps = 67, 24, 3
	data := make([]float32, features*length)
	for i := range data {
		data[i] = float32(i%11) - 5
	}
	w := []float32{0.2, 0.3, 0.5}

	in := ctx.FromFloats(data, features, length)
	kernel := ctx.FromFloats(w, taps)
	got := in.CausalConv(ctx, kernel).Floats()

	frames := length - taps + 1
	for ti := 0; ti < frames; ti++ {
		for f := 0; f < features; f++ {
			var want float32
			for tap := 0; tap < taps; tap++ {
				want += w[tap] * data[f+features*(ti+tap)]
			}
			if diff := float64(got[f+features*ti] - want); math.Abs(diff) > 1e-5 {
				t.Fatalf("out(%d,%d) = %f, want %f", f, ti, got[f+features*ti], want)
			}
		}
	}
}

func TestCausalConvTooShortPanics(t *testing.T) {
	ctx := testContext(t)
	in := ctx.Zeros(ml.DTypeF32, 2, 2)
	kernel := ctx.Zeros(ml.DTypeF32, 3)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	in.CausalConv(ctx, kernel)
}

func TestUpsampleNearest(t *testing.T) {
	ctx := testContext(t)

	// [1, 2, 2]: (h, w) grid {{1, 2}, {3, 4}} with w varying last
	in := ctx.FromFloats([]float32{1, 3, 2, 4}, 1, 2, 2)
	out := in.UpsampleNearest(ctx, 2)

	if shape := out.Shape(); shape[1] != 4 || shape[2] != 4 {
		t.Fatalf("output shape = %v, want [1 4 4]", shape)
	}
	want := []float32{
		1, 1, 3, 3,
		1, 1, 3, 3,
		2, 2, 4, 4,
		2, 2, 4, 4,
	}
	if got := out.Floats(); !floatsEqual(got, want) {
		t.Errorf("UpsampleNearest = %v, want %v", got, want)
	}
}

func TestUpsampleNearestTemporal(t *testing.T) {
	ctx := testContext(t)

	in := ctx.FromFloats([]float32{1, 2, 3, 4}, 1, 1, 1, 4)
	out := in.UpsampleNearest(ctx, 3)

	if shape := out.Shape(); shape[1] != 3 || shape[2] != 3 || shape[3] != 4 {
		t.Fatalf("output shape = %v, want [1 3 3 4]", shape)
	}
	got := out.Floats()
	for ti := 0; ti < 4; ti++ {
		for i := 0; i < 9; i++ {
			if got[ti*9+i] != float32(ti+1) {
				t.Fatalf("frame %d element %d = %f, want %d: temporal axis must not be scaled", ti, i, got[ti*9+i], ti+1)
			}
		}
	}
}

func TestContextCloseReleasesMemory(t *testing.T) {
	before := Stats.CurrentBytes.Load()

	ctx := New().NewContext()
	ctx.Zeros(ml.DTypeF32, 1024, 1024)
	if got := Stats.CurrentBytes.Load(); got != before+4*1024*1024 {
		t.Fatalf("resident after alloc = %d, want %d", got, before+4*1024*1024)
	}

	ctx.Close()
	if got := Stats.CurrentBytes.Load(); got != before {
		t.Fatalf("resident after close = %d, want %d", got, before)
	}

	// Close is idempotent
	ctx.Close()
	if got := Stats.CurrentBytes.Load(); got != before {
		t.Fatalf("resident after double close = %d, want %d", got, before)
	}
}

func TestAllocOnClosedContextPanics(t *testing.T) {
	ctx := New().NewContext()
	ctx.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	ctx.Zeros(ml.DTypeF32, 1)
}
