package tensor

import (
	"math"
	"testing"
)

func TestMatVecAgainstReference(t *testing.T) {
	w := NewMatFromData(2, 3, []float32{1, 2, 3, 4, 5, 6})
	x := []float32{1, 0.5, -1}
	dst := make([]float32, 2)
	MatVec(dst, &w, x)
	want := []float32{1*1 + 2*0.5 + 3*-1, 4*1 + 5*0.5 + 6*-1}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d]=%v want %v", i, dst[i], want[i])
		}
	}
}

func TestMatVecTIsTransposeProduct(t *testing.T) {
	w := NewMatFromData(2, 3, []float32{1, 2, 3, 4, 5, 6})
	y := []float32{2, -1}
	dst := make([]float32, 3)
	MatVecT(dst, &w, y)
	want := []float32{2*1 - 4, 2*2 - 5, 2*3 - 6}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d]=%v want %v", i, dst[i], want[i])
		}
	}
}

func TestAccumOuterShapeAndValues(t *testing.T) {
	g := NewMat(2, 2)
	AccumOuter(&g, []float32{1, 2}, []float32{3, 4})
	AccumOuter(&g, []float32{1, 0}, []float32{1, 1})
	want := []float32{4, 5, 6, 8}
	for i := range want {
		if g.Data[i] != want[i] {
			t.Fatalf("g[%d]=%v want %v", i, g.Data[i], want[i])
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)
	var sum float64
	for _, v := range x {
		sum += float64(v)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("softmax sum = %v", sum)
	}
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			t.Fatalf("softmax not monotone over increasing logits: %v", x)
		}
	}
}

func TestSoftmaxStableUnderLargeLogits(t *testing.T) {
	x := []float32{1000, 1001, 1002}
	Softmax(x)
	for i, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("softmax produced non-finite value at %d: %v", i, v)
		}
	}
}

func TestLogSumExpMatchesNaive(t *testing.T) {
	x := []float32{0.1, -0.4, 1.2}
	var naive float64
	for _, v := range x {
		naive += math.Exp(float64(v))
	}
	naive = math.Log(naive)
	got := LogSumExp(x)
	if math.Abs(got-naive) > 1e-6 {
		t.Fatalf("logsumexp=%v want %v", got, naive)
	}
}

func TestSiluGradNumeric(t *testing.T) {
	const h = 1e-3
	for _, x := range []float32{-2, -0.5, 0, 0.7, 3} {
		numeric := (Silu(x+h) - Silu(x-h)) / (2 * h)
		got := SiluGrad(x)
		if math.Abs(float64(got-numeric)) > 1e-3 {
			t.Fatalf("silu grad at %v: got %v want %v", x, got, numeric)
		}
	}
}

func TestFillNormalDeterministic(t *testing.T) {
	a := NewMat(4, 4)
	b := NewMat(4, 4)
	FillNormal(&a, 0.02, 7)
	FillNormal(&b, 0.02, 7)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("same seed produced different values at %d", i)
		}
	}
}
