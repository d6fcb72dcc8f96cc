package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = w * x where w is a matrix and x is a vector of
// length w.C. dst must have length at least w.R.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}
	for r := 0; r < w.R; r++ {
		row := w.Data[r*w.Stride : r*w.Stride+w.C]
		var sum float32
		for c := range row {
			sum += row[c] * x[c]
		}
		dst[r] = sum
	}
}

// MatVecT accumulates dst += wᵀ * y, the transpose product used when
// propagating gradients back through a MatVec. y has length w.R and dst
// has length w.C.
func MatVecT(dst []float32, w *Mat, y []float32) {
	if len(dst) < w.C || len(y) < w.R {
		panic("matvect shape mismatch")
	}
	for r := 0; r < w.R; r++ {
		row := w.Data[r*w.Stride : r*w.Stride+w.C]
		yr := y[r]
		if yr == 0 {
			continue
		}
		for c := range row {
			dst[c] += yr * row[c]
		}
	}
}

// AccumOuter accumulates g += y ⊗ x, the weight gradient of dst = w * x
// given the upstream gradient y. g has shape [len(y), len(x)].
func AccumOuter(g *Mat, y, x []float32) {
	if g.R != len(y) || g.C != len(x) {
		panic("outer product shape mismatch")
	}
	for r := range y {
		yr := y[r]
		if yr == 0 {
			continue
		}
		row := g.Data[r*g.Stride : r*g.Stride+g.C]
		for c := range x {
			row[c] += yr * x[c]
		}
	}
}

// Softmax normalises x in place. The exponential sum is accumulated in
// float64 so small probabilities are not lost to rounding.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSumExp returns log(Σ exp(x[i])) computed stably in float64.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		sum += math.Exp(float64(x[i] - maxv))
	}
	return float64(maxv) + math.Log(sum)
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// SiluGrad computes d/dx SiLU(x) = σ(x)·(1 + x·(1−σ(x))).
func SiluGrad(x float32) float32 {
	s := Sigmoid(x)
	return s * (1 + x*(1-s))
}
