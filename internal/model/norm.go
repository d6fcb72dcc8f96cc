package model

import (
	"math"

	"github.com/wwessex/smart-tool/internal/tensor"
)

// rmsNorm is root-mean-square normalisation with a learned per-channel
// scale. The mean square is accumulated in float64 regardless of the
// float32 storage; eps keeps the inverse square root finite on an all-zero
// input.
type rmsNorm struct {
	weight *Param // [1, dim]
	eps    float64
}

func newRMSNorm(name string, dim int, eps float64) *rmsNorm {
	n := &rmsNorm{
		weight: newParam(name, 1, dim),
		eps:    eps,
	}
	n.weight.W.FillOnes()
	return n
}

type normCache struct {
	x   tensor.Mat // layer input [T, dim]
	inv []float64  // per-position 1/sqrt(mean(x^2)+eps)
}

// forward normalises each row of x independently. When cache is non-nil
// the input and the per-row inverse RMS are recorded for the backward pass.
func (n *rmsNorm) forward(x *tensor.Mat, cache *normCache) tensor.Mat {
	out := tensor.NewMat(x.R, x.C)
	w := n.weight.W.Row(0)
	if cache != nil {
		cache.x = x.Clone()
		cache.inv = make([]float64, x.R)
	}
	for t := 0; t < x.R; t++ {
		row := x.Row(t)
		var sum float64
		for _, v := range row {
			sum += float64(v) * float64(v)
		}
		inv := 1.0 / math.Sqrt(sum/float64(x.C)+n.eps)
		if cache != nil {
			cache.inv[t] = inv
		}
		dst := out.Row(t)
		for j := range row {
			dst[j] = float32(float64(row[j])*inv) * w[j]
		}
	}
	return out
}

// backward returns dL/dx and accumulates the scale gradient.
//
// With r = 1/sqrt(mean(x^2)+eps) and g_j = dy_j * w_j:
//
//	dx_j = r*g_j − x_j * r^3 * Σ_k g_k x_k / dim
//	dw_j = Σ_rows dy_j * x_j * r
func (n *rmsNorm) backward(dy *tensor.Mat, cache *normCache) tensor.Mat {
	dx := tensor.NewMat(dy.R, dy.C)
	w := n.weight.W.Row(0)
	gw := n.weight.G.Row(0)
	dim := float64(dy.C)
	for t := 0; t < dy.R; t++ {
		x := cache.x.Row(t)
		d := dy.Row(t)
		r := cache.inv[t]

		var dot float64
		for j := range d {
			g := float64(d[j]) * float64(w[j])
			dot += g * float64(x[j])
			gw[j] += float32(float64(d[j]) * float64(x[j]) * r)
		}
		r3dot := r * r * r * dot / dim
		dst := dx.Row(t)
		for j := range d {
			g := float64(d[j]) * float64(w[j])
			dst[j] = float32(r*g - float64(x[j])*r3dot)
		}
	}
	return dx
}
