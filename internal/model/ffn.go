package model

import "github.com/wwessex/smart-tool/internal/tensor"

// feedForward is the gated (SwiGLU) feed-forward layer:
// down(silu(gate(x)) ⊙ up(x)). Three projections, no biases.
type feedForward struct {
	gate *Param // [dFF, dModel]
	up   *Param // [dFF, dModel]
	down *Param // [dModel, dFF]
}

func newFeedForward(layer int, cfg Config) *feedForward {
	return &feedForward{
		gate: newParam(ffnGateName(layer), cfg.DFF, cfg.DModel),
		up:   newParam(ffnUpName(layer), cfg.DFF, cfg.DModel),
		down: newParam(ffnDownName(layer), cfg.DModel, cfg.DFF),
	}
}

type ffnCache struct {
	xn   tensor.Mat // normed input [T, dModel]
	a    tensor.Mat // gate pre-activation [T, dFF]
	b    tensor.Mat // up projection [T, dFF]
	h    tensor.Mat // silu(a) ⊙ b [T, dFF]
	mask tensor.Mat // dropout keep-scale on the output, zero-size when off
}

func (f *feedForward) forward(xn *tensor.Mat, cache *ffnCache, drop *dropout) tensor.Mat {
	T := xn.R
	a := tensor.NewMat(T, f.gate.W.R)
	b := tensor.NewMat(T, f.up.W.R)
	h := tensor.NewMat(T, f.gate.W.R)
	out := tensor.NewMat(T, f.down.W.R)
	for t := 0; t < T; t++ {
		x := xn.Row(t)
		tensor.MatVec(a.Row(t), &f.gate.W, x)
		tensor.MatVec(b.Row(t), &f.up.W, x)
		ha := h.Row(t)
		ar := a.Row(t)
		br := b.Row(t)
		for j := range ha {
			ha[j] = tensor.Silu(ar[j]) * br[j]
		}
		tensor.MatVec(out.Row(t), &f.down.W, ha)
	}
	var mask tensor.Mat
	if drop != nil {
		mask = drop.mask(T, out.C)
		for i := range out.Data {
			out.Data[i] *= mask.Data[i]
		}
	}
	if cache != nil {
		cache.xn = xn.Clone()
		cache.a = a
		cache.b = b
		cache.h = h
		cache.mask = mask
	}
	return out
}

func (f *feedForward) backward(dy *tensor.Mat, cache *ffnCache) tensor.Mat {
	T := dy.R
	dxn := tensor.NewMat(T, cache.xn.C)
	dh := make([]float32, f.down.W.C)
	da := make([]float32, f.gate.W.R)
	db := make([]float32, f.up.W.R)
	dyt := make([]float32, dy.C)
	for t := 0; t < T; t++ {
		copy(dyt, dy.Row(t))
		if cache.mask.Data != nil {
			m := cache.mask.Row(t)
			for j := range dyt {
				dyt[j] *= m[j]
			}
		}

		tensor.AccumOuter(&f.down.G, dyt, cache.h.Row(t))
		for j := range dh {
			dh[j] = 0
		}
		tensor.MatVecT(dh, &f.down.W, dyt)

		ar := cache.a.Row(t)
		br := cache.b.Row(t)
		for j := range dh {
			da[j] = dh[j] * br[j] * tensor.SiluGrad(ar[j])
			db[j] = dh[j] * tensor.Silu(ar[j])
		}

		x := cache.xn.Row(t)
		tensor.AccumOuter(&f.gate.G, da, x)
		tensor.AccumOuter(&f.up.G, db, x)

		dst := dxn.Row(t)
		tensor.MatVecT(dst, &f.gate.W, da)
		tensor.MatVecT(dst, &f.up.W, db)
	}
	return dxn
}

func (f *feedForward) params() []*Param {
	return []*Param{f.gate, f.up, f.down}
}
