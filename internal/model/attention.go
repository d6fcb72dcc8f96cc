package model

import (
	"math"

	"github.com/wwessex/smart-tool/internal/tensor"
)

// attention implements grouped-query self-attention. Query projection has
// nHeads heads; key and value have nKVHeads heads, with each kv head
// serving a contiguous run of KVRepeat query heads.
type attention struct {
	wq, wk, wv, wo *Param

	nHeads   int
	nKVHeads int
	headDim  int
	rep      int
	scale    float32
}

func newAttention(layer int, cfg Config) *attention {
	hd := cfg.HeadDim()
	return &attention{
		wq:       newParam(attnQName(layer), cfg.NHeads*hd, cfg.DModel),
		wk:       newParam(attnKName(layer), cfg.NKVHeads*hd, cfg.DModel),
		wv:       newParam(attnVName(layer), cfg.NKVHeads*hd, cfg.DModel),
		wo:       newParam(attnOutName(layer), cfg.DModel, cfg.NHeads*hd),
		nHeads:   cfg.NHeads,
		nKVHeads: cfg.NKVHeads,
		headDim:  hd,
		rep:      cfg.KVRepeat(),
		scale:    float32(1.0 / math.Sqrt(float64(hd))),
	}
}

type attnCache struct {
	xn    tensor.Mat   // normed input [T, dModel]
	q     tensor.Mat   // post-rope queries [T, nHeads*headDim]
	k     tensor.Mat   // post-rope keys [T, nKVHeads*headDim]
	v     tensor.Mat   // values [T, nKVHeads*headDim]
	probs []tensor.Mat // per-head softmax output [T, T], pre-dropout
	masks []tensor.Mat // per-head dropout keep-scale, nil when dropout off
	ctx   tensor.Mat   // concatenated head outputs [T, nHeads*headDim]
}

// repeatKV expands kv-head data to one run per query head. Head g of x
// serves query heads [g*rep, (g+1)*rep): a contiguous broadcast, not a
// permutation. When rep is 1 the expansion is the identity and x is
// returned unchanged.
func repeatKV(x *tensor.Mat, nKVHeads, headDim, rep int) tensor.Mat {
	if rep == 1 {
		return *x
	}
	out := tensor.NewMat(x.R, nKVHeads*rep*headDim)
	for t := 0; t < x.R; t++ {
		src := x.Row(t)
		dst := out.Row(t)
		for g := 0; g < nKVHeads; g++ {
			head := src[g*headDim : (g+1)*headDim]
			for r := 0; r < rep; r++ {
				copy(dst[(g*rep+r)*headDim:(g*rep+r+1)*headDim], head)
			}
		}
	}
	return out
}

// foldKV is the adjoint of repeatKV: gradients of the expanded heads sum
// back into their source kv head.
func foldKV(d *tensor.Mat, nKVHeads, headDim, rep int) tensor.Mat {
	if rep == 1 {
		return *d
	}
	out := tensor.NewMat(d.R, nKVHeads*headDim)
	for t := 0; t < d.R; t++ {
		src := d.Row(t)
		dst := out.Row(t)
		for g := 0; g < nKVHeads; g++ {
			acc := dst[g*headDim : (g+1)*headDim]
			for r := 0; r < rep; r++ {
				head := src[(g*rep+r)*headDim : (g*rep+r+1)*headDim]
				for j := range acc {
					acc[j] += head[j]
				}
			}
		}
	}
	return out
}

// forward computes attention over the whole sequence. mask is the causal
// mask slice for the current length: zero at or before each position,
// -inf strictly after it. cache must be non-nil when a backward pass will
// follow; drop is nil outside training.
func (a *attention) forward(xn *tensor.Mat, rope *ropeTable, mask *tensor.Mat, cache *attnCache, drop *dropout) tensor.Mat {
	T := xn.R

	q := tensor.NewMat(T, a.nHeads*a.headDim)
	k := tensor.NewMat(T, a.nKVHeads*a.headDim)
	v := tensor.NewMat(T, a.nKVHeads*a.headDim)
	for t := 0; t < T; t++ {
		x := xn.Row(t)
		tensor.MatVec(q.Row(t), &a.wq.W, x)
		tensor.MatVec(k.Row(t), &a.wk.W, x)
		tensor.MatVec(v.Row(t), &a.wv.W, x)
		rope.apply(q.Row(t), a.nHeads, a.headDim, t)
		rope.apply(k.Row(t), a.nKVHeads, a.headDim, t)
	}

	khat := repeatKV(&k, a.nKVHeads, a.headDim, a.rep)
	vhat := repeatKV(&v, a.nKVHeads, a.headDim, a.rep)

	ctx := tensor.NewMat(T, a.nHeads*a.headDim)
	var probs, masks []tensor.Mat
	if cache != nil {
		probs = make([]tensor.Mat, a.nHeads)
		if drop != nil {
			masks = make([]tensor.Mat, a.nHeads)
		}
	}

	scores := tensor.NewMat(T, T)
	for h := 0; h < a.nHeads; h++ {
		off := h * a.headDim
		for i := 0; i < T; i++ {
			qi := q.Row(i)[off : off+a.headDim]
			mrow := mask.Row(i)
			srow := scores.Row(i)
			for j := 0; j < T; j++ {
				kj := khat.Row(j)[off : off+a.headDim]
				srow[j] = tensor.Dot(qi, kj)*a.scale + mrow[j]
			}
			tensor.Softmax(srow)
		}
		if cache != nil {
			probs[h] = scores.Clone()
		}
		weights := &scores
		if drop != nil {
			m := drop.mask(T, T)
			for i := range scores.Data {
				scores.Data[i] *= m.Data[i]
			}
			if cache != nil {
				masks[h] = m
			}
		}
		for i := 0; i < T; i++ {
			prow := weights.Row(i)
			out := ctx.Row(i)[off : off+a.headDim]
			for j := 0; j < T; j++ {
				p := prow[j]
				if p == 0 {
					continue
				}
				vj := vhat.Row(j)[off : off+a.headDim]
				for d := range out {
					out[d] += p * vj[d]
				}
			}
		}
	}

	out := tensor.NewMat(T, a.wo.W.R)
	for t := 0; t < T; t++ {
		tensor.MatVec(out.Row(t), &a.wo.W, ctx.Row(t))
	}

	if cache != nil {
		cache.xn = xn.Clone()
		cache.q = q
		cache.k = k
		cache.v = v
		cache.probs = probs
		cache.masks = masks
		cache.ctx = ctx
	}
	return out
}

// backward propagates dy through the attention layer, accumulating weight
// gradients, and returns the gradient with respect to the normed input.
func (a *attention) backward(dy *tensor.Mat, rope *ropeTable, cache *attnCache) tensor.Mat {
	T := dy.R

	dctx := tensor.NewMat(T, a.nHeads*a.headDim)
	for t := 0; t < T; t++ {
		tensor.AccumOuter(&a.wo.G, dy.Row(t), cache.ctx.Row(t))
		tensor.MatVecT(dctx.Row(t), &a.wo.W, dy.Row(t))
	}

	khat := repeatKV(&cache.k, a.nKVHeads, a.headDim, a.rep)
	vhat := repeatKV(&cache.v, a.nKVHeads, a.headDim, a.rep)

	dq := tensor.NewMat(T, a.nHeads*a.headDim)
	dkhat := tensor.NewMat(T, a.nHeads*a.headDim)
	dvhat := tensor.NewMat(T, a.nHeads*a.headDim)

	dprobs := make([]float32, T)
	for h := 0; h < a.nHeads; h++ {
		off := h * a.headDim
		probs := &cache.probs[h]
		for i := 0; i < T; i++ {
			di := dctx.Row(i)[off : off+a.headDim]
			prow := probs.Row(i)

			// dP[i][j] = dctx_i · v_j, through the dropout scale if any.
			for j := 0; j < T; j++ {
				vj := vhat.Row(j)[off : off+a.headDim]
				g := tensor.Dot(di, vj)
				if cache.masks != nil {
					g *= cache.masks[h].Row(i)[j]
				}
				dprobs[j] = g
			}

			// dV accumulates through the dropped weights actually used.
			for j := 0; j < T; j++ {
				p := prow[j]
				if cache.masks != nil {
					p *= cache.masks[h].Row(i)[j]
				}
				if p == 0 {
					continue
				}
				dvj := dvhat.Row(j)[off : off+a.headDim]
				for d := range di {
					dvj[d] += p * di[d]
				}
			}

			// Softmax backward: dS = P ⊙ (dP − Σ dP⊙P).
			var dot float64
			for j := 0; j < T; j++ {
				dot += float64(dprobs[j]) * float64(prow[j])
			}
			qi := cache.q.Row(i)[off : off+a.headDim]
			dqi := dq.Row(i)[off : off+a.headDim]
			for j := 0; j < T; j++ {
				ds := prow[j] * float32(float64(dprobs[j])-dot)
				if ds == 0 {
					continue
				}
				kj := khat.Row(j)[off : off+a.headDim]
				dkj := dkhat.Row(j)[off : off+a.headDim]
				s := ds * a.scale
				for d := 0; d < a.headDim; d++ {
					dqi[d] += s * kj[d]
					dkj[d] += s * qi[d]
				}
			}
		}
	}

	dk := foldKV(&dkhat, a.nKVHeads, a.headDim, a.rep)
	dv := foldKV(&dvhat, a.nKVHeads, a.headDim, a.rep)

	dxn := tensor.NewMat(T, cache.xn.C)
	for t := 0; t < T; t++ {
		rope.applyInverse(dq.Row(t), a.nHeads, a.headDim, t)
		rope.applyInverse(dk.Row(t), a.nKVHeads, a.headDim, t)

		x := cache.xn.Row(t)
		tensor.AccumOuter(&a.wq.G, dq.Row(t), x)
		tensor.AccumOuter(&a.wk.G, dk.Row(t), x)
		tensor.AccumOuter(&a.wv.G, dv.Row(t), x)

		dst := dxn.Row(t)
		tensor.MatVecT(dst, &a.wq.W, dq.Row(t))
		tensor.MatVecT(dst, &a.wk.W, dk.Row(t))
		tensor.MatVecT(dst, &a.wv.W, dv.Row(t))
	}
	return dxn
}

func (a *attention) params() []*Param {
	return []*Param{a.wq, a.wk, a.wv, a.wo}
}
