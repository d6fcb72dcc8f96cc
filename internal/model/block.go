package model

import "github.com/wwessex/smart-tool/internal/tensor"

// block is one transformer layer in strict pre-norm form:
//
//	x = x + Attention(Norm(x))
//	x = x + FFN(Norm(x))
//
// The normalise-before-sublayer ordering is load-bearing for training
// stability and must not be swapped for post-norm.
type block struct {
	attn     *attention
	ffn      *feedForward
	attnNorm *rmsNorm
	ffnNorm  *rmsNorm
}

func newBlock(layer int, cfg Config) *block {
	return &block{
		attn:     newAttention(layer, cfg),
		ffn:      newFeedForward(layer, cfg),
		attnNorm: newRMSNorm(attnNormName(layer), cfg.DModel, cfg.NormEps),
		ffnNorm:  newRMSNorm(ffnNormName(layer), cfg.DModel, cfg.NormEps),
	}
}

type blockCache struct {
	norm1 normCache
	attn  attnCache
	norm2 normCache
	ffn   ffnCache
}

func (b *block) forward(x *tensor.Mat, rope *ropeTable, mask *tensor.Mat, cache *blockCache, drop *dropout) tensor.Mat {
	var nc1, nc2 *normCache
	var ac *attnCache
	var fc *ffnCache
	if cache != nil {
		nc1, ac = &cache.norm1, &cache.attn
		nc2, fc = &cache.norm2, &cache.ffn
	}

	out := x.Clone()
	xn := b.attnNorm.forward(&out, nc1)
	attnOut := b.attn.forward(&xn, rope, mask, ac, drop)
	tensor.Add(out.Data, attnOut.Data)

	xn = b.ffnNorm.forward(&out, nc2)
	ffnOut := b.ffn.forward(&xn, fc, drop)
	tensor.Add(out.Data, ffnOut.Data)
	return out
}

// backward takes the gradient of the block output and returns the gradient
// of the block input. Residual paths pass the upstream gradient through
// unchanged alongside each sublayer's contribution.
func (b *block) backward(dy *tensor.Mat, rope *ropeTable, cache *blockCache) tensor.Mat {
	dxn := b.ffn.backward(dy, &cache.ffn)
	dmid := b.ffnNorm.backward(&dxn, &cache.norm2)
	tensor.Add(dmid.Data, dy.Data)

	dxn = b.attn.backward(&dmid, rope, &cache.attn)
	dx := b.attnNorm.backward(&dxn, &cache.norm1)
	tensor.Add(dx.Data, dmid.Data)
	return dx
}

func (b *block) params() []*Param {
	out := []*Param{b.attnNorm.weight}
	out = append(out, b.attn.params()...)
	out = append(out, b.ffnNorm.weight)
	out = append(out, b.ffn.params()...)
	return out
}
