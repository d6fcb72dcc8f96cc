package model

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/wwessex/smart-tool/internal/tensor"
)

// IgnoreIndex marks a label position excluded from the loss.
const IgnoreIndex = -100

// Model is the decoder-only planner transformer: token embedding, a stack
// of pre-norm blocks, a final RMSNorm, and an output projection whose
// parameter storage is the embedding matrix itself (weight tying: one
// buffer, two roles). The rotary table and causal mask are derived from
// the config once at construction and only sliced per forward call.
type Model struct {
	Config Config

	embed   *Param // [vocab, dModel]; doubles as the output projection
	blocks  []*block
	outNorm *rmsNorm

	rope *ropeTable
	mask tensor.Mat // [maxLen, maxLen], 0 on/below diagonal, -inf above

	rng *rand.Rand // dropout stream, single writer per training run
}

// Output is the result of a forward pass. Loss is only meaningful when
// HasLoss is set (labels were supplied).
type Output struct {
	Logits  []tensor.Mat // per sequence [T, vocab]
	Loss    float64
	HasLoss bool
}

// New constructs a model with freshly initialised weights: normal(0, 0.02)
// for projections and the embedding, ones for norm scales. The same config
// and seed always produce identical parameters.
func New(cfg Config, seed int64) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		Config:  cfg,
		embed:   newParam(TokenEmbedName, cfg.VocabSize, cfg.DModel),
		outNorm: newRMSNorm(OutputNormName, cfg.DModel, cfg.NormEps),
		rope:    newRopeTable(cfg.MaxSeqLen, cfg.HeadDim(), cfg.RopeTheta),
		mask:    causalMask(cfg.MaxSeqLen),
		rng:     rand.New(rand.NewSource(seed ^ 0x64726f70)),
	}
	for i := 0; i < cfg.NLayers; i++ {
		m.blocks = append(m.blocks, newBlock(i, cfg))
	}
	for i, p := range m.Parameters() {
		if strings.Contains(p.Name, "norm") {
			continue
		}
		tensor.FillNormal(&p.W, 0.02, seed+int64(i)*31)
	}
	return m, nil
}

func causalMask(n int) tensor.Mat {
	negInf := float32(math.Inf(-1))
	m := tensor.NewMat(n, n)
	for i := 0; i < n; i++ {
		row := m.Row(i)
		for j := i + 1; j < n; j++ {
			row[j] = negInf
		}
	}
	return m
}

// Parameters returns every trainable parameter exactly once, in a stable
// order. The tied embedding/output matrix appears a single time, so one
// optimiser update moves both roles together.
func (m *Model) Parameters() []*Param {
	out := []*Param{m.embed}
	for _, b := range m.blocks {
		out = append(out, b.params()...)
	}
	out = append(out, m.outNorm.weight)
	return out
}

// ZeroGrad clears all gradient buffers.
func (m *Model) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// Clone returns a deep copy with entirely independent parameter storage.
// Used to freeze a reference model: later optimiser steps on the source
// cannot reach the clone.
func (m *Model) Clone() *Model {
	c, err := New(m.Config, 0)
	if err != nil {
		panic("clone of validated config failed: " + err.Error())
	}
	src := m.Parameters()
	dst := c.Parameters()
	for i := range src {
		copy(dst[i].W.Data, src[i].W.Data)
	}
	return c
}

// seqCache holds the activations of one sequence needed by Backward.
type seqCache struct {
	ids    []int
	blocks []blockCache
	out    normCache
	normed tensor.Mat // final normed hidden states [T, dModel]
}

// dropout draws inverted-dropout keep masks: each element is 0 with
// probability p, otherwise 1/(1-p).
type dropout struct {
	p   float32
	rng *rand.Rand
}

func (d *dropout) mask(r, c int) tensor.Mat {
	m := tensor.NewMat(r, c)
	keep := 1 / (1 - d.p)
	for i := range m.Data {
		if d.rng.Float32() >= d.p {
			m.Data[i] = keep
		}
	}
	return m
}

// Forward runs the model over a batch of token-id sequences and returns
// per-position logits. A sequence longer than the configured maximum is a
// fatal error, never a silent truncation. When labels are supplied the
// shifted next-token cross-entropy is computed as well, with IgnoreIndex
// positions excluded.
func (m *Model) Forward(ids [][]int, labels [][]int) (*Output, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if labels != nil && len(labels) != len(ids) {
		return nil, fmt.Errorf("labels batch size %d does not match inputs %d", len(labels), len(ids))
	}
	out := &Output{Logits: make([]tensor.Mat, len(ids))}
	for i, seq := range ids {
		logits, _, err := m.forwardSeq(seq, false)
		if err != nil {
			return nil, err
		}
		out.Logits[i] = logits
	}
	if labels != nil {
		loss, _, err := m.lossGrad(out.Logits, labels, false)
		if err != nil {
			return nil, err
		}
		out.Loss = loss
		out.HasLoss = true
	}
	return out, nil
}

// ForwardTrain is the gradient-tracking forward pass: it returns logits
// plus the activation caches Backward consumes. Dropout is active here and
// only here.
func (m *Model) ForwardTrain(ids [][]int) ([]tensor.Mat, []*seqCache, error) {
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	logits := make([]tensor.Mat, len(ids))
	caches := make([]*seqCache, len(ids))
	for i, seq := range ids {
		lg, cache, err := m.forwardSeq(seq, true)
		if err != nil {
			return nil, nil, err
		}
		logits[i] = lg
		caches[i] = cache
	}
	return logits, caches, nil
}

func (m *Model) forwardSeq(ids []int, train bool) (tensor.Mat, *seqCache, error) {
	T := len(ids)
	if T == 0 {
		return tensor.Mat{}, nil, fmt.Errorf("empty sequence")
	}
	if T > m.Config.MaxSeqLen {
		return tensor.Mat{}, nil, fmt.Errorf("sequence length %d exceeds maximum %d", T, m.Config.MaxSeqLen)
	}

	x := tensor.NewMat(T, m.Config.DModel)
	for t, tok := range ids {
		if tok < 0 || tok >= m.Config.VocabSize {
			return tensor.Mat{}, nil, fmt.Errorf("token id out of range: %d", tok)
		}
		copy(x.Row(t), m.embed.W.Row(tok))
	}

	var cache *seqCache
	var drop *dropout
	if train {
		cache = &seqCache{
			ids:    append([]int(nil), ids...),
			blocks: make([]blockCache, len(m.blocks)),
		}
		if m.Config.Dropout > 0 {
			drop = &dropout{p: float32(m.Config.Dropout), rng: m.rng}
		}
	}

	for i, b := range m.blocks {
		var bc *blockCache
		if cache != nil {
			bc = &cache.blocks[i]
		}
		x = b.forward(&x, m.rope, &m.mask, bc, drop)
	}

	var oc *normCache
	if cache != nil {
		oc = &cache.out
	}
	normed := m.outNorm.forward(&x, oc)
	if cache != nil {
		cache.normed = normed.Clone()
	}

	logits := tensor.NewMat(T, m.Config.VocabSize)
	for t := 0; t < T; t++ {
		tensor.MatVec(logits.Row(t), &m.embed.W, normed.Row(t))
	}
	return logits, cache, nil
}

// Backward propagates per-sequence logit gradients into the parameter
// gradient buffers. The tied embedding receives both the output-projection
// contribution and the lookup contribution.
func (m *Model) Backward(gradLogits []tensor.Mat, caches []*seqCache) {
	for i := range gradLogits {
		m.backwardSeq(&gradLogits[i], caches[i])
	}
}

func (m *Model) backwardSeq(dlogits *tensor.Mat, cache *seqCache) {
	T := dlogits.R

	dnormed := tensor.NewMat(T, m.Config.DModel)
	for t := 0; t < T; t++ {
		tensor.AccumOuter(&m.embed.G, dlogits.Row(t), cache.normed.Row(t))
		tensor.MatVecT(dnormed.Row(t), &m.embed.W, dlogits.Row(t))
	}

	dx := m.outNorm.backward(&dnormed, &cache.out)
	for i := len(m.blocks) - 1; i >= 0; i-- {
		dx = m.blocks[i].backward(&dx, m.rope, &cache.blocks[i])
	}

	for t, tok := range cache.ids {
		tensor.Add(m.embed.G.Row(tok), dx.Row(t))
	}
}

// LossGrad computes the shifted next-token cross-entropy over the batch
// and the corresponding logit gradients, averaged over non-ignored
// positions.
func (m *Model) LossGrad(logits []tensor.Mat, labels [][]int) (float64, []tensor.Mat, error) {
	return m.lossGrad(logits, labels, true)
}

func (m *Model) lossGrad(logits []tensor.Mat, labels [][]int, wantGrad bool) (float64, []tensor.Mat, error) {
	if len(labels) != len(logits) {
		return 0, nil, fmt.Errorf("labels batch size %d does not match logits %d", len(labels), len(logits))
	}

	// First pass: count positions contributing to the mean.
	count := 0
	for i := range logits {
		if len(labels[i]) != logits[i].R {
			return 0, nil, fmt.Errorf("sequence %d: %d labels for %d positions", i, len(labels[i]), logits[i].R)
		}
		for t := 0; t+1 < len(labels[i]); t++ {
			if labels[i][t+1] != IgnoreIndex {
				count++
			}
		}
	}
	if count == 0 {
		return 0, nil, fmt.Errorf("no unmasked label positions")
	}

	var loss float64
	var grads []tensor.Mat
	if wantGrad {
		grads = make([]tensor.Mat, len(logits))
	}
	inv := 1.0 / float64(count)
	for i := range logits {
		lg := &logits[i]
		var dl tensor.Mat
		if wantGrad {
			dl = tensor.NewMat(lg.R, lg.C)
		}
		for t := 0; t+1 < len(labels[i]); t++ {
			target := labels[i][t+1]
			if target == IgnoreIndex {
				continue
			}
			if target < 0 || target >= lg.C {
				return 0, nil, fmt.Errorf("label out of range: %d", target)
			}
			row := lg.Row(t)
			lse := tensor.LogSumExp(row)
			loss += (lse - float64(row[target])) * inv
			if wantGrad {
				drow := dl.Row(t)
				for v := range drow {
					p := math.Exp(float64(row[v]) - lse)
					drow[v] = float32(p * inv)
				}
				drow[target] -= float32(inv)
			}
		}
		if wantGrad {
			grads[i] = dl
		}
	}
	return loss, grads, nil
}
