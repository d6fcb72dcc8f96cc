package train

import (
	"math"

	"github.com/wwessex/smart-tool/internal/model"
)

// AdamW is Adam with decoupled weight decay. Moment buffers are laid out
// parallel to the parameter list passed at construction; Step must be
// called with the same list in the same order.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t int
	m [][]float32
	v [][]float32
}

func NewAdamW(params []*model.Param, cfg OptimizerConfig) *AdamW {
	o := &AdamW{
		Beta1:       cfg.Beta1,
		Beta2:       cfg.Beta2,
		Eps:         cfg.Eps,
		WeightDecay: cfg.WeightDecay,
		m:           make([][]float32, len(params)),
		v:           make([][]float32, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float32, len(p.W.Data))
		o.v[i] = make([]float32, len(p.W.Data))
	}
	return o
}

// Step applies one update from the accumulated gradients. Bias correction
// uses the internal step count, not the schedule step, so resumed runs
// warm their moments back up instead of dividing by a stale correction.
func (o *AdamW) Step(params []*model.Param, lr float64) {
	o.t++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.t))

	for i, p := range params {
		m, v := o.m[i], o.v[i]
		for j, g := range p.G.Data {
			gf := float64(g)
			mj := o.Beta1*float64(m[j]) + (1-o.Beta1)*gf
			vj := o.Beta2*float64(v[j]) + (1-o.Beta2)*gf*gf
			m[j] = float32(mj)
			v[j] = float32(vj)

			update := (mj / bc1) / (math.Sqrt(vj/bc2) + o.Eps)
			w := float64(p.W.Data[j])
			w -= lr * (update + o.WeightDecay*w)
			p.W.Data[j] = float32(w)
		}
	}
}
