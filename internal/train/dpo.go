package train

import (
	"math"

	"github.com/wwessex/smart-tool/internal/dataset"
	"github.com/wwessex/smart-tool/internal/tensor"
)

// DPO scores preference pairs against a frozen reference model. Beta
// scales the implicit reward; LabelSmoothing blends in the flipped
// preference to soften noisy labels.
type DPO struct {
	Beta           float64
	LabelSmoothing float64
}

// Loss computes the preference loss and margin from the four sequence
// log-probabilities. The margin is
//
//	beta * ((policyChosen - refChosen) - (policyRejected - refRejected))
//
// and the loss is -log(sigmoid(margin)), smoothed when LabelSmoothing is
// set.
func (d DPO) Loss(policyChosen, policyRejected, refChosen, refRejected float64) (loss, margin float64) {
	loss, margin, _ = d.lossGrad(policyChosen, policyRejected, refChosen, refRejected)
	return loss, margin
}

// lossGrad additionally returns dloss/dmargin, which callers scale by
// beta to get the gradient with respect to the policy log-probs.
func (d DPO) lossGrad(policyChosen, policyRejected, refChosen, refRejected float64) (loss, margin, dMargin float64) {
	margin = d.Beta * ((policyChosen - refChosen) - (policyRejected - refRejected))
	eps := d.LabelSmoothing
	loss = -(1-eps)*logSigmoid(margin) - eps*logSigmoid(-margin)
	dMargin = -(1-eps)*sigmoid(-margin) + eps*sigmoid(margin)
	return loss, margin, dMargin
}

// ResponseLogProb sums the log-probability the model assigns to the
// response tokens of ids: positions from promptLen onward, each predicted
// by the logits one step earlier. Padding tokens contribute nothing, so
// two differently padded responses score identically.
func ResponseLogProb(logits *tensor.Mat, ids []int, promptLen int) float64 {
	var lp float64
	for t := max(promptLen-1, 0); t+1 < len(ids); t++ {
		target := ids[t+1]
		if target == dataset.PadToken {
			continue
		}
		row := logits.Row(t)
		lp += float64(row[target]) - tensor.LogSumExp(row)
	}
	return lp
}

// responseLogProbGrad returns scale times the softmax-minus-onehot rows,
// zero at padded and prompt positions. This is the gradient of
// -scale * ResponseLogProb with respect to the logits, so a loss term
// c * ResponseLogProb back-propagates with scale = -c.
func responseLogProbGrad(logits *tensor.Mat, ids []int, promptLen int, scale float64) tensor.Mat {
	d := tensor.NewMat(logits.R, logits.C)
	for t := max(promptLen-1, 0); t+1 < len(ids); t++ {
		target := ids[t+1]
		if target == dataset.PadToken {
			continue
		}
		row := logits.Row(t)
		lse := tensor.LogSumExp(row)
		drow := d.Row(t)
		for v := range drow {
			p := math.Exp(float64(row[v]) - lse)
			drow[v] += float32(scale * p)
		}
		drow[target] -= float32(scale)
	}
	return d
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logSigmoid computes log(sigmoid(x)) without overflowing for large |x|.
func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}
