package train

import (
	"math"

	"github.com/wwessex/smart-tool/internal/model"
)

// ClipGradNorm rescales all gradients in place so their global L2 norm is
// at most maxNorm, and returns the pre-clip norm. maxNorm <= 0 disables
// clipping but still reports the norm.
func ClipGradNorm(params []*model.Param, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.G.Data {
			sum += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sum)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := float32(maxNorm / norm)
	for _, p := range params {
		for j := range p.G.Data {
			p.G.Data[j] *= scale
		}
	}
	return norm
}
