package model

import (
	"math"

	"github.com/wwessex/smart-tool/internal/tensor"
)

// ropeTable holds the precomputed rotary embedding angles for every
// position up to the configured maximum. The rotation for position p and
// frequency index i is angle = p * theta^(-2i/headDim), stored as a
// cosine/sine pair rather than a complex value. The table is sized once at
// construction and only sliced afterwards; it is never mutated.
type ropeTable struct {
	cos tensor.Mat // [maxLen, headDim/2]
	sin tensor.Mat // [maxLen, headDim/2]
}

func newRopeTable(maxLen, headDim int, theta float64) *ropeTable {
	half := headDim / 2
	rt := &ropeTable{
		cos: tensor.NewMat(maxLen, half),
		sin: tensor.NewMat(maxLen, half),
	}
	for p := 0; p < maxLen; p++ {
		crow := rt.cos.Row(p)
		srow := rt.sin.Row(p)
		for i := 0; i < half; i++ {
			freq := math.Pow(theta, -2*float64(i)/float64(headDim))
			angle := float64(p) * freq
			crow[i] = float32(math.Cos(angle))
			srow[i] = float32(math.Sin(angle))
		}
	}
	return rt
}

// apply rotates every head's adjacent (even, odd) pairs of x in place by
// the angle for the given position. Rotation preserves the vector norm.
func (rt *ropeTable) apply(x []float32, nHeads, headDim, pos int) {
	rt.rotate(x, nHeads, headDim, pos, 1)
}

// applyInverse rotates by the negated angle. Used to propagate gradients
// back through the rotation, since the inverse of a rotation is its
// transpose.
func (rt *ropeTable) applyInverse(x []float32, nHeads, headDim, pos int) {
	rt.rotate(x, nHeads, headDim, pos, -1)
}

func (rt *ropeTable) rotate(x []float32, nHeads, headDim, pos, dir int) {
	crow := rt.cos.Row(pos)
	srow := rt.sin.Row(pos)
	for h := 0; h < nHeads; h++ {
		base := h * headDim
		for i := 0; i < headDim/2; i++ {
			c := crow[i]
			s := srow[i] * float32(dir)
			i0 := base + 2*i
			i1 := i0 + 1
			x0 := x[i0]
			x1 := x[i1]
			x[i0] = x0*c - x1*s
			x[i1] = x0*s + x1*c
		}
	}
}
