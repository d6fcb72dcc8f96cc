package model

import "github.com/wwessex/smart-tool/internal/tensor"

// Param is one trainable weight matrix together with its gradient buffer.
// Name is the external checkpoint name and is part of the export contract;
// it never changes when internal structure is refactored.
type Param struct {
	Name string
	W    tensor.Mat
	G    tensor.Mat
}

func newParam(name string, r, c int) *Param {
	return &Param{
		Name: name,
		W:    tensor.NewMat(r, c),
		G:    tensor.NewMat(r, c),
	}
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() { p.G.Zero() }
