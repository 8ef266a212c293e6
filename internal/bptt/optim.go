package bptt

import (
	"math"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"gonum.org/v1/gonum/floats"
)

// ScaleGradients multiplies every accumulated gradient by s.
func ScaleGradients(params []*autograd.Tensor, s float64) {
	for _, p := range params {
		p.ScaleGrad(s)
	}
}

// GradNorm returns the L2 norm of all gradients taken jointly.
func GradNorm(params []*autograd.Tensor) float64 {
	var sum float64
	for _, p := range params {
		if g := p.GradData(); g != nil {
			sum += floats.Dot(g, g)
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales gradients so their joint norm is at most maxNorm and
// returns the norm before clipping. A non-positive maxNorm disables it.
func ClipGradNorm(params []*autograd.Tensor, maxNorm float64) (norm float64, clipped bool) {
	norm = GradNorm(params)
	if maxNorm <= 0 {
		return norm, false
	}
	coef := maxNorm / (norm + 1e-6)
	if coef >= 1 {
		return norm, false
	}
	ScaleGradients(params, coef)
	return norm, true
}

// SGD applies p -= lr * grad to every parameter that has a gradient.
func SGD(params []*autograd.Tensor, lr float64) {
	for _, p := range params {
		if g := p.GradData(); g != nil {
			floats.AddScaled(p.Data(), -lr, g)
		}
	}
}
