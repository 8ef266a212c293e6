package autograd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestBackward_MultiSourceSeeds(t *testing.T) {
	// Seeding h with u alongside the loss must equal backpropagating
	// loss + sum(h ⊙ u) from a single scalar.
	build := func(tp *Tape, x, w *Tensor) (*Tensor, *Tensor) {
		h := tp.Tanh(tp.MatMul(x, w))
		loss := tp.CrossEntropySum(h, []int{1, 0})
		return loss, h
	}
	relay := []float64{0.3, -0.7, 1.1, 0.2}

	x1 := NewParam("x", 2, 2, []float64{0.1, -0.2, 0.4, 0.3})
	w1 := NewParam("w", 2, 2, []float64{0.5, -0.6, 0.7, 0.8})
	tp := NewTape(true)
	loss, h := build(tp, x1, w1)
	require.NoError(t, tp.Backward(
		Seed{Tensor: loss},
		Seed{Tensor: h, Grad: mat.NewDense(2, 2, relay)},
	))

	x2 := NewParam("x", 2, 2, []float64{0.1, -0.2, 0.4, 0.3})
	w2 := NewParam("w", 2, 2, []float64{0.5, -0.6, 0.7, 0.8})
	tp2 := NewTape(true)
	loss2, h2 := build(tp2, x2, w2)
	u := New(2, 2, relay)
	surrogate := tp2.MatMul(tp2.MatMul(New(1, 2, []float64{1, 1}), tp2.Mul(h2, u)), New(2, 1, []float64{1, 1}))
	require.NoError(t, tp2.Backward(Seed{Tensor: loss2}, Seed{Tensor: surrogate}))

	assert.InDeltaSlice(t, w2.GradData(), w1.GradData(), 1e-12)
	assert.InDeltaSlice(t, x2.GradData(), x1.GradData(), 1e-12)
}

func TestBackward_Errors(t *testing.T) {
	t.Run("seed without grad", func(t *testing.T) {
		tp := NewTape(true)
		c := New(1, 1, []float64{1})
		assert.ErrorIs(t, tp.Backward(Seed{Tensor: c}), ErrNoGrad)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		tp := NewTape(true)
		p := NewParam("p", 2, 2, nil)
		h := tp.Tanh(p)
		err := tp.Backward(Seed{Tensor: h, Grad: mat.NewDense(1, 2, nil)})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("consumed", func(t *testing.T) {
		tp := NewTape(true)
		p := NewParam("p", 1, 1, []float64{2})
		y := tp.Tanh(p)
		require.NoError(t, tp.Backward(Seed{Tensor: y}))
		assert.ErrorIs(t, tp.Backward(Seed{Tensor: y}), ErrTapeConsumed)
	})
}

func TestTape_NonRecording(t *testing.T) {
	tp := NewTape(false)
	p := NewParam("p", 2, 2, []float64{1, 2, 3, 4})
	y := tp.Tanh(tp.MatMul(p, p))

	assert.False(t, y.RequiresGrad())
	assert.Equal(t, 0, tp.Len())
}

func TestDetach(t *testing.T) {
	tp := NewTape(true)
	p := NewParam("p", 1, 2, []float64{0.5, -0.5})
	h := tp.Tanh(p)
	require.False(t, h.IsLeaf())

	t.Run("leaf", func(t *testing.T) {
		leaf := h.Detach(true)
		assert.True(t, leaf.IsLeaf())
		assert.True(t, leaf.RequiresGrad())
		assert.Equal(t, h.Data(), leaf.Data())
		assert.Nil(t, leaf.Grad())

		// Values are copied, not shared.
		leaf.Data()[0] = 42
		assert.NotEqual(t, 42.0, h.Data()[0])
	})

	t.Run("snapshot", func(t *testing.T) {
		snap := h.Detach(false)
		assert.True(t, snap.IsLeaf())
		assert.False(t, snap.RequiresGrad())
		assert.Equal(t, h.Data(), snap.Data())
	})
}

func TestGradAccumulatesAcrossTapes(t *testing.T) {
	p := NewParam("p", 1, 1, []float64{0.25})
	for i := 0; i < 3; i++ {
		tp := NewTape(true)
		require.NoError(t, tp.Backward(Seed{Tensor: tp.Scale(p, 2)}))
	}
	assert.InDelta(t, 6.0, p.GradData()[0], 1e-12)

	p.ZeroGrad()
	assert.Nil(t, p.Grad())
	p.ScaleGrad(10) // no-op without a gradient
	assert.Nil(t, p.GradData())
}
