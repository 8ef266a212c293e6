package autograd

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-wordlm/internal/simd"
	"gonum.org/v1/gonum/mat"
)

func sameShape(op string, a, b *Tensor) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("%s: dimension mismatch %dx%d vs %dx%d", op, ar, ac, br, bc))
	}
}

// MatMul returns a·b.
//
// Backward:
//
//	dA += dC · Bᵀ
//	dB += Aᵀ · dC
func (tp *Tape) MatMul(a, b *Tensor) *Tensor {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		panic(fmt.Sprintf("MatMul: A cols (%d) != B rows (%d)", ac, br))
	}
	out := tp.output(ar, bc, a, b)
	out.value.Mul(a.value, b.value)

	tp.push(out, func() {
		if !out.hasGrad {
			return
		}
		if a.requiresGrad {
			da := mat.NewDense(ar, ac, nil)
			da.Mul(out.grad, b.value.T())
			a.accumulate(da)
		}
		if b.requiresGrad {
			db := mat.NewDense(br, bc, nil)
			db.Mul(a.value.T(), out.grad)
			b.accumulate(db)
		}
	})
	return out
}

// MatMulT returns a·bᵀ without materializing the transpose. It lets a
// decoder share the (vocab x dim) embedding table.
//
// Backward:
//
//	dA += dC · B
//	dB += dCᵀ · A
func (tp *Tape) MatMulT(a, b *Tensor) *Tensor {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != bc {
		panic(fmt.Sprintf("MatMulT: A cols (%d) != B cols (%d)", ac, bc))
	}
	out := tp.output(ar, br, a, b)
	out.value.Mul(a.value, b.value.T())

	tp.push(out, func() {
		if !out.hasGrad {
			return
		}
		if a.requiresGrad {
			da := mat.NewDense(ar, ac, nil)
			da.Mul(out.grad, b.value)
			a.accumulate(da)
		}
		if b.requiresGrad {
			db := mat.NewDense(br, bc, nil)
			db.Mul(out.grad.T(), a.value)
			b.accumulate(db)
		}
	})
	return out
}

// Linear returns x·w + bias, broadcasting the 1xN bias over rows.
// The bias may be nil.
func (tp *Tape) Linear(x, w, bias *Tensor) *Tensor {
	y := tp.MatMul(x, w)
	if bias == nil {
		return y
	}
	return tp.AddRow(y, bias)
}

// AddRow adds the 1xN row vector b to every row of x.
func (tp *Tape) AddRow(x, b *Tensor) *Tensor {
	r, c := x.Dims()
	br, bc := b.Dims()
	if br != 1 || bc != c {
		panic(fmt.Sprintf("AddRow: bias must be 1x%d, got %dx%d", c, br, bc))
	}
	out := tp.output(r, c, x, b)
	od, xd, bd := out.Data(), x.Data(), b.Data()
	for i := 0; i < r; i++ {
		row := od[i*c : (i+1)*c]
		copy(row, xd[i*c:(i+1)*c])
		simd.VecAdd(row, bd)
	}

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		if x.requiresGrad {
			simd.VecAdd(x.gradBuf(), g)
		}
		if b.requiresGrad {
			gb := b.gradBuf()
			for i := 0; i < r; i++ {
				simd.VecAdd(gb, g[i*c:(i+1)*c])
			}
		}
	})
	return out
}

// Add returns a + b.
func (tp *Tape) Add(a, b *Tensor) *Tensor {
	sameShape("Add", a, b)
	r, c := a.Dims()
	out := tp.output(r, c, a, b)
	od := out.Data()
	copy(od, a.Data())
	simd.VecAdd(od, b.Data())

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		if a.requiresGrad {
			simd.VecAdd(a.gradBuf(), g)
		}
		if b.requiresGrad {
			simd.VecAdd(b.gradBuf(), g)
		}
	})
	return out
}

// Mul returns the element-wise product a ⊙ b.
func (tp *Tape) Mul(a, b *Tensor) *Tensor {
	sameShape("Mul", a, b)
	r, c := a.Dims()
	out := tp.output(r, c, a, b)
	simd.VecMulAdd(out.Data(), a.Data(), b.Data())

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		if a.requiresGrad {
			simd.VecMulAdd(a.gradBuf(), g, b.Data())
		}
		if b.requiresGrad {
			simd.VecMulAdd(b.gradBuf(), g, a.Data())
		}
	})
	return out
}

// unary applies fn element-wise. deriv receives the input and output
// element and returns d(out)/d(in).
func (tp *Tape) unary(x *Tensor, fn func(float64) float64, deriv func(in, out float64) float64) *Tensor {
	r, c := x.Dims()
	out := tp.output(r, c, x)
	od, xd := out.Data(), x.Data()
	for i, v := range xd {
		od[i] = fn(v)
	}

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		gx := x.gradBuf()
		for i := range gx {
			gx[i] += deriv(xd[i], od[i]) * g[i]
		}
	})
	return out
}

// Sigmoid applies the logistic function element-wise.
func (tp *Tape) Sigmoid(x *Tensor) *Tensor {
	return tp.unary(x, simd.Sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

// Tanh applies tanh element-wise.
func (tp *Tape) Tanh(x *Tensor) *Tensor {
	return tp.unary(x, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

// ReLU applies max(0, x) element-wise.
func (tp *Tape) ReLU(x *Tensor) *Tensor {
	return tp.unary(x, func(v float64) float64 { return math.Max(0, v) }, func(v, _ float64) float64 {
		if v > 0 {
			return 1
		}
		return 0
	})
}

// OneMinus returns 1 - x.
func (tp *Tape) OneMinus(x *Tensor) *Tensor {
	return tp.unary(x, func(v float64) float64 { return 1 - v }, func(_, _ float64) float64 { return -1 })
}

// Scale returns s * x.
func (tp *Tape) Scale(x *Tensor, s float64) *Tensor {
	return tp.unary(x, func(v float64) float64 { return s * v }, func(_, _ float64) float64 { return s })
}

// Embedding gathers the rows of table named by ids.
func (tp *Tape) Embedding(table *Tensor, ids []int) *Tensor {
	vocab, dim := table.Dims()
	out := tp.output(len(ids), dim, table)
	od, td := out.Data(), table.Data()
	for i, id := range ids {
		if id < 0 || id >= vocab {
			panic(fmt.Sprintf("Embedding: id %d out of range [0, %d)", id, vocab))
		}
		copy(od[i*dim:(i+1)*dim], td[id*dim:(id+1)*dim])
	}

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		gt := table.gradBuf()
		for i, id := range ids {
			simd.VecAdd(gt[id*dim:(id+1)*dim], g[i*dim:(i+1)*dim])
		}
	})
	return out
}

// Dropout multiplies x by a constant mask. The mask already carries the
// 1/(1-p) rescaling; a nil mask returns x unchanged.
func (tp *Tape) Dropout(x *Tensor, mask []float64) *Tensor {
	if mask == nil {
		return x
	}
	r, c := x.Dims()
	if len(mask) != r*c {
		panic(fmt.Sprintf("Dropout: mask length %d, want %d", len(mask), r*c))
	}
	out := tp.output(r, c, x)
	simd.VecMulAdd(out.Data(), x.Data(), mask)

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		simd.VecMulAdd(x.gradBuf(), g, mask)
	})
	return out
}

// Cols returns columns [from, to) of x as a new tensor.
func (tp *Tape) Cols(x *Tensor, from, to int) *Tensor {
	r, c := x.Dims()
	if from < 0 || to > c || from >= to {
		panic(fmt.Sprintf("Cols: invalid range [%d, %d) for %d columns", from, to, c))
	}
	w := to - from
	out := tp.output(r, w, x)
	od, xd := out.Data(), x.Data()
	for i := 0; i < r; i++ {
		copy(od[i*w:(i+1)*w], xd[i*c+from:i*c+to])
	}

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		gx := x.gradBuf()
		for i := 0; i < r; i++ {
			simd.VecAdd(gx[i*c+from:i*c+to], g[i*w:(i+1)*w])
		}
	})
	return out
}

// ConcatRows stacks tensors with equal column counts vertically.
func (tp *Tape) ConcatRows(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("ConcatRows: no tensors")
	}
	_, c := ts[0].Dims()
	rows := 0
	for _, t := range ts {
		r, tc := t.Dims()
		if tc != c {
			panic(fmt.Sprintf("ConcatRows: column mismatch %d vs %d", tc, c))
		}
		rows += r
	}
	out := tp.output(rows, c, ts...)
	od := out.Data()
	off := 0
	for _, t := range ts {
		n := len(t.Data())
		copy(od[off:off+n], t.Data())
		off += n
	}

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		off := 0
		for _, t := range ts {
			n := len(t.Data())
			if t.requiresGrad {
				simd.VecAdd(t.gradBuf(), g[off:off+n])
			}
			off += n
		}
	})
	return out
}
