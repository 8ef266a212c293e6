package autograd

import (
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/simd"
)

// CrossEntropySum returns the summed negative log-likelihood of targets
// under softmax(logits) as a 1x1 tensor. Row i of logits scores target i.
//
// Backward: dLogits[i] = g * (softmax(logits[i]) - onehot(targets[i])).
func (tp *Tape) CrossEntropySum(logits *Tensor, targets []int) *Tensor {
	r, c := logits.Dims()
	if len(targets) != r {
		panic(fmt.Sprintf("CrossEntropySum: %d targets for %d rows", len(targets), r))
	}
	out := tp.output(1, 1, logits)
	ld := logits.Data()

	var total float64
	for i, tgt := range targets {
		if tgt < 0 || tgt >= c {
			panic(fmt.Sprintf("CrossEntropySum: target %d out of range [0, %d)", tgt, c))
		}
		row := ld[i*c : (i+1)*c]
		total += simd.LogSumExp(row) - row[tgt]
	}
	out.value.Set(0, 0, total)

	tp.push(out, func() {
		g := out.upstream()
		if g == nil {
			return
		}
		scale := g[0]
		gl := logits.gradBuf()
		probs := make([]float64, c)
		for i, tgt := range targets {
			simd.SoftmaxInto(probs, ld[i*c:(i+1)*c])
			probs[tgt]--
			simd.VecAddScaled(gl[i*c:(i+1)*c], probs, scale)
		}
	})
	return out
}
