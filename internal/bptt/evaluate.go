package bptt

import (
	"context"
	"math"
	"time"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"go.opentelemetry.io/otel/attribute"
)

// EvalResult is the loss of a model over held-out data.
type EvalResult struct {
	Loss       float64
	Perplexity float64
	Tokens     int
	Windows    int
}

// Evaluator scores a model without touching its parameters.
type Evaluator struct {
	model     Model
	bptt      int
	normalize Normalization
}

// NewEvaluator creates an evaluator walking windows of length bptt.
func NewEvaluator(m Model, bptt int, normalize Normalization) *Evaluator {
	return &Evaluator{model: m, bptt: bptt, normalize: normalize}
}

// Evaluate runs the model in inference mode over data. With NormalizeExact
// the loss is the mean over target tokens. With NormalizeFixed each
// window's summed loss is weighted by its length and divided by
// width*bptt, and the total by the number of steps in data, which equals
// the token mean when every window is full.
func (e *Evaluator) Evaluate(ctx context.Context, data corpus.TokenMatrix) (EvalResult, error) {
	ctx, span := tracer.Start(ctx, "evaluate")
	defer span.End()
	t0 := time.Now()
	defer func() { evalDuration.Observe(time.Since(t0).Seconds()) }()

	prev := e.model.Training()
	e.model.SetTraining(false)
	defer e.model.SetTraining(prev)

	var (
		res   EvalResult
		sum   float64
		h     = e.model.InitHidden(data.Width)
		tp    = autograd.NewTape(false)
		fixed = float64(data.Width * e.bptt)
	)
	for _, i := range data.WindowStarts(e.bptt) {
		if err := ctx.Err(); err != nil {
			return EvalResult{}, err
		}
		input, target := corpus.Truncate(data.Window(i, e.bptt))
		if len(input) == 0 {
			continue
		}
		logits, out := e.model.Step(tp, input, i, h)
		loss := tp.CrossEntropySum(logits, corpus.Flatten(target)).Item()
		h = hidden.Repackage(out, false)

		if e.normalize == NormalizeExact {
			sum += loss
		} else {
			sum += float64(len(input)) * loss / fixed
		}
		res.Tokens += len(input) * data.Width
		res.Windows++
	}

	switch {
	case res.Tokens == 0:
	case e.normalize == NormalizeExact:
		res.Loss = sum / float64(res.Tokens)
	default:
		res.Loss = sum / float64(data.Steps)
	}
	res.Perplexity = math.Exp(res.Loss)
	span.SetAttributes(attribute.Int("windows", res.Windows), attribute.Float64("loss", res.Loss))
	return res, nil
}
