package bptt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInterrupted wraps the context error when training stops between
// windows.
var ErrInterrupted = errors.New("bptt: training interrupted")

// TrainingLoopState is the mutable state threaded through the epoch loop.
type TrainingLoopState struct {
	Epoch int
	// Batch counts windows within the current epoch.
	Batch int
	LR    float64
	// Hidden is carried between windows as a snapshot.
	Hidden hidden.State

	IntervalLoss  float64
	IntervalStart time.Time
	BestValLoss   float64
}

// NewTrainingLoopState starts at epoch 1 with no best validation loss.
func NewTrainingLoopState(lr float64) *TrainingLoopState {
	return &TrainingLoopState{Epoch: 1, LR: lr, BestValLoss: math.Inf(1)}
}

// Anneal records an epoch's validation loss. It reports whether the loss
// improved on the best so far; otherwise the learning rate is divided by
// factor.
func (st *TrainingLoopState) Anneal(valLoss, factor float64) bool {
	if valLoss < st.BestValLoss {
		st.BestValLoss = valLoss
		return true
	}
	if factor > 0 {
		st.LR /= factor
	}
	learningRate.Set(st.LR)
	return false
}

// WindowStats describes one trained window.
type WindowStats struct {
	// Loss is the normalized window loss.
	Loss     float64
	Tokens   int
	Segments int
	GradNorm float64
	Clipped  bool
}

// EpochStats describes one epoch of training.
type EpochStats struct {
	Windows int
	Tokens  int
	// Loss is the mean normalized window loss.
	Loss    float64
	Elapsed time.Duration
}

// Trainer runs segmented truncated BPTT over a model.
type Trainer struct {
	cfg   Config
	model Model
}

// NewTrainer validates cfg and binds it to m.
func NewTrainer(m Model, cfg Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg, model: m}, nil
}

// Config returns the trainer configuration.
func (t *Trainer) Config() Config { return t.cfg }

// denominator converts summed losses to per-token averages.
func (t *Trainer) denominator(steps, width int) float64 {
	if t.cfg.Normalize == NormalizeExact {
		return float64(steps * width)
	}
	return float64(t.cfg.BatchSize * t.cfg.BPTT)
}

// TrainWindow takes one optimizer step on w starting from st.Hidden and
// carries the resulting state forward.
func (t *Trainer) TrainWindow(ctx context.Context, st *TrainingLoopState, w Window) (WindowStats, error) {
	ctx, span := tracer.Start(ctx, "trainWindow",
		trace.WithAttributes(attribute.Int("start", w.Start), attribute.Int("epoch", st.Epoch)))
	defer span.End()

	t0 := time.Now()
	res, err := ComputeGradients(ctx, t.model, w, st.Hidden, t.cfg.Step())
	if err != nil {
		span.RecordError(err)
		return WindowStats{}, err
	}

	params := t.model.Parameters()
	denom := t.denominator(res.Steps, res.Tokens/res.Steps)
	ScaleGradients(params, 1/denom)
	norm, clipped := ClipGradNorm(params, t.cfg.Clip)
	SGD(params, st.LR)

	st.Hidden = res.Hidden
	stats := WindowStats{
		Loss:     res.Loss / denom,
		Tokens:   res.Tokens,
		Segments: res.Segments,
		GradNorm: norm,
		Clipped:  clipped,
	}

	windowsTrained.Inc()
	tokensTrained.Add(float64(res.Tokens))
	gradNorm.Observe(norm)
	if clipped {
		windowsClipped.Inc()
	}
	trainLoss.Set(stats.Loss)
	windowDuration.Observe(time.Since(t0).Seconds())
	return stats, nil
}

// TrainEpoch trains one pass over data, a matrix batchified to the
// configured batch size. Cancellation is honored only between windows; the
// returned error then wraps ErrInterrupted and the context error, and the
// parameters reflect every completed window.
func (t *Trainer) TrainEpoch(ctx context.Context, st *TrainingLoopState, data corpus.TokenMatrix) (EpochStats, error) {
	ctx, span := tracer.Start(ctx, "trainEpoch", trace.WithAttributes(attribute.Int("epoch", st.Epoch)))
	defer span.End()

	t.model.SetTraining(true)
	t.model.SetMaskSeed(t.cfg.Seed + int64(st.Epoch))
	learningRate.Set(st.LR)

	starts := data.WindowStarts(t.cfg.BPTT)
	st.Hidden = t.model.InitHidden(data.Width)
	st.Batch = 0
	st.IntervalLoss = 0
	st.IntervalStart = time.Now()

	var (
		stats EpochStats
		total float64
		begin = time.Now()
	)
	for _, i := range starts {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(begin)
			return stats, fmt.Errorf("%w at epoch %d batch %d: %w", ErrInterrupted, st.Epoch, st.Batch, err)
		}
		input, target := data.Window(i, t.cfg.BPTT)
		ws, err := t.TrainWindow(ctx, st, Window{Start: i, Input: input, Target: target})
		if err != nil {
			return stats, fmt.Errorf("epoch %d batch %d: %w", st.Epoch, st.Batch, err)
		}

		st.Batch++
		stats.Windows++
		stats.Tokens += ws.Tokens
		total += ws.Loss
		st.IntervalLoss += ws.Loss

		if st.Batch%t.cfg.LogInterval == 0 {
			cur := st.IntervalLoss / float64(t.cfg.LogInterval)
			elapsed := time.Since(st.IntervalStart)
			log.Info().
				Int("epoch", st.Epoch).
				Int("batch", st.Batch).
				Int("batches", len(starts)).
				Float64("lr", st.LR).
				Float64("ms_per_batch", float64(elapsed.Milliseconds())/float64(t.cfg.LogInterval)).
				Float64("loss", cur).
				Float64("ppl", math.Exp(cur)).
				Msg("Training progress")
			st.IntervalLoss = 0
			st.IntervalStart = time.Now()
		}
	}

	if stats.Windows > 0 {
		stats.Loss = total / float64(stats.Windows)
	}
	stats.Elapsed = time.Since(begin)
	return stats, nil
}
