package bptt

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyWindow is returned for a window with no aligned input/target rows.
var ErrEmptyWindow = errors.New("bptt: empty window")

// WindowResult summarizes the gradient computation over one outer window.
type WindowResult struct {
	// Loss is the summed token loss over the window.
	Loss     float64
	Steps    int
	Tokens   int
	Segments int
	// Hidden is a snapshot of the state after the window, ready to be
	// carried into the next one.
	Hidden hidden.State
}

// ComputeGradients zeroes the parameter gradients and fills them with the
// gradient of the window's summed loss, starting from state h. The graph is
// materialized for at most step time steps at once. Gradients are left
// unscaled.
func ComputeGradients(ctx context.Context, m Model, w Window, h hidden.State, step int) (WindowResult, error) {
	w.Input, w.Target = corpus.Truncate(w.Input, w.Target)
	if len(w.Input) == 0 {
		return WindowResult{}, ErrEmptyWindow
	}
	segs := Segments(len(w.Input), step)

	m.ZeroGrad()
	ckpt := CheckpointPass(ctx, m, w, segs, h)

	_, span := tracer.Start(ctx, "segmentBackward")
	defer span.End()
	span.SetAttributes(attribute.Int("segments", len(segs)), attribute.Int("steps", len(w.Input)))

	var (
		res   = WindowResult{Steps: len(w.Input), Tokens: len(w.Input) * w.width(), Segments: len(segs)}
		relay RelayedGradient
	)
	for k := len(segs) - 1; k >= 0; k-- {
		sr, err := SegmentBackward(m, w, segs[k], ckpt, relay)
		if err != nil {
			span.RecordError(err)
			return WindowResult{}, fmt.Errorf("window at %d: %w", w.Start, err)
		}
		if k == len(segs)-1 {
			res.Hidden = hidden.Repackage(sr.Hidden, false)
		}
		relay = sr.Relay
		res.Loss += sr.Loss
		segmentsProcessed.Inc()
	}

	log.Debug().Int("start", w.Start).Int("segments", len(segs)).Float64("loss", res.Loss).Msg("Window gradients computed")
	return res, nil
}

// FullWindowGradients computes the same gradients with one graph spanning
// the whole window.
func FullWindowGradients(ctx context.Context, m Model, w Window, h hidden.State) (WindowResult, error) {
	return ComputeGradients(ctx, m, w, h, max(len(w.Input), 1))
}
