package bptt

import (
	"context"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// CheckpointMap holds gradient-seed leaves keyed by segment index. Entry k is
// the state at the end of segment k; entry -1 is the state carried into the
// window.
type CheckpointMap map[int]hidden.State

// CheckpointPass runs every segment but the last forward without building a
// graph and records a leaf copy of the state at the end of each. h is the
// incoming state and is not modified.
func CheckpointPass(ctx context.Context, m Model, w Window, segs []Segment, h hidden.State) CheckpointMap {
	_, span := tracer.Start(ctx, "checkpointPass")
	defer span.End()
	span.SetAttributes(attribute.Int("segments", len(segs)))

	ckpt := CheckpointMap{-1: hidden.Repackage(h, true)}
	running := hidden.Repackage(h, false)
	tp := autograd.NewTape(false)

	for _, s := range segs[:max(len(segs)-1, 0)] {
		input, _ := w.slice(s)
		_, out := m.Step(tp, input, w.Start+s.Start, running)
		ckpt[s.Index] = hidden.Repackage(out, true)
		running = hidden.Repackage(out, false)
	}

	log.Debug().Int("start", w.Start).Int("checkpoints", len(ckpt)-1).Msg("Checkpoint pass done")
	return ckpt
}
