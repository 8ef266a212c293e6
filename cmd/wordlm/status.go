package main

import (
	"math"
	"sync"
	"time"

	"github.com/23skdu/longbow-wordlm/internal/bptt"
)

// TrainingStatus is the body served on /status.
type TrainingStatus struct {
	Phase       string    `cbor:"phase"`
	Epoch       int       `cbor:"epoch"`
	LR          float64   `cbor:"lr"`
	BestValLoss float64   `cbor:"best_val_loss"`
	LastValLoss float64   `cbor:"last_val_loss"`
	StartedAt   time.Time `cbor:"started_at"`
	UpdatedAt   time.Time `cbor:"updated_at"`
}

// statusTracker is written by the training loop and read by HTTP handlers.
type statusTracker struct {
	mu sync.Mutex
	s  TrainingStatus
}

func newStatusTracker() *statusTracker {
	now := time.Now()
	return &statusTracker{s: TrainingStatus{
		Phase:       "init",
		BestValLoss: math.Inf(1),
		LastValLoss: math.NaN(),
		StartedAt:   now,
		UpdatedAt:   now,
	}}
}

func (t *statusTracker) update(st *bptt.TrainingLoopState, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Phase = phase
	t.s.Epoch = st.Epoch
	t.s.LR = st.LR
	t.s.BestValLoss = st.BestValLoss
	t.s.UpdatedAt = time.Now()
}

func (t *statusTracker) setValLoss(loss float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.LastValLoss = loss
	if loss < t.s.BestValLoss {
		t.s.BestValLoss = loss
	}
	t.s.UpdatedAt = time.Now()
}

func (t *statusTracker) setPhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Phase = phase
	t.s.UpdatedAt = time.Now()
}

func (t *statusTracker) snapshot() TrainingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
