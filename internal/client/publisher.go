package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// ErrCircuitOpen is returned when a publish is skipped by the breaker.
var ErrCircuitOpen = errors.New("client: circuit open, publish skipped")

// Putter sends a record batch to a named dataset. FlightClient implements it.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
}

// Publisher exports training artifacts to Longbow. Every call is bounded by
// a timeout and guarded by a circuit breaker, so an unreachable server
// costs at most one timeout per cool-down period.
type Publisher struct {
	putter  Putter
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
	prefix  string
	timeout time.Duration

	// inflight admits one background publish at a time.
	inflight *semaphore.Weighted
}

// NewPublisher writes to datasets named prefix+"_epochs" and
// prefix+"_embeddings".
func NewPublisher(p Putter, prefix string, timeout time.Duration) *Publisher {
	return &Publisher{
		putter:  p,
		breaker: NewCircuitBreaker(3, 30*time.Second),
		builder: NewRecordBatchBuilder(memory.NewGoAllocator()),
		prefix:  prefix,
		timeout: timeout,

		inflight: semaphore.NewWeighted(1),
	}
}

// Breaker exposes the publisher's circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// PublishEpoch sends one epoch summary row.
func (p *Publisher) PublishEpoch(ctx context.Context, s EpochSummary) error {
	rec := p.builder.BuildEpochRecord(s)
	defer rec.Release()
	return p.put(ctx, p.prefix+"_epochs", rec)
}

// PublishEpochAsync sends s in the background so training never waits on
// the server. If the previous background publish is still running the
// summary is dropped and false is returned.
func (p *Publisher) PublishEpochAsync(ctx context.Context, s EpochSummary) bool {
	if !p.inflight.TryAcquire(1) {
		publishSkipped.Inc()
		log.Debug().Int("epoch", s.Epoch).Msg("Publish in flight, dropping epoch summary")
		return false
	}
	go func() {
		defer p.inflight.Release(1)
		_ = p.PublishEpoch(ctx, s)
	}()
	return true
}

// Wait blocks until the background publish, if any, has finished.
func (p *Publisher) Wait(ctx context.Context) error {
	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inflight.Release(1)
	return nil
}

// PublishEmbeddings sends the word vectors, one row per word.
func (p *Publisher) PublishEmbeddings(ctx context.Context, words []string, vectors [][]float64) error {
	rec, err := p.builder.BuildEmbeddingRecord(words, vectors)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()
	return p.put(ctx, p.prefix+"_embeddings", rec)
}

func (p *Publisher) put(ctx context.Context, dataset string, rec arrow.RecordBatch) error {
	if !p.breaker.Allow() {
		publishSkipped.Inc()
		return ErrCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.putter.DoPut(ctx, dataset, rec); err != nil {
		p.breaker.Failure()
		publishFailures.Inc()
		log.Warn().Err(err).Str("dataset", dataset).Str("breaker", p.breaker.State().String()).Msg("Publish failed")
		return fmt.Errorf("publish %s: %w", dataset, err)
	}
	p.breaker.Success()
	publishDuration.Observe(time.Since(start).Seconds())
	publishedRows.Add(float64(rec.NumRows()))
	log.Debug().Str("dataset", dataset).Int64("rows", rec.NumRows()).Msg("Published record batch")
	return nil
}
