package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/23skdu/longbow-wordlm/internal/bptt"
	"github.com/23skdu/longbow-wordlm/internal/client"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/model"
	"github.com/23skdu/longbow-wordlm/internal/weights"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	dataDir       = flag.String("data", "./data/wikitext-2", "Location of the data corpus")
	cacheDir      = flag.String("cache", "", "Directory for the Arrow token cache (empty disables)")
	modelType     = flag.String("model", "LSTM", "Type of recurrent net (RNN_TANH, RNN_RELU, LSTM, GRU)")
	emsize        = flag.Int("emsize", 200, "Size of word embeddings")
	nhid          = flag.Int("nhid", 200, "Number of hidden units per layer")
	nlayers       = flag.Int("nlayers", 2, "Number of layers")
	lr            = flag.Float64("lr", 20, "Initial learning rate")
	clip          = flag.Float64("clip", 0.25, "Gradient clipping")
	epochs        = flag.Int("epochs", 40, "Upper epoch limit")
	batchSize     = flag.Int("batch-size", 20, "Batch size")
	evalBatchSize = flag.Int("eval-batch-size", 10, "Batch size for validation and test")
	bpttLen       = flag.Int("bptt", 35, "Sequence length of one optimizer step")
	bpttStep      = flag.Int("bptt-step", 0, "Sub-window length materialized at once (0 = bptt)")
	dropout       = flag.Float64("dropout", 0.2, "Dropout applied to layers (0 = no dropout)")
	tied          = flag.Bool("tied", false, "Tie the word embedding and softmax weights")
	seed          = flag.Int64("seed", 1111, "Random seed")
	logInterval   = flag.Int("log-interval", 200, "Report interval in batches")
	savePath      = flag.String("save", "model.cbor", "Path to save the final model")
	normalize     = flag.String("normalize", "fixed", "Loss normalization: 'fixed' (batch*bptt) or 'exact' (tokens in window)")
	annealFactor  = flag.Float64("anneal", 4, "Divide the learning rate by this when validation loss does not improve")
	listenAddr    = flag.String("listen", "", "Address to listen on for metrics and status (e.g. :8080)")
	serverAddr    = flag.String("server", "", "Longbow server address for exporting results (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "wordlm", "Dataset name prefix on the Longbow server")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("Training failed")
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cell, err := model.ParseCellType(*modelType)
	if err != nil {
		return err
	}
	norm, err := bptt.ParseNormalization(*normalize)
	if err != nil {
		return err
	}

	c, err := loadCorpus(*dataDir, *cacheDir)
	if err != nil {
		return err
	}
	train := corpus.Batchify(c.Train, *batchSize)
	valid := corpus.Batchify(c.Valid, *evalBatchSize)
	test := corpus.Batchify(c.Test, *evalBatchSize)

	mcfg := model.Config{
		Type:       cell,
		VocabSize:  c.Dict.Len(),
		EmbedSize:  *emsize,
		HiddenSize: *nhid,
		Layers:     *nlayers,
		Dropout:    *dropout,
		Tied:       *tied,
	}
	m, err := model.New(mcfg, *seed)
	if err != nil {
		return err
	}

	tcfg := bptt.Config{
		BPTT:        *bpttLen,
		BPTTStep:    *bpttStep,
		Clip:        *clip,
		LR:          *lr,
		BatchSize:   *batchSize,
		LogInterval: *logInterval,
		Normalize:   norm,
		Seed:        *seed,
	}
	tr, err := bptt.NewTrainer(m, tcfg)
	if err != nil {
		return err
	}
	ev := bptt.NewEvaluator(m, tcfg.BPTT, norm)

	log.Info().
		Str("model", string(cell)).
		Int("vocab", mcfg.VocabSize).
		Int("params", m.NumParameters()).
		Int("train_steps", train.Steps).
		Int("bptt", tcfg.BPTT).
		Int("bptt_step", tcfg.Step()).
		Str("normalize", string(norm)).
		Msg("Starting training")

	status := newStatusTracker()
	if *listenAddr != "" {
		go startServer(*listenAddr, NewServer(status))
	}

	var pub *client.Publisher
	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			return fmt.Errorf("create flight client: %w", err)
		}
		defer func() { _ = fc.Close() }()
		pub = client.NewPublisher(fc, *datasetName, 30*time.Second)
		log.Info().Str("addr", *serverAddr).Msg("Publishing results to Longbow")
	}

	st := bptt.NewTrainingLoopState(tcfg.LR)
	if err := trainLoop(ctx, tr, ev, m, st, train, valid, c.Dict, status, pub); err != nil {
		return err
	}

	// Score the best snapshot on test data even after an interrupt.
	status.setPhase("test")
	if snap, err := weights.Load(*savePath); err == nil {
		if err := weights.Restore(m, snap); err != nil {
			return fmt.Errorf("restore best model: %w", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", *savePath).Msg("No saved model, testing current parameters")
	} else {
		return err
	}
	res, err := ev.Evaluate(context.Background(), test)
	if err != nil {
		return err
	}
	log.Info().Float64("test_loss", res.Loss).Float64("test_ppl", res.Perplexity).Msg("End of training")

	if pub != nil {
		_ = pub.Wait(context.Background())
		if err := pub.PublishEmbeddings(context.Background(), c.Dict.Words(), m.Embeddings()); err != nil {
			log.Warn().Err(err).Msg("Embedding export failed")
		}
	}
	status.setPhase("done")
	return nil
}

// trainLoop runs epochs until the limit or an interrupt, saving the model
// whenever validation loss improves and annealing the learning rate
// otherwise.
func trainLoop(ctx context.Context, tr *bptt.Trainer, ev *bptt.Evaluator, m *model.RNNModel,
	st *bptt.TrainingLoopState, train, valid corpus.TokenMatrix, dict *corpus.Dictionary,
	status *statusTracker, pub *client.Publisher) error {
	for epoch := 1; epoch <= *epochs; epoch++ {
		st.Epoch = epoch
		status.update(st, "train")

		stats, err := tr.TrainEpoch(ctx, st, train)
		if errors.Is(err, bptt.ErrInterrupted) {
			log.Warn().Int("epoch", epoch).Int("batch", st.Batch).Msg("Exiting from training early")
			return nil
		}
		if err != nil {
			return err
		}

		status.update(st, "validate")
		val, err := ev.Evaluate(ctx, valid)
		if errors.Is(err, context.Canceled) {
			log.Warn().Int("epoch", epoch).Msg("Exiting from training early")
			return nil
		}
		if err != nil {
			return err
		}
		if math.IsNaN(val.Loss) {
			return fmt.Errorf("validation loss is NaN at epoch %d", epoch)
		}
		bptt.ValidationLoss.Set(val.Loss)
		log.Info().
			Int("epoch", epoch).
			Dur("elapsed", stats.Elapsed).
			Float64("valid_loss", val.Loss).
			Float64("valid_ppl", val.Perplexity).
			Msg("End of epoch")

		if st.Anneal(val.Loss, *annealFactor) {
			snap := weights.Capture(m.Config, m)
			snap.Epoch, snap.ValLoss, snap.LR, snap.Dictionary = epoch, val.Loss, st.LR, dict.Words()
			if err := weights.Save(*savePath, snap); err != nil {
				return fmt.Errorf("save best model: %w", err)
			}
			log.Info().Str("path", *savePath).Float64("valid_loss", val.Loss).Msg("Saved best model")
		} else {
			log.Info().Float64("lr", st.LR).Msg("Annealed learning rate")
		}
		status.setValLoss(val.Loss)

		if pub != nil {
			pub.PublishEpochAsync(ctx, client.EpochSummary{
				Epoch:     epoch,
				TrainLoss: stats.Loss,
				ValidLoss: val.Loss,
				ValidPPL:  val.Perplexity,
				LR:        st.LR,
				Elapsed:   stats.Elapsed.Milliseconds(),
			})
		}
	}
	return nil
}

// loadCorpus reads the Arrow cache when present and builds it otherwise.
func loadCorpus(dir, cache string) (*corpus.Corpus, error) {
	if cache != "" {
		c, err := corpus.LoadArrow(cache)
		if err == nil {
			log.Info().Str("cache", cache).Int("vocab", c.Dict.Len()).Msg("Loaded token cache")
			return c, nil
		}
		if !errors.Is(err, corpus.ErrCacheMiss) {
			return nil, err
		}
	}

	c, err := corpus.Load(dir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("data", dir).Int("vocab", c.Dict.Len()).Int("train_tokens", len(c.Train)).Msg("Loaded corpus")
	if cache != "" {
		if err := corpus.SaveArrow(cache, c); err != nil {
			log.Warn().Err(err).Str("cache", cache).Msg("Failed to write token cache")
		}
	}
	return c, nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("wordlm"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
