package main

import (
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("wordlm-server")

var statusRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wordlm_status_requests_total",
	Help: "Total number of /status requests served",
})

// StatusSource reports the current training status.
type StatusSource interface {
	snapshot() TrainingStatus
}

// Server exposes metrics, liveness and training status over HTTP.
type Server struct {
	status StatusSource
}

func NewServer(status StatusSource) *Server {
	return &Server{status: status}
}

// Handler returns the server routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting status server")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Error().Err(err).Msg("Status server failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus returns the training status as CBOR.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleStatus")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := cbor.Marshal(s.status.snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	statusRequests.Inc()
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(data)
}
