package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/extract"
	"github.com/you/watchpipe/internal/ingesttrace"
)

// Store is the read side of the sink.
type Store interface {
	CountMessages(ctx context.Context, filters Filters) (int64, error)
	ListMessages(ctx context.Context, filters Filters) ([]core.AnalyzedMessage, error)
}

// Analyzer runs the extraction pipeline for inbound webhook messages. Batch
// payloads go through ExtractBatch so its bounded fan-out applies.
type Analyzer interface {
	ExtractOne(ctx context.Context, msg core.RawMessage, meta core.ExtractionMetadata) core.ExtractionResult
	ExtractBatch(ctx context.Context, items []extract.BatchItem) []core.ExtractionResult
	Stats() *extract.Stats
}

// Writer is the write side of the sink. Mirrors sink.Writer without importing
// it; sink depends on this package for Filters.
type Writer interface {
	Write(core.AnalyzedMessage, *ingesttrace.MessageTrace) error
}

// Vectorizer produces an embedding for stored text. Optional.
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float32, error)
}

type subscriber struct {
	ch        chan core.AnalyzedMessage
	filters   Filters
	transport string
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	store      Store
	analyzer   Analyzer
	writer     Writer
	vectorizer Vectorizer
	metrics    *Metrics
	limiter    *ipLimiter
	cors       *corsPolicy
	logger     *slog.Logger
	opts       Options

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

type Options struct {
	Addr            string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	EnablePprof     bool
	Build           BuildInfo
	ConfigSnapshot  json.RawMessage
}

func New(store Store, analyzer Analyzer, writer Writer, opts Options) *Server {
	srv := &Server{
		store:       store,
		analyzer:    analyzer,
		writer:      writer,
		subscribers: make(map[*subscriber]struct{}),
		limiter:     newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:        newCORSPolicy(opts.CORSOrigins),
		logger:      slog.Default(),
		opts:        opts,
	}
	if opts.EnableMetrics {
		srv.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("/info", srv.handleInfo))
	mux.HandleFunc("/stats", srv.wrap("/stats", srv.handleStats))
	mux.HandleFunc("/count", srv.wrap("/count", srv.handleCount))
	mux.HandleFunc("/messages", srv.wrap("/messages", srv.handleMessages))
	mux.HandleFunc("/stream", srv.wrap("/stream", srv.handleStream))
	mux.HandleFunc("/ws", srv.wrap("/ws", srv.handleWS))
	mux.HandleFunc("/webhook", srv.wrap("/webhook", srv.handleWebhook))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv.mux = mux
	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the underlying mux so extra handlers can be attached before Start.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// SetAnalyzer attaches the extraction pipeline. Wiring is two-phase because
// the pipeline observes the server's metrics registry.
func (s *Server) SetAnalyzer(a Analyzer) { s.analyzer = a }

// SetWriter attaches the sink the webhook path persists through. Two-phase for
// the same reason: the broadcast wrapper needs the server first.
func (s *Server) SetWriter(w Writer) { s.writer = w }

// ReportDBWriteError bumps the DB write error counter from outside the package.
func (s *Server) ReportDBWriteError() { s.metrics.IncDBWriteErrors() }

// SetLogger replaces the structured logger used for access logs and traces.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetVectorizer attaches an optional embeddings client used by the webhook path.
func (s *Server) SetVectorizer(v Vectorizer) { s.vectorizer = v }

// Metrics exposes the collector bundle so the pipeline can feed it. Nil when
// metrics are disabled.
func (s *Server) Metrics() *Metrics { return s.metrics }

// wrap applies rate limiting, CORS, gzip, metrics, and access logging around a
// handler. Streaming routes skip gzip inside their handlers via request headers.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

		if handled, _ := s.cors.handlePreflight(w, r); handled {
			return
		}
		if !s.cors.applyHeaders(w, r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		rec := newStatusWriter(w)
		start := time.Now()

		if gz, ok := maybeGzip(rec, r); ok {
			defer func() { _ = gz.Close() }()
		}

		h(rec, r)

		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur, rec.Bytes())
		if s.opts.EnableAccessLog {
			s.logger.Info("http request",
				"route", route,
				"method", r.Method,
				"status", rec.Status(),
				"bytes", rec.Bytes(),
				"dur_ms", dur.Milliseconds(),
				"ip", clientIP(r),
			)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.analyzer == nil {
		http.Error(w, "analyzer unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.analyzer.Stats().Snapshot())
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.store.CountMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.AnalyzedMessage{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sub := &subscriber{
		ch:        make(chan core.AnalyzedMessage, 256),
		filters:   filters.CloneForStream(),
		transport: "sse",
	}
	if !s.addSubscriber(sub) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.removeSubscriber(sub)

	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncMessagesSent("sse")
		}
	}
}

func (s *Server) addSubscriber(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subscribers[sub] = struct{}{}
	return true
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
}

// Broadcast fans an analyzed message out to all live clients whose filters
// match. Slow clients drop rather than block the writer.
func (s *Server) Broadcast(msg core.AnalyzedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if !sub.filters.Matches(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			s.metrics.IncBroadcastDrops(sub.transport)
		}
	}
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subscribers {
		close(sub.ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
