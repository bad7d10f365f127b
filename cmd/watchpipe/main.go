package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/watchpipe/internal/config"
	"github.com/you/watchpipe/internal/embed"
	"github.com/you/watchpipe/internal/extract"
	httpadmin "github.com/you/watchpipe/internal/http"
	"github.com/you/watchpipe/internal/httpapi"
	"github.com/you/watchpipe/internal/lexicon"
	"github.com/you/watchpipe/internal/sink"
	"github.com/you/watchpipe/internal/version"
)

type lexReloader struct {
	store *lexicon.Store
}

func (l lexReloader) ReloadLexicon() (string, error) {
	if _, err := l.store.Reload(); err != nil {
		return "", err
	}
	return l.store.Path(), nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		dbPath          string
		aiModel         string
		aiBaseURL       string
		aiTimeoutSecs   int
		cacheEnabled    bool
		lexiconPath     string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
		httpPprof       bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&dbPath, "sqlite", "watchpipe.db", "Path to SQLite database file")
	flag.StringVar(&aiModel, "ai-model", "", "Chat completion model for AI extraction")
	flag.StringVar(&aiBaseURL, "ai-base-url", "", "OpenAI-compatible API base URL")
	flag.IntVar(&aiTimeoutSecs, "ai-timeout", 0, "AI request timeout in seconds")
	flag.BoolVar(&cacheEnabled, "cache", true, "Enable the fingerprint result cache")
	flag.StringVar(&lexiconPath, "lexicon", "", "Path to a YAML lexicon extending the built-in vocabulary")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP API address (e.g., :8080)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.BoolVar(&httpPprof, "http-pprof", false, "Expose pprof handlers under /debug/pprof")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"watchpipe version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["sqlite"] {
		cfg.Sink.SQLite.Path = strings.TrimSpace(dbPath)
	}
	if overrides["ai-model"] && strings.TrimSpace(aiModel) != "" {
		cfg.AI.Model = strings.TrimSpace(aiModel)
	}
	if overrides["ai-base-url"] {
		cfg.AI.BaseURL = strings.TrimSpace(aiBaseURL)
	}
	if overrides["ai-timeout"] && aiTimeoutSecs > 0 {
		cfg.AI.TimeoutSecs = aiTimeoutSecs
	}
	if overrides["cache"] {
		cfg.Cache.Enabled = cacheEnabled
	}
	if overrides["lexicon"] {
		cfg.Lexicon.Path = strings.TrimSpace(lexiconPath)
	}

	log.Printf("%s", cfg.SummaryJSON())
	configSnapshot := cfg.RedactedJSON()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("watchpipe: received %s, shutting down", sig)
		cancel()
	}()

	lexStore, err := lexicon.NewStore(cfg.Lexicon.Path)
	if err != nil {
		log.Fatalf("watchpipe: load lexicon: %v", err)
	}
	if err := lexStore.Watch(); err != nil {
		slog.Error("watchpipe: watch lexicon", "err", err)
	}

	sinkDB, err := sink.OpenSQLite(cfg.Sink.SQLite.Path)
	if err != nil {
		log.Fatalf("watchpipe: open sqlite: %v", err)
	}
	if err := sinkDB.Ping(); err != nil {
		log.Fatalf("watchpipe: ping sqlite: %v", err)
	}
	defer func() {
		if err := sinkDB.Close(); err != nil {
			log.Printf("watchpipe: closing sink: %v", err)
		}
	}()

	var corsOrigins []string
	if strings.TrimSpace(httpCorsOrigins) != "" {
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				corsOrigins = append(corsOrigins, origin)
			}
		}
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	api := httpapi.New(sinkDB, nil, nil, httpapi.Options{
		Addr:            httpAddr,
		CORSOrigins:     corsOrigins,
		RateLimitRPS:    httpRateRPS,
		RateLimitBurst:  httpRateBurst,
		EnableMetrics:   httpMetrics,
		EnableAccessLog: httpAccessLog,
		EnablePprof:     httpPprof,
		Build:           build,
		ConfigSnapshot:  configSnapshot,
	})
	api.SetLogger(slog.Default())

	var aiExtractor extract.Extractor
	if cfg.AIEnabled() {
		aiExtractor = extract.NewAI(extract.AIConfig{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			BaseURL: cfg.AI.BaseURL,
			Timeout: cfg.AITimeout(),
		})
		log.Printf("watchpipe: ai extraction enabled (model=%s)", cfg.AI.Model)
	} else {
		log.Printf("watchpipe: ai extraction disabled; deterministic only")
	}

	var cache *extract.Cache
	if cfg.Cache.Enabled {
		cache = extract.NewCache(cfg.CacheTTL(), cfg.Cache.MaxEntries)
	}

	pipeline := extract.NewPipeline(extract.Options{
		AI:       aiExtractor,
		Rules:    extract.NewRules(lexStore),
		Cache:    cache,
		Stats:    extract.NewStats(),
		Observer: api.Metrics(),
		Logger:   slog.Default(),
	})
	api.SetAnalyzer(pipeline)

	var writer sink.Writer = sink.WithAPI(sinkDB, api)
	var buffered *sink.BufferedWriter
	if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
		buffered = sink.NewBufferedWriter(writer, sink.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
		})
		writer = buffered
	}
	api.SetWriter(writer)

	if buffered != nil {
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("watchpipe: flush buffered sink: %v", err)
			}
		}()
	}

	if cfg.Embed.Enabled && cfg.AI.APIKey != "" {
		api.SetVectorizer(embed.New(embed.Config{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.Embed.Model,
			BaseURL: cfg.AI.BaseURL,
		}))
		log.Printf("watchpipe: embeddings enabled (model=%s)", cfg.Embed.Model)
	}

	admin := httpadmin.New(lexReloader{store: lexStore})
	admin.Register(api.Mux())

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("watchpipe: http api: %v", err)
		}
	}()
	log.Printf("watchpipe: http api ready on %s", httpAddr)

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("watchpipe: http api shutdown: %v", err)
	}
	cancelShutdown()

	log.Printf("watchpipe: shutdown complete")
}
