package extract

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/ingesttrace"
)

const defaultBatchConcurrency = 4

// Observer receives per-extraction outcome notifications. The HTTP layer
// feeds these into Prometheus; a nil observer is valid.
type Observer interface {
	ExtractionDone(method core.Method, cacheHit, fellBack bool)
	AIFailure(stage string)
}

// Options wires a Pipeline. Rules and Stats are required; AI and Cache are
// optional and disable their path when nil.
type Options struct {
	AI               Extractor
	Rules            Extractor
	Cache            *Cache
	Stats            *Stats
	Observer         Observer
	Logger           *slog.Logger
	BatchConcurrency int
}

// Pipeline is the extraction orchestrator: it consults the fingerprint cache,
// prefers the AI extractor, falls back deterministically on any AI failure,
// and collapses concurrent identical-fingerprint requests into one in-flight
// extraction. Every public entry point returns a usable result; a degraded
// deterministic result is the designed failure mode, not an error.
type Pipeline struct {
	ai       Extractor
	rules    Extractor
	cache    *Cache
	stats    *Stats
	observer Observer
	logger   *slog.Logger
	batchN   int

	group singleflight.Group
}

// BatchItem pairs one message with its metadata for batch extraction. Trace
// is optional; when set, per-message stage counters are recorded on it.
type BatchItem struct {
	Message core.RawMessage
	Meta    core.ExtractionMetadata
	Trace   *ingesttrace.MessageTrace
}

// NewPipeline builds the orchestrator.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := opts.Stats
	if stats == nil {
		stats = NewStats()
	}
	batchN := opts.BatchConcurrency
	if batchN <= 0 {
		batchN = defaultBatchConcurrency
	}
	return &Pipeline{
		ai:       opts.AI,
		rules:    opts.Rules,
		cache:    opts.Cache,
		stats:    stats,
		observer: opts.Observer,
		logger:   logger,
		batchN:   batchN,
	}
}

// Stats exposes the aggregator owned by this pipeline.
func (p *Pipeline) Stats() *Stats { return p.stats }

// AIEnabled reports whether the AI path is configured.
func (p *Pipeline) AIEnabled() bool { return p.ai != nil }

type flightOutcome struct {
	res      core.ExtractionResult
	fellBack bool
}

// ExtractOne analyzes a single message. Every call counts as one analyzed
// message in the stats, cache hits included.
func (p *Pipeline) ExtractOne(ctx context.Context, msg core.RawMessage, meta core.ExtractionMetadata) core.ExtractionResult {
	fp := Fingerprint(msg.Text)
	trace := ingesttrace.FromContext(ctx)

	if res, ok := p.cache.Get(fp); ok {
		trace.IncCounter(ingesttrace.StageCacheHit)
		p.stats.RecordCacheHit()
		p.stats.Record(res)
		if p.observer != nil {
			p.observer.ExtractionDone(res.Method, true, false)
		}
		return res
	}

	v, _, _ := p.group.Do(fp, func() (any, error) {
		out := p.run(ctx, msg.Text, meta)
		// Never write a cache entry for an aborted call: the result may be a
		// fallback forced by cancellation rather than a real verdict.
		if ctx.Err() == nil {
			p.cache.Set(fp, out.res)
		}
		return out, nil
	})
	out := v.(flightOutcome)

	if out.res.Method == core.MethodAI {
		trace.IncCounter(ingesttrace.StageAIOK)
	}
	if out.fellBack {
		trace.IncCounter(ingesttrace.StageFellBack)
	}
	p.stats.Record(out.res)
	if p.observer != nil {
		p.observer.ExtractionDone(out.res.Method, false, out.fellBack)
	}
	return out.res
}

// ExtractBatch analyzes messages with bounded concurrency. The returned slice
// mirrors input order regardless of completion order, and one message can
// never abort the rest.
func (p *Pipeline) ExtractBatch(ctx context.Context, items []BatchItem) []core.ExtractionResult {
	results := make([]core.ExtractionResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchN)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			ctx := gctx
			if item.Trace != nil {
				ctx = ingesttrace.NewContext(gctx, item.Trace)
			}
			results[i] = p.ExtractOne(ctx, item.Message, item.Meta)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) run(ctx context.Context, text string, meta core.ExtractionMetadata) flightOutcome {
	aiTried := false
	if p.ai != nil {
		aiTried = true
		raw, err := p.ai.Extract(ctx, text, meta)
		if err == nil {
			res, anomalies := Normalize(raw, core.MethodAI)
			p.logAnomalies(anomalies)
			return flightOutcome{res: res}
		}
		stage := "request"
		if xerr, ok := err.(*ExtractionError); ok {
			stage = xerr.Stage
		}
		p.logger.Warn("ai extraction failed, falling back to rules", "stage", stage, "err", err)
		p.stats.RecordAIFallback()
		if p.observer != nil {
			p.observer.AIFailure(stage)
		}
	}

	raw, _ := p.rules.Extract(ctx, text, meta)
	res, anomalies := Normalize(raw, core.MethodDeterministic)
	p.logAnomalies(anomalies)
	return flightOutcome{res: res, fellBack: aiTried}
}

func (p *Pipeline) logAnomalies(anomalies []Anomaly) {
	for _, a := range anomalies {
		p.logger.Debug("normalizer anomaly", "field", a.Field, "value", a.Value)
	}
}
