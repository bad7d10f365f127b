package extract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/ingesttrace"
	"github.com/you/watchpipe/internal/lexicon"
)

type stubExtractor struct {
	calls int32
	res   core.ExtractionResult
	err   error
	delay time.Duration
}

func (s *stubExtractor) Extract(ctx context.Context, _ string, _ core.ExtractionMetadata) (core.ExtractionResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return core.ExtractionResult{}, &ExtractionError{Stage: "request", Err: ctx.Err()}
		}
	}
	if s.err != nil {
		return core.ExtractionResult{}, s.err
	}
	return s.res, nil
}

func (s *stubExtractor) Calls() int32 { return atomic.LoadInt32(&s.calls) }

type recordingObserver struct {
	mu       sync.Mutex
	done     []string
	failures []string
}

func (o *recordingObserver) ExtractionDone(method core.Method, cacheHit, fellBack bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, fmt.Sprintf("%s/hit=%t/fb=%t", method, cacheHit, fellBack))
}

func (o *recordingObserver) AIFailure(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, stage)
}

func newPipelineRules(t *testing.T) *Rules {
	t.Helper()
	store, err := lexicon.NewStore("")
	if err != nil {
		t.Fatalf("lexicon store: %v", err)
	}
	return NewRules(store)
}

func saleResult(brand string) core.ExtractionResult {
	return core.ExtractionResult{
		Brand:           core.StrPtr(brand),
		MessageType:     "sale",
		Condition:       "new",
		PriceType:       "asking",
		ConfidenceScore: 0.9,
	}
}

func TestPipelineAIPreferred(t *testing.T) {
	ai := &stubExtractor{res: saleResult("Rolex")}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t)})

	res := p.ExtractOne(context.Background(), core.RawMessage{Text: "Vends Rolex 8200€"}, core.ExtractionMetadata{})
	if res.Method != core.MethodAI {
		t.Fatalf("method = %q, want ai", res.Method)
	}
	if ai.Calls() != 1 {
		t.Fatalf("ai calls = %d", ai.Calls())
	}
}

func TestPipelineFallbackOnAIError(t *testing.T) {
	ai := &stubExtractor{err: &ExtractionError{Stage: "schema", Err: fmt.Errorf("bad shape")}}
	obs := &recordingObserver{}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), Observer: obs})

	res := p.ExtractOne(context.Background(), core.RawMessage{Text: "Vends Rolex Submariner 8200€"}, core.ExtractionMetadata{})
	if res.Method != core.MethodDeterministic {
		t.Fatalf("method = %q, want deterministic fallback", res.Method)
	}
	if res.Brand == nil || *res.Brand != "Rolex" {
		t.Fatalf("fallback lost the extraction: %+v", res)
	}

	snap := p.Stats().Snapshot()
	if snap.AIFallbacks != 1 {
		t.Fatalf("fallbacks = %d", snap.AIFallbacks)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.failures) != 1 || obs.failures[0] != "schema" {
		t.Fatalf("observer failures = %v", obs.failures)
	}
}

func TestPipelineDeterministicOnlyWhenNoAI(t *testing.T) {
	p := NewPipeline(Options{Rules: newPipelineRules(t)})
	res := p.ExtractOne(context.Background(), core.RawMessage{Text: "Vends Omega 2000€"}, core.ExtractionMetadata{})
	if res.Method != core.MethodDeterministic {
		t.Fatalf("method = %q", res.Method)
	}
	if p.AIEnabled() {
		t.Fatal("AIEnabled should be false")
	}
	if p.Stats().Snapshot().AIFallbacks != 0 {
		t.Fatal("no fallback should be counted without an AI extractor")
	}
}

func TestPipelineCacheAvoidsSecondCall(t *testing.T) {
	ai := &stubExtractor{res: saleResult("Rolex")}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), Cache: NewCache(time.Minute, 100)})

	msg := core.RawMessage{Text: "Vends Rolex 8200€"}
	first := p.ExtractOne(context.Background(), msg, core.ExtractionMetadata{})
	second := p.ExtractOne(context.Background(), msg, core.ExtractionMetadata{})

	if ai.Calls() != 1 {
		t.Fatalf("ai calls = %d, want 1 (second served from cache)", ai.Calls())
	}
	if first.Brand == nil || second.Brand == nil || *first.Brand != *second.Brand {
		t.Fatal("cached result differs")
	}

	snap := p.Stats().Snapshot()
	if snap.MessagesAnalyzed != 2 {
		t.Fatalf("analyzed = %d, cache hits still count", snap.MessagesAnalyzed)
	}
	if snap.CacheHits != 1 {
		t.Fatalf("cache hits = %d", snap.CacheHits)
	}
}

func TestPipelineCacheKeyedByNormalizedText(t *testing.T) {
	ai := &stubExtractor{res: saleResult("Rolex")}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), Cache: NewCache(time.Minute, 100)})

	p.ExtractOne(context.Background(), core.RawMessage{Text: "Vends Rolex 8200€", Sender: "alice"}, core.ExtractionMetadata{})
	p.ExtractOne(context.Background(), core.RawMessage{Text: "  vends   ROLEX 8200€ ", Sender: "bob"}, core.ExtractionMetadata{})

	if ai.Calls() != 1 {
		t.Fatalf("ai calls = %d, identical wording must share the cache entry", ai.Calls())
	}
}

func TestPipelineNoCacheWriteAfterCancel(t *testing.T) {
	ai := &stubExtractor{res: saleResult("Rolex"), delay: 50 * time.Millisecond}
	cache := NewCache(time.Minute, 100)
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), Cache: cache})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	res := p.ExtractOne(ctx, core.RawMessage{Text: "Vends Rolex 8200€"}, core.ExtractionMetadata{})

	if res.Method != core.MethodDeterministic {
		t.Fatalf("canceled AI call must fall back, got method %q", res.Method)
	}
	if cache.Len() != 0 {
		t.Fatal("aborted call must not populate the cache")
	}
}

func TestPipelineBatchPreservesOrder(t *testing.T) {
	p := NewPipeline(Options{Rules: newPipelineRules(t), BatchConcurrency: 2})

	items := []BatchItem{
		{Message: core.RawMessage{Text: "Vends Rolex Submariner 8200€"}},
		{Message: core.RawMessage{Text: "Cherche Omega Speedmaster budget 4000€"}},
		{Message: core.RawMessage{Text: "bonjour tout le monde"}},
		{Message: core.RawMessage{Text: "Vends Tudor Black Bay 3200€"}},
	}
	results := p.ExtractBatch(context.Background(), items)

	if len(results) != len(items) {
		t.Fatalf("got %d results for %d items", len(results), len(items))
	}
	if results[0].Brand == nil || *results[0].Brand != "Rolex" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].MessageType != core.MessageWanted {
		t.Fatalf("results[1] type = %q", results[1].MessageType)
	}
	if results[2].MessageType != core.MessageOther {
		t.Fatalf("results[2] type = %q", results[2].MessageType)
	}
	if results[3].Brand == nil || *results[3].Brand != "Tudor" {
		t.Fatalf("results[3] = %+v", results[3])
	}
}

func TestPipelineBatchOneFailureDoesNotAbort(t *testing.T) {
	ai := &stubExtractor{err: fmt.Errorf("hard down")}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), BatchConcurrency: 2})

	items := []BatchItem{
		{Message: core.RawMessage{Text: "Vends Rolex 8200€"}},
		{Message: core.RawMessage{Text: "Vends Omega 2000€"}},
	}
	results := p.ExtractBatch(context.Background(), items)

	for i, res := range results {
		if res.Method != core.MethodDeterministic {
			t.Fatalf("results[%d] method = %q, want deterministic", i, res.Method)
		}
	}
}

func TestPipelineRecordsTraceStages(t *testing.T) {
	ai := &stubExtractor{err: &ExtractionError{Stage: "status", Err: fmt.Errorf("down")}}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t), Cache: NewCache(time.Minute, 100)})

	msg := core.RawMessage{Text: "Vends Rolex 8200€"}

	fellBack := ingesttrace.NewTraceFromWebhookMessage("g", "s", "vends rolex")
	p.ExtractOne(ingesttrace.NewContext(context.Background(), fellBack), msg, core.ExtractionMetadata{})
	if fellBack.Counter(ingesttrace.StageFellBack) != 1 {
		t.Fatal("fallback must be recorded on the trace")
	}
	if fellBack.Counter(ingesttrace.StageAIOK) != 0 {
		t.Fatal("failed AI call must not record ai_ok")
	}

	hit := ingesttrace.NewTraceFromWebhookMessage("g", "s", "vends rolex")
	p.ExtractOne(ingesttrace.NewContext(context.Background(), hit), msg, core.ExtractionMetadata{})
	if hit.Counter(ingesttrace.StageCacheHit) != 1 {
		t.Fatal("second identical message must record a cache hit")
	}
}

func TestPipelineRecordsAIOKOnTrace(t *testing.T) {
	ai := &stubExtractor{res: saleResult("Rolex")}
	p := NewPipeline(Options{AI: ai, Rules: newPipelineRules(t)})

	trace := ingesttrace.NewTraceFromWebhookMessage("g", "s", "vends rolex")
	ctx := ingesttrace.NewContext(context.Background(), trace)
	p.ExtractOne(ctx, core.RawMessage{Text: "Vends Rolex 8200€"}, core.ExtractionMetadata{})

	if trace.Counter(ingesttrace.StageAIOK) != 1 {
		t.Fatal("successful AI extraction must record ai_ok")
	}
	if trace.Counter(ingesttrace.StageFellBack) != 0 {
		t.Fatal("no fallback happened")
	}
}

func TestPipelineBatchCarriesItemTraces(t *testing.T) {
	p := NewPipeline(Options{Rules: newPipelineRules(t), Cache: NewCache(time.Minute, 100), BatchConcurrency: 2})

	traces := []*ingesttrace.MessageTrace{
		ingesttrace.NewTraceFromWebhookMessage("g", "a", "vends rolex"),
		ingesttrace.NewTraceFromWebhookMessage("g", "b", "vends rolex"),
	}
	items := []BatchItem{
		{Message: core.RawMessage{Text: "Vends Rolex 8200€"}, Trace: traces[0]},
		{Message: core.RawMessage{Text: "Vends Rolex 8200€"}, Trace: traces[1]},
	}
	p.ExtractBatch(context.Background(), items)

	// Identical fingerprints: between cache and singleflight exactly one of
	// the two traces may record a hit, never both a miss.
	hits := traces[0].Counter(ingesttrace.StageCacheHit) + traces[1].Counter(ingesttrace.StageCacheHit)
	if hits > 1 {
		t.Fatalf("cache hits across traces = %d", hits)
	}
}

func TestPipelineObserverSeesCacheHit(t *testing.T) {
	obs := &recordingObserver{}
	p := NewPipeline(Options{Rules: newPipelineRules(t), Cache: NewCache(time.Minute, 100), Observer: obs})

	msg := core.RawMessage{Text: "Vends Rolex 8200€"}
	p.ExtractOne(context.Background(), msg, core.ExtractionMetadata{})
	p.ExtractOne(context.Background(), msg, core.ExtractionMetadata{})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.done) != 2 {
		t.Fatalf("observer events = %v", obs.done)
	}
	if obs.done[0] != "deterministic/hit=false/fb=false" {
		t.Fatalf("first event = %q", obs.done[0])
	}
	if obs.done[1] != "deterministic/hit=true/fb=false" {
		t.Fatalf("second event = %q", obs.done[1])
	}
}
