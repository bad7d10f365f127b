package extract

import (
	"sync"

	"github.com/you/watchpipe/internal/core"
)

// Stats aggregates process-wide extraction counters. One instance is built at
// startup and handed to the pipeline; there is no package-level state.
type Stats struct {
	mu            sync.Mutex
	analyzed      int64
	byType        map[core.MessageType]int64
	byMethod      map[core.Method]int64
	cacheHits     int64
	aiFallbacks   int64
	totalValue    float64
	confidenceSum float64
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	MessagesAnalyzed int64   `json:"messages_analyzed"`
	SalesFound       int64   `json:"sales_found"`
	WantedFound      int64   `json:"wanted_found"`
	QuestionsFound   int64   `json:"questions_found"`
	TradesFound      int64   `json:"trades_found"`
	OtherFound       int64   `json:"other_found"`
	AIExtractions    int64   `json:"ai_extractions"`
	RuleExtractions  int64   `json:"deterministic_extractions"`
	CacheHits        int64   `json:"cache_hits"`
	AIFallbacks      int64   `json:"ai_fallbacks"`
	TotalValue       float64 `json:"total_value_detected"`
	MeanConfidence   float64 `json:"mean_confidence"`
}

// NewStats builds an empty aggregator.
func NewStats() *Stats {
	return &Stats{
		byType:   make(map[core.MessageType]int64),
		byMethod: make(map[core.Method]int64),
	}
}

// Record counts one completed extraction. Cumulative value only grows for sale
// messages carrying a price.
func (s *Stats) Record(res core.ExtractionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzed++
	s.byType[res.MessageType]++
	s.byMethod[res.Method]++
	s.confidenceSum += res.ConfidenceScore
	if res.MessageType == core.MessageSale && res.Price != nil {
		s.totalValue += *res.Price
	}
}

// RecordCacheHit counts a fingerprint-cache hit. The corresponding Record call
// still happens; this only tracks how often inference was avoided.
func (s *Stats) RecordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// RecordAIFallback counts an AI failure that was recovered deterministically.
func (s *Stats) RecordAIFallback() {
	s.mu.Lock()
	s.aiFallbacks++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters, never a live reference.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		MessagesAnalyzed: s.analyzed,
		SalesFound:       s.byType[core.MessageSale],
		WantedFound:      s.byType[core.MessageWanted],
		QuestionsFound:   s.byType[core.MessageQuestion],
		TradesFound:      s.byType[core.MessageTrade],
		OtherFound:       s.byType[core.MessageOther],
		AIExtractions:    s.byMethod[core.MethodAI],
		RuleExtractions:  s.byMethod[core.MethodDeterministic],
		CacheHits:        s.cacheHits,
		AIFallbacks:      s.aiFallbacks,
		TotalValue:       s.totalValue,
	}
	if s.analyzed > 0 {
		snap.MeanConfidence = s.confidenceSum / float64(s.analyzed)
	}
	return snap
}
