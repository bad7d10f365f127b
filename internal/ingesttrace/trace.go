package ingesttrace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking message processing.
type Stage string

const (
	StageSeenFromWebhook Stage = "seen_from_webhook"
	StageCacheHit        Stage = "cache_hit"
	StageAIOK            Stage = "ai_ok"
	StageFellBack        Stage = "fell_back"
	StageNormalizedOK    Stage = "normalized_ok"
	StageWrittenToDB     Stage = "written_to_db"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped message with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// MessageTrace captures trace metadata for a message throughout the ingest pipeline.
type MessageTrace struct {
	Group   string
	Sender  string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTraceFromWebhookMessage constructs a trace from webhook metadata and seeds the
// seen_from_webhook counter.
func NewTraceFromWebhookMessage(group, sender, snippet string) *MessageTrace {
	trace := &MessageTrace{
		Group:    group,
		Sender:   sender,
		Snippet:  snippet,
		TraceID:  computeTraceID(group, sender, snippet),
		counters: make(map[Stage]int64),
	}

	trace.counters[StageSeenFromWebhook] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the
// updated value. Safe on a nil trace so deep pipeline code can increment
// unconditionally.
func (t *MessageTrace) IncCounter(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Counter returns the current value for a stage.
func (t *MessageTrace) Counter(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"group", t.Group,
		"sender", t.Sender,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *MessageTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

type ctxKey struct{}

// NewContext returns a context carrying the trace, so layers below the
// webhook handler can record stages without threading the trace explicitly.
func NewContext(ctx context.Context, t *MessageTrace) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the trace carried by ctx, or nil.
func FromContext(ctx context.Context) *MessageTrace {
	t, _ := ctx.Value(ctxKey{}).(*MessageTrace)
	return t
}

func computeTraceID(group, sender, snippet string) string {
	digest := sha256.Sum256([]byte(group + "\x1f" + sender + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
