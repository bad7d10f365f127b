// Package extract turns free-text watch sale/purchase/trade messages into
// canonical, confidence-scored records. Two extractors share one contract: an
// AI-backed one with higher precision and a rule-based one that never fails.
// The pipeline prefers the AI path and falls back deterministically.
package extract

import (
	"context"
	"fmt"

	"github.com/you/watchpipe/internal/core"
)

// Extractor is the single contract both extractor variants implement. The
// deterministic variant ignores the metadata argument.
type Extractor interface {
	Extract(ctx context.Context, text string, meta core.ExtractionMetadata) (core.ExtractionResult, error)
}

// ExtractionError reports an AI-path failure (call error, timeout, or a
// response that stayed unparseable after one repair attempt). It is recovered
// inside the pipeline by falling back to the rule extractor and never reaches
// the caller.
type ExtractionError struct {
	Stage string // "request", "status", "decode", "schema"
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
