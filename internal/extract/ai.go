package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/you/watchpipe/internal/core"
)

const (
	defaultAIModel   = "gpt-4o-mini"
	defaultAIBaseURL = "https://api.openai.com/v1"
	defaultAITimeout = 8 * time.Second
)

// AIConfig configures the hosted-model extractor.
type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// AI is the model-backed extractor. It sends the message plus context to an
// OpenAI-compatible chat completions endpoint and parses the structured JSON
// reply. Any transport, status, or shape problem surfaces as *ExtractionError.
type AI struct {
	cfg    AIConfig
	client *http.Client
	logger *slog.Logger
}

// NewAI builds an AI extractor, filling config defaults.
func NewAI(cfg AIConfig) *AI {
	if cfg.Model == "" {
		cfg.Model = defaultAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAITimeout
	}
	return &AI{
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default(),
	}
}

// Chat completions request/response envelope (OpenAI-compatible).
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// aiResponse mirrors the schema the prompt instructs the model to emit.
type aiResponse struct {
	WatchDetails struct {
		Brand            *string  `json:"brand"`
		Model            *string  `json:"model"`
		Reference        *string  `json:"reference"`
		Collection       *string  `json:"collection"`
		Price            *float64 `json:"price"`
		Currency         string   `json:"currency"`
		PriceType        *string  `json:"price_type"`
		Condition        *string  `json:"condition"`
		ConditionDetails *string  `json:"condition_details"`
		Year             *int     `json:"year"`
		Size             *string  `json:"size"`
		MovementType     *string  `json:"movement_type"`
		Material         *string  `json:"material"`
		DialColor        *string  `json:"dial_color"`
	} `json:"watch_details"`
	Accessories struct {
		HasBox                *bool    `json:"has_box"`
		HasPapers             *bool    `json:"has_papers"`
		HasWarranty           *bool    `json:"has_warranty"`
		AuthenticityMentioned bool     `json:"authenticity_mentioned"`
		AccessoriesList       []string `json:"accessories_list"`
	} `json:"accessories"`
	SaleInfo struct {
		MessageType      string   `json:"message_type"`
		Location         *string  `json:"location"`
		UrgencyLevel     int      `json:"urgency_level"`
		Negotiable       *bool    `json:"negotiable"`
		SellerMotivation *string  `json:"seller_motivation"`
		SentimentScore   float64  `json:"sentiment_score"`
	} `json:"sale_info"`
	Meta struct {
		ConfidenceScore   float64  `json:"confidence_score"`
		ExtractedSegments []string `json:"extracted_segments"`
		Reasoning         string   `json:"reasoning"`
	} `json:"extraction_metadata"`
}

// Extract implements Extractor.
func (a *AI) Extract(ctx context.Context, text string, meta core.ExtractionMetadata) (core.ExtractionResult, error) {
	// The configured timeout always applies, even when the caller's context
	// carries a longer deadline: a webhook request may allow seconds per
	// batch, but no single model call gets more than cfg.Timeout.
	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	payload := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(text, meta)},
		},
		Temperature:    0.1,
		MaxTokens:      1500,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "request", Err: err}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "request", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return core.ExtractionResult{}, &ExtractionError{
			Stage: "status",
			Err:   fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var envelope chatResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "decode", Err: err}
	}
	if envelope.Error != nil {
		return core.ExtractionResult{}, &ExtractionError{Stage: "status", Err: fmt.Errorf("api error: %s", envelope.Error.Message)}
	}
	if len(envelope.Choices) == 0 {
		return core.ExtractionResult{}, &ExtractionError{Stage: "decode", Err: fmt.Errorf("empty choices")}
	}

	content := strings.TrimSpace(envelope.Choices[0].Message.Content)
	parsed, err := parseStructured(content)
	if err != nil {
		// One bounded repair pass, then give up and let the pipeline fall back.
		repaired := repairJSON(content)
		if repaired == content {
			return core.ExtractionResult{}, &ExtractionError{Stage: "schema", Err: err}
		}
		parsed, err = parseStructured(repaired)
		if err != nil {
			return core.ExtractionResult{}, &ExtractionError{Stage: "schema", Err: err}
		}
		a.logger.Debug("ai response repaired", "model", a.cfg.Model)
	}

	return parsed.toResult(), nil
}

// parseStructured enforces the response shape: a JSON object carrying at
// least one of the schema's known sections.
func parseStructured(content string) (*aiResponse, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &sections); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}
	known := 0
	for _, key := range []string{"watch_details", "accessories", "sale_info", "extraction_metadata"} {
		if _, ok := sections[key]; ok {
			known++
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("response has none of the expected sections")
	}
	var parsed aiResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("section shape mismatch: %w", err)
	}
	return &parsed, nil
}

// repairJSON strips markdown fences and leading/trailing prose, keeping the
// outermost object. It returns the input unchanged when no repair applies.
func repairJSON(content string) string {
	s := content
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = strings.ReplaceAll(s, "```json", "")
		s = strings.ReplaceAll(s, "```", "")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return content
	}
	s = strings.TrimSpace(s[start : end+1])
	if s == content {
		return content
	}
	return s
}

func (r *aiResponse) toResult() core.ExtractionResult {
	res := core.ExtractionResult{
		Brand:            r.WatchDetails.Brand,
		Model:            r.WatchDetails.Model,
		Collection:       r.WatchDetails.Collection,
		Reference:        r.WatchDetails.Reference,
		Year:             r.WatchDetails.Year,
		Price:            r.WatchDetails.Price,
		Currency:         r.WatchDetails.Currency,
		ConditionDetails: r.WatchDetails.ConditionDetails,
		Size:             r.WatchDetails.Size,
		Material:         r.WatchDetails.Material,
		DialColor:        r.WatchDetails.DialColor,
		MovementType:     r.WatchDetails.MovementType,

		HasBox:                r.Accessories.HasBox,
		HasPapers:             r.Accessories.HasPapers,
		HasWarranty:           r.Accessories.HasWarranty,
		Accessories:           r.Accessories.AccessoriesList,
		AuthenticityMentioned: r.Accessories.AuthenticityMentioned,

		Location:         r.SaleInfo.Location,
		UrgencyLevel:     r.SaleInfo.UrgencyLevel,
		Negotiable:       r.SaleInfo.Negotiable,
		SellerMotivation: r.SaleInfo.SellerMotivation,
		SentimentScore:   r.SaleInfo.SentimentScore,

		ConfidenceScore: r.Meta.ConfidenceScore,
		Segments:        r.Meta.ExtractedSegments,
		Method:          core.MethodAI,
	}
	res.MessageType = core.MessageType(r.SaleInfo.MessageType)
	if r.WatchDetails.Condition != nil {
		res.Condition = core.Condition(*r.WatchDetails.Condition)
	}
	if r.WatchDetails.PriceType != nil {
		res.PriceType = core.PriceType(*r.WatchDetails.PriceType)
	}
	if r.Meta.Reasoning != "" {
		res.Reasoning = core.StrPtr(r.Meta.Reasoning)
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
