package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/extract"
	"github.com/you/watchpipe/internal/ingesttrace"
)

const maxWebhookBody = 1 << 20

// whatsAppPayload mirrors the WhatsApp Business webhook envelope. Only text
// messages are consumed; other types are counted as dropped.
type whatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					GroupID string `json:"group_id"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// directPayload is the plain ingest form: a single message or a batch.
type directPayload struct {
	Messages []directMessage `json:"messages"`
	directMessage
}

type directMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name"`
	GroupName  string    `json:"group_name"`
	Ts         time.Time `json:"ts"`
}

type webhookResponse struct {
	Accepted int                     `json:"accepted"`
	Dropped  int                     `json:"dropped"`
	Results  []core.ExtractionResult `json:"results,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleWebhookVerify(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.analyzer == nil {
		http.Error(w, "analyzer unavailable", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	msgs, metas, dropped, err := parseWebhookBody(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	traces := make([]*ingesttrace.MessageTrace, len(msgs))
	for i, msg := range msgs {
		traces[i] = ingesttrace.NewTraceFromWebhookMessage(msg.GroupName, msg.Sender, snippet(msg.Text))
	}

	// A single message runs inline; a batch goes through the pipeline's
	// bounded fan-out so concurrent AI calls stay capped.
	var results []core.ExtractionResult
	if len(msgs) == 1 {
		ctx := ingesttrace.NewContext(r.Context(), traces[0])
		results = []core.ExtractionResult{s.analyzer.ExtractOne(ctx, msgs[0], metas[0])}
	} else if len(msgs) > 1 {
		items := make([]extract.BatchItem, len(msgs))
		for i := range msgs {
			items[i] = extract.BatchItem{Message: msgs[i], Meta: metas[i], Trace: traces[i]}
		}
		results = s.analyzer.ExtractBatch(r.Context(), items)
	}

	resp := webhookResponse{Dropped: dropped}
	for i, msg := range msgs {
		trace := traces[i]
		result := results[i]
		trace.IncCounter(ingesttrace.StageNormalizedOK)

		analyzed := core.AnalyzedMessage{Message: msg, Result: result}
		if s.vectorizer != nil {
			if vec, err := s.vectorizer.Vectorize(r.Context(), msg.Text); err == nil {
				if data, err := json.Marshal(vec); err == nil {
					analyzed.EmbeddingJSON = string(data)
				}
			} else {
				s.logger.Warn("vectorize failed", "err", err, "trace_id", trace.TraceID)
			}
		}

		if s.writer != nil {
			if err := s.writer.Write(analyzed, trace); err != nil {
				s.metrics.IncDBWriteErrors()
				s.logger.Error("sink write failed", "err", err, "trace_id", trace.TraceID)
			}
		}

		trace.LogTrace(s.logger, "webhook message processed")
		resp.Accepted++
		resp.Results = append(resp.Results, result)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleWebhookVerify answers the WhatsApp subscription handshake by echoing
// hub.challenge. Token checking stays with the transport layer upstream.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("hub.challenge")
	if challenge == "" {
		http.Error(w, "missing hub.challenge", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func parseWebhookBody(body []byte) ([]core.RawMessage, []core.ExtractionMetadata, int, error) {
	var probe struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, nil, 0, errInvalidPayload
	}

	if probe.Object == "whatsapp_business_account" {
		return parseWhatsApp(body)
	}
	return parseDirect(body)
}

var errInvalidPayload = jsonError("invalid webhook payload")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func parseWhatsApp(body []byte) ([]core.RawMessage, []core.ExtractionMetadata, int, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, 0, errInvalidPayload
	}

	var (
		msgs    []core.RawMessage
		metas   []core.ExtractionMetadata
		dropped int
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, wa := range value.Messages {
				if wa.Type != "" && wa.Type != "text" {
					dropped++
					continue
				}
				text := strings.TrimSpace(wa.Text.Body)
				if text == "" {
					dropped++
					continue
				}
				ts := time.Now().UTC()
				if secs, err := strconv.ParseInt(wa.Timestamp, 10, 64); err == nil {
					ts = time.Unix(secs, 0).UTC()
				}
				msgs = append(msgs, core.RawMessage{
					ID:        wa.ID,
					Text:      text,
					Sender:    wa.From,
					GroupName: wa.GroupID,
					Ts:        ts,
				})
				metas = append(metas, core.ExtractionMetadata{
					SenderName:     names[wa.From],
					IsGroupMessage: wa.GroupID != "",
				})
			}
		}
	}
	return msgs, metas, dropped, nil
}

func parseDirect(body []byte) ([]core.RawMessage, []core.ExtractionMetadata, int, error) {
	var payload directPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, 0, errInvalidPayload
	}

	raw := payload.Messages
	if len(raw) == 0 {
		if payload.directMessage == (directMessage{}) {
			return nil, nil, 0, errInvalidPayload
		}
		raw = []directMessage{payload.directMessage}
	}

	var (
		msgs    []core.RawMessage
		metas   []core.ExtractionMetadata
		dropped int
	)
	for _, dm := range raw {
		text := strings.TrimSpace(dm.Text)
		if text == "" {
			dropped++
			continue
		}
		ts := dm.Ts
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		id := dm.ID
		if id == "" {
			id = ingesttrace.NewTraceFromWebhookMessage(dm.GroupName, dm.Sender, text).TraceID
		}
		msgs = append(msgs, core.RawMessage{
			ID:        id,
			Text:      text,
			Sender:    dm.Sender,
			GroupName: dm.GroupName,
			Ts:        ts,
		})
		metas = append(metas, core.ExtractionMetadata{
			SenderName:     dm.SenderName,
			IsGroupMessage: dm.GroupName != "",
		})
	}
	return msgs, metas, dropped, nil
}

// snippet shortens trace text without splitting a rune; group chatter is
// mostly French and accented characters land on multi-byte boundaries.
func snippet(text string) string {
	const max = 48
	if len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
