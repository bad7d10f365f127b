package core

import "time"

// MessageType classifies the intent of an analyzed message.
type MessageType string

const (
	MessageSale     MessageType = "sale"
	MessageWanted   MessageType = "wanted"
	MessageQuestion MessageType = "question"
	MessageTrade    MessageType = "trade"
	MessageOther    MessageType = "other"
)

// Condition is the canonical state of the advertised watch.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionExcellent   Condition = "excellent"
	ConditionGood        Condition = "good"
	ConditionUsed        Condition = "used"
	ConditionVintage     Condition = "vintage"
	ConditionUnspecified Condition = "unspecified"
)

// PriceType qualifies how a quoted price should be read.
type PriceType string

const (
	PriceAsking      PriceType = "asking"
	PriceSold        PriceType = "sold"
	PriceNegotiable  PriceType = "negotiable"
	PriceUnspecified PriceType = "unspecified"
)

// Method records which extractor produced the final result.
type Method string

const (
	MethodAI            Method = "ai"
	MethodDeterministic Method = "deterministic"
)

// RawMessage is the immutable inbound message handed to the pipeline.
type RawMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	GroupName string    `json:"group_name,omitempty"`
	Ts        time.Time `json:"ts"`
}

// ExtractionMetadata carries optional contextual hints alongside a RawMessage.
// The pipeline treats it as read-only.
type ExtractionMetadata struct {
	SenderName     string             `json:"sender_name,omitempty"`
	IsGroupMessage bool               `json:"is_group_message,omitempty"`
	IntentSignals  map[string]float64 `json:"intent_signals,omitempty"`
}

// ExtractionResult is the canonical record both extractors are normalized into.
// Pointer fields mean "not mentioned"; a nil Price is never the same as zero.
type ExtractionResult struct {
	// Identity
	Brand      *string `json:"brand,omitempty"`
	Model      *string `json:"model,omitempty"`
	Collection *string `json:"collection,omitempty"`
	Reference  *string `json:"reference,omitempty"`
	Year       *int    `json:"year,omitempty"`

	// Commercial
	Price      *float64  `json:"price,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	PriceType  PriceType `json:"price_type"`
	Negotiable *bool     `json:"negotiable,omitempty"`

	// Condition / physical
	Condition        Condition `json:"condition"`
	ConditionDetails *string   `json:"condition_details,omitempty"`
	Size             *string   `json:"size,omitempty"`
	Material         *string   `json:"material,omitempty"`
	DialColor        *string   `json:"dial_color,omitempty"`
	MovementType     *string   `json:"movement_type,omitempty"`
	Location         *string   `json:"location,omitempty"`

	// Accessories
	HasBox                *bool    `json:"has_box,omitempty"`
	HasPapers             *bool    `json:"has_papers,omitempty"`
	HasWarranty           *bool    `json:"has_warranty,omitempty"`
	Accessories           []string `json:"accessories,omitempty"`
	AuthenticityMentioned bool     `json:"authenticity_mentioned,omitempty"`

	// Classification
	MessageType      MessageType `json:"message_type"`
	UrgencyLevel     int         `json:"urgency_level"`
	SellerMotivation *string     `json:"seller_motivation,omitempty"`
	SentimentScore   float64     `json:"sentiment_score"`
	ConfidenceScore  float64     `json:"confidence_score"`
	Method           Method      `json:"extraction_method"`
	Reasoning        *string     `json:"reasoning,omitempty"`
	Segments         []string    `json:"segments,omitempty"`
}

// AnalyzedMessage is the record handed to the sink and to live clients:
// the original message, its canonical extraction, and an optional embedding.
type AnalyzedMessage struct {
	Message       RawMessage       `json:"message"`
	Result        ExtractionResult `json:"result"`
	EmbeddingJSON string           `json:"-"`
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 { return &f }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
