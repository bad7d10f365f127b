package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/you/watchpipe/internal/core"
)

const systemPrompt = `You are an expert in horology and the secondhand luxury watch market. You extract structured information about watches from short chat messages, mostly French, often with typos, slang, and abbreviations (wts, wtb, bnib, full set, obo).

Rules:
- Extract every piece of watch information available in the message.
- Recognize exact references (116610LN, 311.30.42.30) and popular nicknames (Hulk, Panda, Pepsi).
- Classify the message intent and score your own confidence.
- When a value is not clearly stated, use null. Never guess.
- Respond with a single valid JSON object and nothing else.`

// buildUserPrompt embeds the message, the sender context, and an explicit
// output-schema instruction so the response is machine-parseable.
func buildUserPrompt(text string, meta core.ExtractionMetadata) string {
	var b strings.Builder
	b.WriteString("Analyze this chat message and extract all watch information.\n\nMESSAGE:\n")
	b.WriteString(text)
	b.WriteString("\n")

	if meta.SenderName != "" || meta.IsGroupMessage || len(meta.IntentSignals) > 0 {
		b.WriteString("\nCONTEXT:\n")
		if meta.SenderName != "" {
			fmt.Fprintf(&b, "- sender: %s\n", meta.SenderName)
		}
		fmt.Fprintf(&b, "- group message: %t\n", meta.IsGroupMessage)
		if len(meta.IntentSignals) > 0 {
			keys := make([]string, 0, len(meta.IntentSignals))
			for k := range meta.IntentSignals {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, fmt.Sprintf("%s=%.2f", k, meta.IntentSignals[k]))
			}
			fmt.Fprintf(&b, "- intent signals: %s\n", strings.Join(pairs, ", "))
		}
	}

	b.WriteString(`
Respond with JSON in exactly this structure:
{
  "watch_details": {
    "brand": "exact brand or null",
    "model": "full model name or null",
    "reference": "technical reference or null",
    "collection": "collection/line (e.g. Submariner) or null",
    "price": number_or_null,
    "currency": "EUR/USD/CHF/GBP",
    "price_type": "asking/sold/negotiable or null",
    "condition": "new/excellent/good/used/vintage or null",
    "condition_details": "free text about condition or null",
    "year": number_or_null,
    "size": "e.g. 40mm, or null",
    "movement_type": "automatic/quartz/manual or null",
    "material": "main material or null",
    "dial_color": "dial colour or null"
  },
  "accessories": {
    "has_box": true/false/null,
    "has_papers": true/false/null,
    "has_warranty": true/false/null,
    "authenticity_mentioned": true/false,
    "accessories_list": ["list", "of", "accessories"]
  },
  "sale_info": {
    "message_type": "sale/wanted/question/trade/other",
    "location": "mentioned place or null",
    "urgency_level": 0-5,
    "negotiable": true/false/null,
    "seller_motivation": "urgent/flexible/firm or null",
    "sentiment_score": -1.0 to 1.0
  },
  "extraction_metadata": {
    "confidence_score": 0.0-1.0,
    "extracted_segments": ["text", "segments", "used"],
    "reasoning": "short explanation of your choices"
  }
}

Important:
- prices are bare numbers, without currency symbols
- confidence_score: 0.8+ when certain, 0.5-0.8 when probable, below 0.5 when unsure
- message_type: "sale" when selling, "wanted" when searching, "question" for info requests, "trade" for swaps, "other" otherwise
`)
	return b.String()
}
