package extract

import "github.com/you/watchpipe/internal/core"

// Anomaly notes an out-of-range or unrecognized value the Normalizer had to
// clamp or remap. Anomalies are informational; they never fail normalization.
type Anomaly struct {
	Field string
	Value string
}

// Enum spellings the extractors (and the hosted model) are known to emit,
// mapped onto the canonical sets. Unrecognized values map to other/unspecified.
var (
	messageTypeAliases = map[string]core.MessageType{
		"sale": core.MessageSale, "vente": core.MessageSale, "selling": core.MessageSale,
		"wanted": core.MessageWanted, "recherche": core.MessageWanted, "wtb": core.MessageWanted,
		"question": core.MessageQuestion, "price_check": core.MessageQuestion,
		"trade": core.MessageTrade, "swap": core.MessageTrade, "echange": core.MessageTrade,
		"other": core.MessageOther, "general": core.MessageOther,
	}
	conditionAliases = map[string]core.Condition{
		"new": core.ConditionNew, "neuf": core.ConditionNew, "bnib": core.ConditionNew, "unworn": core.ConditionNew,
		"excellent": core.ConditionExcellent, "mint": core.ConditionExcellent, "like new": core.ConditionExcellent,
		"good": core.ConditionGood, "bon": core.ConditionGood,
		"used": core.ConditionUsed, "occasion": core.ConditionUsed, "worn": core.ConditionUsed, "pre-owned": core.ConditionUsed,
		"vintage": core.ConditionVintage,
		"unspecified": core.ConditionUnspecified, "": core.ConditionUnspecified,
	}
	priceTypeAliases = map[string]core.PriceType{
		"asking": core.PriceAsking, "sold": core.PriceSold, "vendu": core.PriceSold,
		"negotiable": core.PriceNegotiable, "negociable": core.PriceNegotiable, "obo": core.PriceNegotiable,
		"unspecified": core.PriceUnspecified, "estimate": core.PriceUnspecified, "": core.PriceUnspecified,
	}
)

// Normalize maps a raw extractor result onto the canonical schema: clamps
// numeric ranges, resolves enum spellings, derives the accessories list from
// the boolean flags, and stamps the extraction method. It is pure and
// idempotent; malformed input is fixed in place, never rejected.
func Normalize(res core.ExtractionResult, method core.Method) (core.ExtractionResult, []Anomaly) {
	var anomalies []Anomaly

	if mt, ok := messageTypeAliases[string(res.MessageType)]; ok {
		res.MessageType = mt
	} else {
		anomalies = append(anomalies, Anomaly{Field: "message_type", Value: string(res.MessageType)})
		res.MessageType = core.MessageOther
	}

	if c, ok := conditionAliases[string(res.Condition)]; ok {
		res.Condition = c
	} else {
		anomalies = append(anomalies, Anomaly{Field: "condition", Value: string(res.Condition)})
		res.Condition = core.ConditionUnspecified
	}

	if pt, ok := priceTypeAliases[string(res.PriceType)]; ok {
		res.PriceType = pt
	} else {
		anomalies = append(anomalies, Anomaly{Field: "price_type", Value: string(res.PriceType)})
		res.PriceType = core.PriceUnspecified
	}

	if res.Price != nil && *res.Price <= 0 {
		anomalies = append(anomalies, Anomaly{Field: "price", Value: "non-positive"})
		res.Price = nil
	}
	if res.Currency == "" {
		res.Currency = "EUR"
	}

	if res.ConfidenceScore < 0 || res.ConfidenceScore > 1 {
		anomalies = append(anomalies, Anomaly{Field: "confidence_score", Value: "out of range"})
		res.ConfidenceScore = clamp(res.ConfidenceScore, 0, 1)
	}
	if res.SentimentScore < -1 || res.SentimentScore > 1 {
		anomalies = append(anomalies, Anomaly{Field: "sentiment_score", Value: "out of range"})
		res.SentimentScore = clamp(res.SentimentScore, -1, 1)
	}
	if res.UrgencyLevel < 0 {
		res.UrgencyLevel = 0
	} else if res.UrgencyLevel > 5 {
		res.UrgencyLevel = 5
	}

	res.Accessories = deriveAccessories(res)
	res.Method = method

	return res, anomalies
}

// deriveAccessories unions the flag-derived names with whatever list the
// extractor already produced, preserving order and dropping duplicates.
func deriveAccessories(res core.ExtractionResult) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if res.HasBox != nil && *res.HasBox {
		add("box")
	}
	if res.HasPapers != nil && *res.HasPapers {
		add("papers")
	}
	if res.HasWarranty != nil && *res.HasWarranty {
		add("warranty")
	}
	for _, extra := range res.Accessories {
		if extra != "" {
			add(extra)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
