package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/you/watchpipe/internal/core"
	"github.com/you/watchpipe/internal/lexicon"
)

// Rules is the deterministic extractor: vocabulary and pattern matching with
// bounded recall and no external dependency. It never returns an error; when
// nothing matches the result is message_type=other with confidence 0.
type Rules struct {
	lex *lexicon.Store
}

// NewRules builds a rule extractor over the given lexicon store.
func NewRules(lex *lexicon.Store) *Rules {
	return &Rules{lex: lex}
}

var accentFold = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c", "œ", "oe",
)

func fold(s string) string {
	return accentFold.Replace(strings.ToLower(s))
}

var (
	// Group 1 is always the amount. Patterns are matched against folded text,
	// so currency words are lowercase.
	pricePatterns = []struct {
		re       *regexp.Regexp
		currency string
	}{
		{regexp.MustCompile(`(\d{1,3}(?:[ .]\d{3})+|\d{1,6})\s*€`), "EUR"},
		{regexp.MustCompile(`€\s*(\d{1,3}(?:[ .]\d{3})+|\d{1,6})`), "EUR"},
		{regexp.MustCompile(`(\d{1,3}(?:[ .]\d{3})+|\d{1,6})\s*(?:eur|euros?)\b`), "EUR"},
		{regexp.MustCompile(`\$\s*(\d{1,3}(?:[ ,]\d{3})+|\d{1,6})`), "USD"},
		{regexp.MustCompile(`(\d{1,3}(?:[ ,]\d{3})+|\d{1,6})\s*(?:\$|usd|dollars?)`), "USD"},
		{regexp.MustCompile(`(\d{1,3}(?:[ .']\d{3})+|\d{1,6})\s*chf\b`), "CHF"},
		{regexp.MustCompile(`£\s*(\d{1,6})|(\d{1,6})\s*£`), "GBP"},
	}
	// Fallback: a bare number right after a price keyword, used only when no
	// currency-adjacent token matched. This keeps reference numbers and years
	// from being picked up as prices.
	priceKeywordRe = regexp.MustCompile(`(?:prix|price|budget|asking)\D{0,12}?(\d{1,6})\b`)

	refDottedRe       = regexp.MustCompile(`\b\d{3}(?:\.\d{2}){3}\b`)
	refDigitsAlphaRe  = regexp.MustCompile(`\b\d{4,6}[A-Za-z]{1,4}\b`)
	refAlphaDigitsRe  = regexp.MustCompile(`\b[A-Za-z]{2,4}\d{3,5}[A-Za-z]?\b`)
	yearRe            = regexp.MustCompile(`\b(19\d{2}|20[0-3]\d)\b`)
	sizeRe            = regexp.MustCompile(`\b(\d{2})\s*mm\b`)
	soldRe            = regexp.MustCompile(`\b(vendu|vendue|sold)\b`)
	negotiableRe      = regexp.MustCompile(`\b(negociable|negotiable|obo)\b`)
	tokenTrimCutset   = ",.;:!?()[]\"'"
	modelStopwords    = map[string]struct{}{}
	modelStopwordList = []string{
		"de", "du", "des", "avec", "pour", "et", "en", "sur", "a",
		"from", "with", "for", "and", "in",
		"budget", "max", "prix", "price", "etat", "condition",
		"vends", "vend", "cherche", "recherche", "vendu", "sold",
	}
)

func init() {
	for _, w := range modelStopwordList {
		modelStopwords[w] = struct{}{}
	}
}

// Extract implements Extractor. Metadata is accepted for interface parity and
// ignored; the rule extractor works from text alone.
func (r *Rules) Extract(_ context.Context, text string, _ core.ExtractionMetadata) (core.ExtractionResult, error) {
	lex := r.lex.Snapshot()
	folded := fold(text)

	res := core.ExtractionResult{
		Currency:    "EUR",
		PriceType:   core.PriceUnspecified,
		Condition:   core.ConditionUnspecified,
		MessageType: core.MessageOther,
		Method:      core.MethodDeterministic,
	}

	words := strings.Fields(text)
	foldedWords := make([]string, len(words))
	for i, w := range words {
		foldedWords[i] = strings.Trim(fold(w), tokenTrimCutset)
	}

	brand, afterBrand := matchBrand(foldedWords, lex)
	if brand != "" {
		res.Brand = core.StrPtr(brand)
		res.Segments = append(res.Segments, brand)
		model := extractModel(words, foldedWords, afterBrand)
		if model != "" {
			res.Model = core.StrPtr(model)
		}
		if col := matchCollection(folded, brand, lex); col != "" {
			res.Collection = core.StrPtr(col)
		}
	}

	if ref := extractReference(text); ref != "" {
		res.Reference = core.StrPtr(ref)
	}

	if amount, currency, raw := extractPrice(folded); amount > 0 {
		res.Price = core.FloatPtr(amount)
		res.Currency = currency
		res.PriceType = core.PriceAsking
		if soldRe.MatchString(folded) {
			res.PriceType = core.PriceSold
		} else if negotiableRe.MatchString(folded) {
			res.PriceType = core.PriceNegotiable
		}
		res.Segments = append(res.Segments, strings.TrimSpace(raw))
	}
	if negotiableRe.MatchString(folded) {
		res.Negotiable = core.BoolPtr(true)
	}

	if cond, kw := matchGrouped(folded, lex.Conditions, []string{"new", "excellent", "good", "vintage", "used"}); cond != "" {
		res.Condition = core.Condition(cond)
		res.Segments = append(res.Segments, kw)
	}
	if mov, _ := matchGrouped(folded, lex.Movements, []string{"automatic", "quartz", "manual"}); mov != "" {
		res.MovementType = core.StrPtr(mov)
	}
	if mat, _ := matchGrouped(folded, lex.Materials, []string{"steel", "gold", "titanium", "ceramic", "platinum"}); mat != "" {
		res.Material = core.StrPtr(mat)
	}
	for _, colour := range lex.DialColors {
		fc := fold(colour)
		if strings.Contains(folded, "cadran "+fc) || strings.Contains(folded, fc+" dial") || strings.Contains(folded, "dial "+fc) {
			res.DialColor = core.StrPtr(colour)
			break
		}
	}

	if m := sizeRe.FindStringSubmatch(folded); m != nil {
		res.Size = core.StrPtr(m[1] + "mm")
	}
	if m := yearRe.FindStringSubmatch(text); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			res.Year = core.IntPtr(y)
		}
	}

	for canonical, kws := range lex.Accessories {
		for _, kw := range kws {
			if strings.Contains(folded, fold(kw)) {
				switch canonical {
				case "box":
					res.HasBox = core.BoolPtr(true)
				case "papers":
					res.HasPapers = core.BoolPtr(true)
				case "warranty":
					res.HasWarranty = core.BoolPtr(true)
				}
				break
			}
		}
	}
	for _, kw := range lex.AuthWords {
		if strings.Contains(folded, fold(kw)) {
			res.AuthenticityMentioned = true
			break
		}
	}

	res.MessageType = classify(folded, lex)
	res.UrgencyLevel = urgency(folded, lex)
	res.ConfidenceScore = score(res)

	return res, nil
}

func matchBrand(foldedWords []string, lex lexicon.Lexicon) (string, int) {
	for _, brand := range lex.BrandsByLength() {
		parts := strings.Fields(fold(brand))
		for i := 0; i+len(parts) <= len(foldedWords); i++ {
			hit := true
			for j, p := range parts {
				if foldedWords[i+j] != p {
					hit = false
					break
				}
			}
			if hit {
				return brand, i + len(parts)
			}
		}
	}
	return "", 0
}

// extractModel takes up to three clean words following the brand, stopping at
// punctuation, digits (reference/year territory), or known non-model words.
func extractModel(words, foldedWords []string, start int) string {
	var out []string
	for i := start; i < len(words) && len(out) < 3; i++ {
		fw := foldedWords[i]
		if fw == "" {
			break
		}
		if strings.ContainsAny(fw, "0123456789") {
			break
		}
		if _, skip := modelStopwords[fw]; skip {
			break
		}
		trimmed := strings.Trim(words[i], tokenTrimCutset)
		out = append(out, trimmed)
		if trimmed != words[i] && strings.ContainsAny(words[i][len(words[i])-1:], tokenTrimCutset) {
			break
		}
	}
	return strings.Join(out, " ")
}

func matchCollection(folded, brand string, lex lexicon.Lexicon) string {
	for _, col := range lex.Collections[fold(brand)] {
		if strings.Contains(folded, fold(col)) {
			return col
		}
	}
	return ""
}

func extractReference(text string) string {
	if m := refDottedRe.FindString(text); m != "" {
		return m
	}
	if m := refDigitsAlphaRe.FindString(text); m != "" {
		return m
	}
	if m := refAlphaDigitsRe.FindString(text); m != "" {
		return strings.ToUpper(m)
	}
	return ""
}

func extractPrice(folded string) (float64, string, string) {
	for _, p := range pricePatterns {
		m := p.re.FindStringSubmatch(folded)
		if m == nil {
			continue
		}
		raw := m[1]
		if raw == "" && len(m) > 2 {
			raw = m[2]
		}
		if amount := parseAmount(raw); amount > 0 {
			return amount, p.currency, m[0]
		}
	}
	if m := priceKeywordRe.FindStringSubmatch(folded); m != nil {
		if amount := parseAmount(m[1]); amount > 0 {
			return amount, "EUR", m[0]
		}
	}
	return 0, "EUR", ""
}

func parseAmount(raw string) float64 {
	cleaned := strings.NewReplacer(" ", "", ".", "", ",", "", "'", "").Replace(raw)
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return amount
}

// matchGrouped searches keyword groups in a fixed order so overlapping
// keywords ("jamais porte" vs "porte") resolve deterministically.
func matchGrouped(folded string, groups map[string][]string, order []string) (string, string) {
	for _, canonical := range order {
		for _, kw := range groups[canonical] {
			if strings.Contains(folded, fold(kw)) {
				return canonical, kw
			}
		}
	}
	return "", ""
}

func classify(folded string, lex lexicon.Lexicon) core.MessageType {
	for _, pair := range []struct {
		key string
		typ core.MessageType
	}{
		{"sale", core.MessageSale},
		{"wanted", core.MessageWanted},
		{"trade", core.MessageTrade},
		{"question", core.MessageQuestion},
	} {
		for _, kw := range lex.MessageTypes[pair.key] {
			if strings.Contains(folded, fold(kw)) {
				return pair.typ
			}
		}
	}
	if strings.Contains(folded, "?") {
		return core.MessageQuestion
	}
	return core.MessageOther
}

func urgency(folded string, lex lexicon.Lexicon) int {
	n := 0
	for _, kw := range lex.UrgencyWords {
		if strings.Contains(folded, fold(kw)) {
			n++
		}
	}
	switch {
	case n == 0:
		return 0
	case n == 1:
		return 3
	default:
		return 5
	}
}

// score is a fixed function of how many field categories matched.
func score(res core.ExtractionResult) float64 {
	s := 0.0
	if res.Brand != nil {
		s += 0.3
	}
	if res.Model != nil {
		s += 0.2
	}
	if res.Price != nil {
		s += 0.2
	}
	if res.Condition != core.ConditionUnspecified {
		s += 0.1
	}
	if res.Year != nil {
		s += 0.1
	}
	if res.Size != nil {
		s += 0.05
	}
	if res.Reference != nil {
		s += 0.05
	}
	if s > 1.0 {
		s = 1.0
	}
	return s
}
