package extract

import (
	"reflect"
	"testing"

	"github.com/you/watchpipe/internal/core"
)

func TestNormalizeEnumAliases(t *testing.T) {
	cases := []struct {
		in   core.ExtractionResult
		typ  core.MessageType
		cond core.Condition
		pt   core.PriceType
	}{
		{core.ExtractionResult{MessageType: "vente", Condition: "mint", PriceType: "obo"},
			core.MessageSale, core.ConditionExcellent, core.PriceNegotiable},
		{core.ExtractionResult{MessageType: "price_check", Condition: "bnib", PriceType: "estimate"},
			core.MessageQuestion, core.ConditionNew, core.PriceUnspecified},
		{core.ExtractionResult{MessageType: "general", Condition: "", PriceType: ""},
			core.MessageOther, core.ConditionUnspecified, core.PriceUnspecified},
		{core.ExtractionResult{MessageType: "wtb", Condition: "pre-owned", PriceType: "vendu"},
			core.MessageWanted, core.ConditionUsed, core.PriceSold},
	}

	for _, tc := range cases {
		out, _ := Normalize(tc.in, core.MethodAI)
		if out.MessageType != tc.typ {
			t.Errorf("%q: message type = %q, want %q", tc.in.MessageType, out.MessageType, tc.typ)
		}
		if out.Condition != tc.cond {
			t.Errorf("%q: condition = %q, want %q", tc.in.Condition, out.Condition, tc.cond)
		}
		if out.PriceType != tc.pt {
			t.Errorf("%q: price type = %q, want %q", tc.in.PriceType, out.PriceType, tc.pt)
		}
	}
}

func TestNormalizeUnknownEnumsReportAnomalies(t *testing.T) {
	out, anomalies := Normalize(core.ExtractionResult{
		MessageType: "giveaway",
		Condition:   "parts-only",
		PriceType:   "auction",
	}, core.MethodAI)

	if out.MessageType != core.MessageOther {
		t.Fatalf("message type = %q", out.MessageType)
	}
	if out.Condition != core.ConditionUnspecified {
		t.Fatalf("condition = %q", out.Condition)
	}
	if out.PriceType != core.PriceUnspecified {
		t.Fatalf("price type = %q", out.PriceType)
	}
	if len(anomalies) != 3 {
		t.Fatalf("expected 3 anomalies, got %d: %+v", len(anomalies), anomalies)
	}
}

func TestNormalizeClamping(t *testing.T) {
	out, anomalies := Normalize(core.ExtractionResult{
		MessageType:     "sale",
		Condition:       "new",
		PriceType:       "asking",
		Price:           core.FloatPtr(-100),
		ConfidenceScore: 1.7,
		SentimentScore:  -3,
		UrgencyLevel:    9,
	}, core.MethodAI)

	if out.Price != nil {
		t.Fatalf("non-positive price should be dropped, got %v", *out.Price)
	}
	if out.ConfidenceScore != 1 {
		t.Fatalf("confidence = %v", out.ConfidenceScore)
	}
	if out.SentimentScore != -1 {
		t.Fatalf("sentiment = %v", out.SentimentScore)
	}
	if out.UrgencyLevel != 5 {
		t.Fatalf("urgency = %d", out.UrgencyLevel)
	}
	if len(anomalies) == 0 {
		t.Fatal("expected anomalies for clamped fields")
	}
}

func TestNormalizeCurrencyDefault(t *testing.T) {
	out, _ := Normalize(core.ExtractionResult{MessageType: "sale", Condition: "new", PriceType: "asking"}, core.MethodAI)
	if out.Currency != "EUR" {
		t.Fatalf("currency = %q, want EUR default", out.Currency)
	}

	out, _ = Normalize(core.ExtractionResult{MessageType: "sale", Condition: "new", PriceType: "asking", Currency: "CHF"}, core.MethodAI)
	if out.Currency != "CHF" {
		t.Fatalf("currency = %q, explicit value must survive", out.Currency)
	}
}

func TestNormalizeDerivesAccessories(t *testing.T) {
	out, _ := Normalize(core.ExtractionResult{
		MessageType: "sale",
		Condition:   "new",
		PriceType:   "asking",
		HasBox:      core.BoolPtr(true),
		HasPapers:   core.BoolPtr(true),
		Accessories: []string{"extra strap", "papers"},
	}, core.MethodAI)

	want := []string{"box", "papers", "extra strap"}
	if !reflect.DeepEqual(out.Accessories, want) {
		t.Fatalf("accessories = %v, want %v", out.Accessories, want)
	}
}

func TestNormalizeStampsMethod(t *testing.T) {
	out, _ := Normalize(core.ExtractionResult{MessageType: "sale", Condition: "new", PriceType: "asking"}, core.MethodDeterministic)
	if out.Method != core.MethodDeterministic {
		t.Fatalf("method = %q", out.Method)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first, _ := Normalize(core.ExtractionResult{
		MessageType:     "vente",
		Condition:       "mint",
		PriceType:       "obo",
		Price:           core.FloatPtr(1200),
		HasBox:          core.BoolPtr(true),
		Accessories:     []string{"travel pouch"},
		ConfidenceScore: 0.8,
	}, core.MethodAI)

	second, anomalies := Normalize(first, core.MethodAI)
	if len(anomalies) != 0 {
		t.Fatalf("normalizing canonical output produced anomalies: %+v", anomalies)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("not idempotent:\nfirst  %+v\nsecond %+v", first, second)
	}
}
