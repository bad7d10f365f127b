package httpapi

import (
	"net/url"
	"testing"
	"time"

	"github.com/you/watchpipe/internal/core"
)

func TestParseFiltersDefaults(t *testing.T) {
	f, err := ParseFilters(url.Values{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != defaultLimit {
		t.Fatalf("limit = %d", f.Limit)
	}
	if f.Order != OrderDesc {
		t.Fatalf("order = %q", f.Order)
	}
	if f.Since != nil || len(f.Types) != 0 || f.MinConfidence != 0 {
		t.Fatalf("unexpected non-zero filters: %+v", f)
	}
}

func TestParseFiltersLimit(t *testing.T) {
	f, err := ParseFilters(url.Values{"limit": {"5000"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != maxLimit {
		t.Fatalf("limit should clamp to %d, got %d", maxLimit, f.Limit)
	}

	for _, bad := range []string{"0", "-3", "abc"} {
		if _, err := ParseFilters(url.Values{"limit": {bad}}); err == nil {
			t.Fatalf("limit %q should be rejected", bad)
		}
	}
}

func TestParseFiltersOrder(t *testing.T) {
	f, err := ParseFilters(url.Values{"order": {"ASC"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Order != OrderAsc {
		t.Fatalf("order = %q", f.Order)
	}
	if _, err := ParseFilters(url.Values{"order": {"sideways"}}); err == nil {
		t.Fatal("bad order should be rejected")
	}
}

func TestParseFiltersTypeAliases(t *testing.T) {
	f, err := ParseFilters(url.Values{"type": {"fs,wtb", "trade"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []core.MessageType{core.MessageSale, core.MessageWanted, core.MessageTrade}
	if len(f.Types) != len(want) {
		t.Fatalf("types = %v", f.Types)
	}
	for i, mt := range want {
		if f.Types[i] != mt {
			t.Fatalf("types[%d] = %q, want %q", i, f.Types[i], mt)
		}
	}

	if _, err := ParseFilters(url.Values{"type": {"spam"}}); err == nil {
		t.Fatal("unknown type should be rejected")
	}
}

func TestParseFiltersSince(t *testing.T) {
	f, err := ParseFilters(url.Values{"since": {"2026-01-02T15:04:05Z"}})
	if err != nil {
		t.Fatalf("parse rfc3339: %v", err)
	}
	if f.Since == nil || f.Since.Year() != 2026 {
		t.Fatalf("since = %v", f.Since)
	}

	f, err = ParseFilters(url.Values{"since": {"1700000000"}})
	if err != nil {
		t.Fatalf("parse unix: %v", err)
	}
	if f.Since == nil || !f.Since.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("since = %v", f.Since)
	}

	f, err = ParseFilters(url.Values{"since": {"24h"}})
	if err != nil {
		t.Fatalf("parse duration: %v", err)
	}
	if f.Since == nil || time.Since(*f.Since) < 23*time.Hour {
		t.Fatalf("since = %v", f.Since)
	}

	if _, err := ParseFilters(url.Values{"since": {"yesterday"}}); err == nil {
		t.Fatal("bad since should be rejected")
	}
}

func TestParseFiltersMinConfidence(t *testing.T) {
	f, err := ParseFilters(url.Values{"min_confidence": {"0.8"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.MinConfidence != 0.8 {
		t.Fatalf("min_confidence = %v", f.MinConfidence)
	}
	for _, bad := range []string{"-0.1", "1.5", "high"} {
		if _, err := ParseFilters(url.Values{"min_confidence": {bad}}); err == nil {
			t.Fatalf("min_confidence %q should be rejected", bad)
		}
	}
}

func TestParseFiltersBrandAndGroupLowered(t *testing.T) {
	f, err := ParseFilters(url.Values{"brand": {"Rolex, OMEGA", "rolex"}, "group": {"Geneva Trading"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Brands) != 2 || f.Brands[0] != "rolex" || f.Brands[1] != "omega" {
		t.Fatalf("brands = %v", f.Brands)
	}
	if len(f.Groups) != 1 || f.Groups[0] != "geneva trading" {
		t.Fatalf("groups = %v", f.Groups)
	}
}

func analyzedFor(mt core.MessageType, brand string, conf float64, group string, ts time.Time) core.AnalyzedMessage {
	msg := core.AnalyzedMessage{
		Message: core.RawMessage{
			ID:        "m1",
			Text:      "text",
			GroupName: group,
			Ts:        ts,
		},
	}
	msg.Result.MessageType = mt
	msg.Result.ConfidenceScore = conf
	if brand != "" {
		msg.Result.Brand = core.StrPtr(brand)
	}
	return msg
}

func TestFiltersMatches(t *testing.T) {
	now := time.Now().UTC()
	msg := analyzedFor(core.MessageSale, "Rolex", 0.9, "Geneva Watch Trading", now)

	tests := []struct {
		name string
		f    Filters
		want bool
	}{
		{"empty matches", Filters{}, true},
		{"type match", Filters{Types: []core.MessageType{core.MessageSale}}, true},
		{"type miss", Filters{Types: []core.MessageType{core.MessageWanted}}, false},
		{"brand substring", Filters{Brands: []string{"role"}}, true},
		{"brand miss", Filters{Brands: []string{"omega"}}, false},
		{"group substring", Filters{Groups: []string{"geneva"}}, true},
		{"group miss", Filters{Groups: []string{"zurich"}}, false},
		{"confidence pass", Filters{MinConfidence: 0.5}, true},
		{"confidence fail", Filters{MinConfidence: 0.95}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(msg); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}

	since := now.Add(time.Hour)
	if (Filters{Since: &since}).Matches(msg) {
		t.Error("message older than since should not match")
	}

	noBrand := analyzedFor(core.MessageSale, "", 0.9, "g", now)
	if (Filters{Brands: []string{"rolex"}}).Matches(noBrand) {
		t.Error("brand filter must reject messages without a brand")
	}
}

func TestCloneForStreamDropsLimit(t *testing.T) {
	f := Filters{Limit: 50, Order: OrderAsc}
	c := f.CloneForStream()
	if c.Limit != 0 {
		t.Fatalf("limit = %d", c.Limit)
	}
	if c.Order != OrderAsc {
		t.Fatalf("order changed: %q", c.Order)
	}
}
