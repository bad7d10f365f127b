package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/watchpipe/internal/core"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order represents the chronological order to use when listing messages.
type Order string

const (
	// OrderDesc returns messages newest first.
	OrderDesc Order = "desc"
	// OrderAsc returns messages oldest first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for analyzed message lookups.
type Filters struct {
	Types         []core.MessageType
	Brands        []string
	Groups        []string
	MinConfidence float64
	Since         *time.Time
	Limit         int
	Order         Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	if raw := values.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return Filters{}, errors.New("min_confidence must be in [0,1]")
		}
		f.MinConfidence = v
	}

	if types := collect(values, "type"); len(types) > 0 {
		seen := make(map[core.MessageType]struct{})
		for _, raw := range types {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(strings.ToLower(part))
				if part == "" {
					continue
				}
				mt, ok := normalizeType(part)
				if !ok {
					return Filters{}, errors.New("invalid type filter")
				}
				if _, exists := seen[mt]; !exists {
					f.Types = append(f.Types, mt)
					seen[mt] = struct{}{}
				}
			}
		}
	}

	f.Brands = collectLowered(values, "brand")
	f.Groups = collectLowered(values, "group")

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func collect(values url.Values, key string) []string {
	out := values[key]
	if out == nil {
		return nil
	}
	return out
}

func collectLowered(values url.Values, key string) []string {
	raws := collect(values, key)
	if len(raws) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range raws {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lowered := strings.ToLower(part)
			if _, exists := seen[lowered]; !exists {
				out = append(out, lowered)
				seen[lowered] = struct{}{}
			}
		}
	}
	return out
}

func normalizeType(raw string) (core.MessageType, bool) {
	switch raw {
	case "sale", "sell", "fs":
		return core.MessageSale, true
	case "wanted", "wtb":
		return core.MessageWanted, true
	case "question":
		return core.MessageQuestion, true
	case "trade", "wtt":
		return core.MessageTrade, true
	case "other":
		return core.MessageOther, true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the provided analyzed message satisfies the filters.
func (f Filters) Matches(msg core.AnalyzedMessage) bool {
	if len(f.Types) > 0 {
		match := false
		for _, mt := range f.Types {
			if msg.Result.MessageType == mt {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Brands) > 0 {
		brand := ""
		if msg.Result.Brand != nil {
			brand = strings.ToLower(*msg.Result.Brand)
		}
		match := false
		for _, b := range f.Brands {
			if brand != "" && strings.Contains(brand, b) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Groups) > 0 {
		group := strings.ToLower(msg.Message.GroupName)
		match := false
		for _, g := range f.Groups {
			if strings.Contains(group, g) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.MinConfidence > 0 && msg.Result.ConfidenceScore < f.MinConfidence {
		return false
	}

	if f.Since != nil {
		since := f.Since.UTC()
		if msg.Message.Ts.Before(since) {
			return false
		}
	}

	return true
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	return f
}
