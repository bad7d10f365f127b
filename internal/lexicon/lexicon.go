// Package lexicon holds the vocabularies the deterministic extractor matches
// against. The built-in default covers the common luxury brands; a YAML file
// can extend or replace it and is hot-reloadable at runtime.
package lexicon

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Lexicon is the full vocabulary set. Keyword maps are keyed by the canonical
// value they resolve to; all matching is case- and accent-insensitive.
type Lexicon struct {
	Brands       []string            `yaml:"brands"`
	Collections  map[string][]string `yaml:"collections"`
	Conditions   map[string][]string `yaml:"conditions"`
	Movements    map[string][]string `yaml:"movements"`
	Materials    map[string][]string `yaml:"materials"`
	DialColors   []string            `yaml:"dial_colors"`
	MessageTypes map[string][]string `yaml:"message_types"`
	Accessories  map[string][]string `yaml:"accessories"`
	PriceWords   []string            `yaml:"price_words"`
	UrgencyWords []string            `yaml:"urgency_words"`
	AuthWords    []string            `yaml:"authenticity_words"`
}

// Default returns the built-in vocabulary.
func Default() Lexicon {
	return Lexicon{
		Brands: []string{
			"Rolex", "Omega", "Seiko", "Casio", "Citizen", "Tissot",
			"Tag Heuer", "Breitling", "IWC", "Cartier", "Patek Philippe",
			"Audemars Piguet", "Vacheron Constantin", "Jaeger-LeCoultre",
			"Panerai", "Hublot", "Zenith", "Tudor", "Longines", "Hamilton",
			"Oris", "Frederique Constant", "Montblanc", "Baume Mercier",
			"Chopard", "Maurice Lacroix", "Mido", "Swatch", "Grand Seiko",
			"Nomos", "Sinn", "Bulgari", "Piaget", "Blancpain",
		},
		Collections: map[string][]string{
			"rolex": {"Submariner", "Daytona", "Datejust", "GMT Master", "Explorer", "Sea-Dweller", "Oyster Perpetual", "Day-Date"},
			"omega": {"Speedmaster", "Seamaster", "Constellation", "De Ville", "Aqua Terra"},
			"patek philippe": {"Nautilus", "Aquanaut", "Calatrava"},
			"audemars piguet": {"Royal Oak"},
			"tudor": {"Black Bay", "Pelagos"},
			"cartier": {"Tank", "Santos", "Ballon Bleu"},
			"seiko": {"Presage", "Prospex", "Turtle"},
		},
		Conditions: map[string][]string{
			"new":       {"neuf", "neuve", "new", "jamais porte", "unworn", "bnib", "brand new", "full set neuf"},
			"excellent": {"excellent", "tres bon etat", "excellent etat", "excellent condition", "mint", "comme neuf", "like new"},
			"good":      {"bon etat", "good condition", "bel etat", "bien conserve", "good shape"},
			"used":      {"occasion", "used", "porte", "worn", "pre-owned", "preowned", "seconde main"},
			"vintage":   {"vintage", "ancien", "ancienne", "annees 60", "annees 70"},
		},
		Movements: map[string][]string{
			"automatic": {"automatique", "automatic", "self-winding", "remontage automatique"},
			"quartz":    {"quartz", "electronique", "electronic"},
			"manual":    {"manuel", "manual", "mecanique", "mechanical", "hand-wind", "remontage manuel"},
		},
		Materials: map[string][]string{
			"steel":    {"acier", "steel", "stainless", "inox"},
			"gold":     {"or jaune", "or rose", "yellow gold", "rose gold", "gold", "or 18k"},
			"titanium": {"titane", "titanium"},
			"ceramic":  {"ceramique", "ceramic"},
			"platinum": {"platine", "platinum"},
		},
		DialColors: []string{
			"noir", "black", "blanc", "white", "bleu", "blue", "vert", "green",
			"gris", "grey", "silver", "argent", "champagne", "panda",
		},
		MessageTypes: map[string][]string{
			"sale":     {"vend", "vends", "a vendre", "en vente", "for sale", "selling", "je vends", "fs:", "wts"},
			"wanted":   {"cherche", "recherche", "wanted", "wtb", "looking for", "je cherche", "achat", "achete"},
			"trade":    {"echange", "trade", "swap", "troc", "wtt"},
			"question": {"question", "avis", "opinion", "help", "que pensez", "conseil"},
		},
		Accessories: map[string][]string{
			"box":      {"boite", "box", "ecrin", "coffret"},
			"papers":   {"papiers", "papers", "papier", "certificat", "facture", "carte de garantie"},
			"warranty": {"garantie", "warranty", "sous garantie"},
		},
		PriceWords:   []string{"prix", "price", "budget", "asking", "demande"},
		UrgencyWords: []string{"urgent", "rapidement", "vite", "asap", "aujourd'hui", "quick sale", "vente rapide"},
		AuthWords:    []string{"authentique", "authentic", "genuine", "certificat", "full set", "fullset"},
	}
}

// LoadFile reads a YAML lexicon. Empty sections fall back to the default.
func LoadFile(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("lexicon: read %s: %w", path, err)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("lexicon: parse %s: %w", path, err)
	}
	return merge(Default(), lex), nil
}

func merge(base, over Lexicon) Lexicon {
	if len(over.Brands) > 0 {
		base.Brands = over.Brands
	}
	if len(over.Collections) > 0 {
		base.Collections = over.Collections
	}
	if len(over.Conditions) > 0 {
		base.Conditions = over.Conditions
	}
	if len(over.Movements) > 0 {
		base.Movements = over.Movements
	}
	if len(over.Materials) > 0 {
		base.Materials = over.Materials
	}
	if len(over.DialColors) > 0 {
		base.DialColors = over.DialColors
	}
	if len(over.MessageTypes) > 0 {
		base.MessageTypes = over.MessageTypes
	}
	if len(over.Accessories) > 0 {
		base.Accessories = over.Accessories
	}
	if len(over.PriceWords) > 0 {
		base.PriceWords = over.PriceWords
	}
	if len(over.UrgencyWords) > 0 {
		base.UrgencyWords = over.UrgencyWords
	}
	if len(over.AuthWords) > 0 {
		base.AuthWords = over.AuthWords
	}
	return base
}

// BrandsByLength returns the brand list sorted longest first, so substring
// matching prefers "Patek Philippe" over "Patek".
func (l Lexicon) BrandsByLength() []string {
	out := append([]string(nil), l.Brands...)
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Store is a thread-safe holder for the active lexicon with file reload.
type Store struct {
	mu   sync.RWMutex
	path string
	lex  Lexicon
}

// NewStore builds a store seeded from path when non-empty, otherwise from the
// built-in default. A broken file falls back to the default.
func NewStore(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path), lex: Default()}
	if s.path == "" {
		return s, nil
	}
	lex, err := LoadFile(s.path)
	if err != nil {
		return s, err
	}
	s.lex = lex
	return s, nil
}

// Snapshot returns the active lexicon by value.
func (s *Store) Snapshot() Lexicon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lex
}

// Path returns the configured lexicon file path, empty when defaults are used.
func (s *Store) Path() string { return s.path }

// Reload re-reads the lexicon file and swaps it in atomically.
func (s *Store) Reload() (string, error) {
	if s.path == "" {
		return "", fmt.Errorf("lexicon: no file configured")
	}
	lex, err := LoadFile(s.path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.lex = lex
	s.mu.Unlock()
	return fmt.Sprintf("%d brands", len(lex.Brands)), nil
}
