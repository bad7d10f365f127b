package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Sink    SinkConfig
	AI      AIConfig
	Cache   CacheConfig
	Embed   EmbedConfig
	Lexicon LexiconConfig
}

type SinkConfig struct {
	SQLite     SQLiteConfig
	BatchSize  int
	FlushMaxMS int
}

type SQLiteConfig struct {
	Path string
}

type AIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	TimeoutSecs int
}

type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	TTLHours   int
}

type EmbedConfig struct {
	Enabled bool
	Model   string
}

type LexiconConfig struct {
	Path string
}

const (
	defaultSQLitePath  = "watchpipe.db"
	defaultBatchSize   = 1
	defaultFlushMS     = 0
	defaultAIModel     = "gpt-4o-mini"
	defaultAITimeout   = 8
	defaultCacheMax    = 10000
	defaultCacheTTLHrs = 12
	defaultEmbedModel  = "text-embedding-3-small"
)

func Load() Config {
	cfg := Config{}

	cfg.Sink.SQLite.Path = strings.TrimSpace(os.Getenv("WATCHPIPE_SINK_SQLITE_PATH"))
	if cfg.Sink.SQLite.Path == "" {
		cfg.Sink.SQLite.Path = defaultSQLitePath
	}
	cfg.Sink.BatchSize = readInt("WATCHPIPE_SINK_BATCH_SIZE", defaultBatchSize)
	cfg.Sink.FlushMaxMS = readInt("WATCHPIPE_SINK_FLUSH_MAX_MS", defaultFlushMS)

	cfg.AI.APIKey = strings.TrimSpace(os.Getenv("WATCHPIPE_AI_API_KEY"))
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	cfg.AI.Model = strings.TrimSpace(os.Getenv("WATCHPIPE_AI_MODEL"))
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultAIModel
	}
	cfg.AI.BaseURL = strings.TrimSpace(os.Getenv("WATCHPIPE_AI_BASE_URL"))
	cfg.AI.TimeoutSecs = readInt("WATCHPIPE_AI_TIMEOUT_SECS", defaultAITimeout)

	cfg.Cache.Enabled = readBool("WATCHPIPE_CACHE_ENABLED", true)
	cfg.Cache.MaxEntries = readInt("WATCHPIPE_CACHE_MAX_ENTRIES", defaultCacheMax)
	cfg.Cache.TTLHours = readInt("WATCHPIPE_CACHE_TTL_HOURS", defaultCacheTTLHrs)

	cfg.Embed.Enabled = readBool("WATCHPIPE_EMBED_ENABLED", false)
	cfg.Embed.Model = strings.TrimSpace(os.Getenv("WATCHPIPE_EMBED_MODEL"))
	if cfg.Embed.Model == "" {
		cfg.Embed.Model = defaultEmbedModel
	}

	cfg.Lexicon.Path = strings.TrimSpace(os.Getenv("WATCHPIPE_LEXICON_PATH"))

	return cfg
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// AIEnabled reports whether the AI extractor should be constructed at all:
// the key is the switch, per the configuration contract.
func (c Config) AIEnabled() bool {
	return c.AI.APIKey != ""
}

func (c Config) AITimeout() time.Duration {
	if c.AI.TimeoutSecs <= 0 {
		return time.Duration(defaultAITimeout) * time.Second
	}
	return time.Duration(c.AI.TimeoutSecs) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	if c.Cache.TTLHours <= 0 {
		return time.Duration(defaultCacheTTLHrs) * time.Hour
	}
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"sink": map[string]any{
			"sqlite_path": c.Sink.SQLite.Path,
			"batch_size":  c.Sink.BatchSize,
			"flush_ms":    c.Sink.FlushMaxMS,
		},
		"ai": map[string]any{
			"enabled":      c.AIEnabled(),
			"api_key":      redactString(c.AI.APIKey),
			"model":        c.AI.Model,
			"base_url":     c.AI.BaseURL,
			"timeout_secs": c.AI.TimeoutSecs,
		},
		"cache": map[string]any{
			"enabled":     c.Cache.Enabled,
			"max_entries": c.Cache.MaxEntries,
			"ttl_hours":   c.Cache.TTLHours,
		},
		"embed": map[string]any{
			"enabled": c.Embed.Enabled,
			"model":   c.Embed.Model,
		},
		"lexicon": map[string]any{
			"path": c.Lexicon.Path,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

type Summary struct {
	SQLitePath string `json:"sqlite_path"`
	BatchSize  int    `json:"batch"`
	FlushMaxMS int    `json:"flush_ms"`
	AIEnabled  bool   `json:"ai_enabled"`
	AIModel    string `json:"ai_model"`
	Cache      bool   `json:"cache"`
	CacheMax   int    `json:"cache_max"`
	Lexicon    string `json:"lexicon,omitempty"`
}

func (c Config) Summary() Summary {
	return Summary{
		SQLitePath: c.Sink.SQLite.Path,
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		AIEnabled:  c.AIEnabled(),
		AIModel:    c.AI.Model,
		Cache:      c.Cache.Enabled,
		CacheMax:   c.Cache.MaxEntries,
		Lexicon:    c.Lexicon.Path,
	}
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
