// Package config holds the typed configuration record for mailprobe.
//
// It replaces the dynamic "key -> interface{}" dictionaries common in
// scripting-language mail filters with a single struct, following the
// nested-struct-per-concern shape the teacher repo uses in its own
// pkg/config/config.go (Detection/Lists/Performance/Logging/... sections).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a configuration value is out of range or of
// the wrong type. It is fatal at startup (spec: ConfigInvalid).
type ErrInvalid struct {
	Key    string
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("config: invalid value for %q: %s", e.Key, e.Reason)
}

// Config is the full set of recognized mailprobe options (spec.md §3).
type Config struct {
	Scoring ScoringConfig `yaml:"scoring"`
	Tokens  TokenConfig   `yaml:"tokens"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Rules   RulesConfig   `yaml:"rules"`
	Milter  MilterConfig  `yaml:"milter"`
}

// ScoringConfig controls the Bayesian scorer (spec.md §4.4).
type ScoringConfig struct {
	MinTokenCount     int     `yaml:"min_token_count"`
	MaxDiscriminators int     `yaml:"max_discriminators"`
	MinDeviation      float64 `yaml:"min_deviation"`
	SpamThreshold     float64 `yaml:"spam_threshold"`
	TermsForGood      float64 `yaml:"terms_for_good"`
	TermsForSpam      float64 `yaml:"terms_for_spam"`
	MinProb           float64 `yaml:"min_prob"`
	MaxProb           float64 `yaml:"max_prob"`
	DefaultProb       float64 `yaml:"default_prob"`
}

// TokenConfig controls the tokenizer (spec.md §4.2).
type TokenConfig struct {
	PhraseLength    int  `yaml:"phrase_length"`
	ReplaceNonASCII bool `yaml:"replace_non_ascii"`
	IgnoreBody      bool `yaml:"ignore_body"`
	DetectLanguage  bool `yaml:"detect_language"`
}

// StoreConfig controls the TermStore (spec.md §4.3).
type StoreConfig struct {
	// Backend selects the persistence engine: "bolt" (default, embedded) or
	// "redis" (shared, network-backed). Mirrors the teacher's
	// Learning.Backend "file"/"redis" switch.
	Backend string `yaml:"backend"`

	Path string `yaml:"path"`

	CacheSize  int `yaml:"cache_size"`
	ExpiryDays int `yaml:"expiry_days"`

	LockTimeout time.Duration `yaml:"lock_timeout"`

	Redis RedisStoreConfig `yaml:"redis"`
}

// RedisStoreConfig configures the network-backed Store implementation.
type RedisStoreConfig struct {
	URL         string `yaml:"url"`
	KeyPrefix   string `yaml:"key_prefix"`
	DatabaseNum int    `yaml:"database_num"`
}

// LoggingConfig controls the injected logging sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	File   string `yaml:"file"`   // empty = stderr
	Format string `yaml:"format"` // json, console
}

// RulesConfig controls the optional Lua term-filter hook (pkg/rules).
type RulesConfig struct {
	ScriptPath string `yaml:"script_path"` // empty disables the hook
}

// MilterConfig controls the milter adapter (pkg/milter).
type MilterConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Network          string `yaml:"network"` // "tcp" or "unix"
	Address          string `yaml:"address"`
	AddSpamHeaders   bool   `yaml:"add_spam_headers"`
	SpamHeaderPrefix string `yaml:"spam_header_prefix"`
	TrainOnDeliver   bool   `yaml:"train_on_deliver"`
}

// DefaultConfig returns the "Graham" preset (spec.md §3 defaults).
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			MinTokenCount:     5,
			MaxDiscriminators: 27,
			MinDeviation:      0.1,
			SpamThreshold:     0.9,
			TermsForGood:      2,
			TermsForSpam:      1,
			MinProb:           0.0001,
			MaxProb:           0.9999,
			DefaultProb:       0.4,
		},
		Tokens: TokenConfig{
			PhraseLength:    2,
			ReplaceNonASCII: true,
			IgnoreBody:      false,
			DetectLanguage:  true,
		},
		Store: StoreConfig{
			Backend:     "bolt",
			Path:        defaultStorePath(),
			CacheSize:   2500,
			ExpiryDays:  7,
			LockTimeout: 5 * time.Second,
			Redis: RedisStoreConfig{
				URL:         "redis://localhost:6379",
				KeyPrefix:   "mailprobe",
				DatabaseNum: 0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Milter: MilterConfig{
			Network:          "tcp",
			Address:          "127.0.0.1:7357",
			AddSpamHeaders:   true,
			SpamHeaderPrefix: "X-Mailprobe-",
		},
	}
}

// ConservativePreset biases toward fewer false positives at the cost of
// missed spam (spec.md §3).
func ConservativePreset() *Config {
	c := DefaultConfig()
	c.Scoring.SpamThreshold = 0.95
	c.Scoring.TermsForGood = 5
	return c
}

// AggressivePreset biases toward catching more spam at the cost of more
// false positives (spec.md §3).
func AggressivePreset() *Config {
	c := DefaultConfig()
	c.Scoring.SpamThreshold = 0.7
	c.Scoring.TermsForGood = 1
	return c
}

// Preset resolves a named preset ("graham", "conservative", "aggressive").
func Preset(name string) (*Config, error) {
	switch name {
	case "", "graham":
		return DefaultConfig(), nil
	case "conservative":
		return ConservativePreset(), nil
	case "aggressive":
		return AggressivePreset(), nil
	default:
		return nil, &ErrInvalid{Key: "preset", Reason: fmt.Sprintf("unknown preset %q", name)}
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailprobe"
	}
	return home + "/.mailprobe"
}

// Load reads a YAML configuration file and applies it over base (the
// already-selected preset), then validates the result. Passing a nil base
// applies the file over the Graham defaults.
func Load(path string, base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the range constraints implied by spec.md §3. Any
// violation is a fatal ErrInvalid at startup.
func (c *Config) Validate() error {
	switch {
	case c.Scoring.MinTokenCount < 0:
		return &ErrInvalid{Key: "min_token_count", Reason: "must be >= 0"}
	case c.Scoring.MaxDiscriminators <= 0:
		return &ErrInvalid{Key: "max_discriminators", Reason: "must be > 0"}
	case c.Scoring.MinDeviation < 0 || c.Scoring.MinDeviation > 0.5:
		return &ErrInvalid{Key: "min_deviation", Reason: "must be in [0, 0.5]"}
	case c.Scoring.SpamThreshold <= 0 || c.Scoring.SpamThreshold > 1:
		return &ErrInvalid{Key: "spam_threshold", Reason: "must be in (0, 1]"}
	case c.Scoring.TermsForGood <= 0:
		return &ErrInvalid{Key: "terms_for_good", Reason: "must be > 0"}
	case c.Scoring.TermsForSpam <= 0:
		return &ErrInvalid{Key: "terms_for_spam", Reason: "must be > 0"}
	case c.Scoring.MinProb <= 0 || c.Scoring.MinProb >= c.Scoring.MaxProb:
		return &ErrInvalid{Key: "min_prob", Reason: "must be in (0, max_prob)"}
	case c.Scoring.MaxProb >= 1:
		return &ErrInvalid{Key: "max_prob", Reason: "must be < 1"}
	case c.Scoring.DefaultProb <= 0 || c.Scoring.DefaultProb >= 1:
		return &ErrInvalid{Key: "default_prob", Reason: "must be in (0, 1)"}
	case c.Tokens.PhraseLength < 1:
		return &ErrInvalid{Key: "phrase_length", Reason: "must be >= 1"}
	case c.Store.Backend != "bolt" && c.Store.Backend != "redis":
		return &ErrInvalid{Key: "store.backend", Reason: `must be "bolt" or "redis"`}
	case c.Store.CacheSize < 0:
		return &ErrInvalid{Key: "cache_size", Reason: "must be >= 0"}
	case c.Store.ExpiryDays < 0:
		return &ErrInvalid{Key: "expiry_days", Reason: "must be >= 0"}
	}
	return nil
}
