package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.quill/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Engine         Engine `toml:"engine"`
}

// Engine holds the tunables of the delivery and timeline engine. Zero
// values are replaced with defaults on load so components never see them.
type Engine struct {
	GroupingEnabled       bool `toml:"grouping_enabled"`
	MaxMessageLength      int  `toml:"max_message_length"`
	MaxRetryAttempts      int  `toml:"max_retry_attempts"`
	TypingDebounceMs      int  `toml:"typing_debounce_ms"`
	MaxResidentItems      int  `toml:"max_resident_items"`
	Overscan              int  `toml:"overscan"`
	NearBottomThresholdPx int  `toml:"near_bottom_threshold_px"`
}

// DefaultEngine returns the engine tunables with their documented defaults.
func DefaultEngine() Engine {
	return Engine{
		GroupingEnabled:       true,
		MaxMessageLength:      2000,
		MaxRetryAttempts:      3,
		TypingDebounceMs:      2500,
		MaxResidentItems:      5000,
		Overscan:              5,
		NearBottomThresholdPx: 100,
	}
}

// Default returns a fresh config with all defaults applied.
func Default() *Config {
	return &Config{Engine: DefaultEngine()}
}

// Load reads config from the given path and fills in defaults for any
// engine option left at its zero value. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Engine = cfg.Engine.withDefaults()
	// grouping_enabled defaults to true, which the zero value cannot express.
	if !md.IsDefined("engine", "grouping_enabled") {
		cfg.Engine.GroupingEnabled = true
	}
	return &cfg, nil
}

func (e Engine) withDefaults() Engine {
	def := DefaultEngine()
	if e.MaxMessageLength <= 0 {
		e.MaxMessageLength = def.MaxMessageLength
	}
	if e.MaxRetryAttempts <= 0 {
		e.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if e.TypingDebounceMs <= 0 {
		e.TypingDebounceMs = def.TypingDebounceMs
	}
	if e.MaxResidentItems <= 0 {
		e.MaxResidentItems = def.MaxResidentItems
	}
	if e.Overscan <= 0 {
		e.Overscan = def.Overscan
	}
	if e.NearBottomThresholdPx <= 0 {
		e.NearBottomThresholdPx = def.NearBottomThresholdPx
	}
	return e
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
