package reflux

import (
	"fmt"
	"os"
	"time"
)

// Config is the file form of the runtime options:
//
//	key_prefix: game.
//	store_path: save/prefs.yaml
//	watch: true
//	debounce: 250ms
//	error_history: 8
type Config struct {
	// KeyPrefix namespaces records in the store. Empty keeps DefaultKeyPrefix.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// StorePath selects a FileStore. Empty keeps the in-memory store.
	StorePath string `json:"store_path" yaml:"store_path"`

	// Codec is the record encoding: json (default, also "auto") or yaml ("yml").
	Codec string `json:"codec" yaml:"codec"`

	// Watch reloads persistent properties when the store file changes on disk.
	Watch bool `json:"watch" yaml:"watch"`

	// Debounce coalesces store file changes, as a Go duration string.
	Debounce string `json:"debounce" yaml:"debounce"`

	// ErrorHistory is the number of recent persistence errors retained.
	ErrorHistory int `json:"error_history" yaml:"error_history" validate:"gte=0,lte=1024"`

	// Source is stamped on events published without one.
	Source string `json:"source" yaml:"source" validate:"omitempty,max=128"`
}

// LoadConfig reads a YAML or JSON config file, detecting the format from
// its content, and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML or JSON config document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := unmarshal(data, &cfg, FormatAuto); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config's constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ParseFormat(c.Codec); err != nil {
		return fmt.Errorf("invalid config: codec: %w", err)
	}
	if c.Watch && c.StorePath == "" {
		return fmt.Errorf("invalid config: watch requires store_path")
	}
	if _, err := c.DebounceDuration(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DebounceDuration parses Debounce, returning DefaultDebounce when unset.
func (c Config) DebounceDuration() (time.Duration, error) {
	if c.Debounce == "" {
		return DefaultDebounce, nil
	}
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 0, fmt.Errorf("debounce: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("debounce: negative duration %s", d)
	}
	return d, nil
}

// RecordCodec returns the Codec named by Codec. Auto and unknown names
// write JSON.
func (c Config) RecordCodec() Codec {
	if f, _ := ParseFormat(c.Codec); f == FormatYAML {
		return YAMLCodec{}
	}
	return JSONCodec{}
}
