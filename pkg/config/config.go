package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/parrotlabsco/parrot/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .parrot/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the list of all supported configuration key names
// in a stable, logical order matching the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.backend",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"collector.cache_size_limit",
		"collector.flush_interval_seconds",
		"learning.strategy",
		"learning.min_messages",
		"learning.interval_seconds",
		"quality.min_similarity",
		"quality.min_confidence",
		"api.listen",
		"events.backend",
		"events.kafka_brokers",
		"events.kafka_topic",
	}

	// Sanity: only return keys that actually exist in the map, then append
	// any map keys the ordered list missed.
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .parrot/
// directory. If the file does not exist, returns NewDefaultConfig() so callers
// always receive a fully-populated Config. Fields explicitly set in the file
// override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.Collector.CacheSizeLimit == 0 {
		cfg.Collector.CacheSizeLimit = defaults.Collector.CacheSizeLimit
	}
	if cfg.Collector.FlushIntervalSeconds == 0 {
		cfg.Collector.FlushIntervalSeconds = defaults.Collector.FlushIntervalSeconds
	}

	if cfg.Learning.Strategy == "" {
		cfg.Learning.Strategy = defaults.Learning.Strategy
	}
	if cfg.Learning.MinMessages == 0 {
		cfg.Learning.MinMessages = defaults.Learning.MinMessages
	}
	if cfg.Learning.IntervalSeconds == 0 {
		cfg.Learning.IntervalSeconds = defaults.Learning.IntervalSeconds
	}

	if cfg.Quality.MinSimilarity == 0 {
		cfg.Quality.MinSimilarity = defaults.Quality.MinSimilarity
	}
	if cfg.Quality.MinConfidence == 0 {
		cfg.Quality.MinConfidence = defaults.Quality.MinConfidence
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Events.Backend == "" {
		cfg.Events.Backend = defaults.Events.Backend
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = defaults.Events.KafkaTopic
	}
}

// Validate checks type and range constraints. Called at load only; runtime
// components trust a validated Config.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required for the postgres backend")
	}

	switch c.Learning.Strategy {
	case "progressive", "batch", "realtime", "hybrid":
	default:
		return fmt.Errorf("unknown learning strategy %q", c.Learning.Strategy)
	}

	if c.Collector.CacheSizeLimit < 0 || c.Collector.FlushIntervalSeconds < 0 {
		return errors.New("collector limits must not be negative")
	}

	if c.Quality.MinSimilarity < 0 || c.Quality.MinSimilarity > 1 {
		return fmt.Errorf("quality.min_similarity %v out of range [0,1]", c.Quality.MinSimilarity)
	}
	if c.Quality.MinConfidence < 0 || c.Quality.MinConfidence > 1 {
		return fmt.Errorf("quality.min_confidence %v out of range [0,1]", c.Quality.MinConfidence)
	}

	switch c.Events.Backend {
	case "nop", "kafka":
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}

	if c.Events.Backend == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		return errors.New("events.kafka_brokers is required for the kafka backend")
	}

	return nil
}

// SaveConfig persists the configuration to config.toml in the target .parrot/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
