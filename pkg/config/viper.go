package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/parrotlabsco/parrot/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the PARROT_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (PARROT_API_LISTEN, PARROT_STORAGE_BACKEND, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: PARROT_API_LISTEN, PARROT_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("PARROT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// Collector
	v.SetDefault("collector.cache_size_limit", d.Collector.CacheSizeLimit)
	v.SetDefault("collector.flush_interval_seconds", d.Collector.FlushIntervalSeconds)

	// Learning
	v.SetDefault("learning.strategy", d.Learning.Strategy)
	v.SetDefault("learning.min_messages", d.Learning.MinMessages)
	v.SetDefault("learning.interval_seconds", d.Learning.IntervalSeconds)

	// Quality
	v.SetDefault("quality.min_similarity", d.Quality.MinSimilarity)
	v.SetDefault("quality.min_confidence", d.Quality.MinConfidence)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Events
	v.SetDefault("events.backend", d.Events.Backend)
	v.SetDefault("events.kafka_brokers", d.Events.KafkaBrokers)
	v.SetDefault("events.kafka_topic", d.Events.KafkaTopic)
}

// FromViper materializes a Config from the viper precedence chain and
// validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
		},
		Collector: CollectorConfig{
			CacheSizeLimit:       v.GetInt("collector.cache_size_limit"),
			FlushIntervalSeconds: v.GetInt("collector.flush_interval_seconds"),
		},
		Learning: LearningConfig{
			Strategy:        v.GetString("learning.strategy"),
			MinMessages:     v.GetInt("learning.min_messages"),
			IntervalSeconds: v.GetInt("learning.interval_seconds"),
		},
		Quality: QualityConfig{
			MinSimilarity: v.GetFloat64("quality.min_similarity"),
			MinConfidence: v.GetFloat64("quality.min_confidence"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Events: EventsConfig{
			Backend:      v.GetString("events.backend"),
			KafkaBrokers: v.GetStringSlice("events.kafka_brokers"),
			KafkaTopic:   v.GetString("events.kafka_topic"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
