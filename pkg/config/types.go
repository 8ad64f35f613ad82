package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent parrot configuration stored as config.toml
// in the .parrot/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	Collector CollectorConfig `toml:"collector"`
	Learning  LearningConfig  `toml:"learning"`
	Quality   QualityConfig   `toml:"quality"`
	API       APIConfig       `toml:"api"`
	Events    EventsConfig    `toml:"events"`
}

// StorageConfig holds storage gateway settings.
type StorageConfig struct {
	// Backend selects the gateway: "sqlite", "postgres", or "memory".
	Backend     string `toml:"backend,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// CollectorConfig holds message buffer settings.
type CollectorConfig struct {
	CacheSizeLimit       int `toml:"cache_size_limit,omitempty"`
	FlushIntervalSeconds int `toml:"flush_interval_seconds,omitempty"`
}

// LearningConfig holds learning trigger settings.
type LearningConfig struct {
	// Strategy is one of "progressive", "batch", "realtime", "hybrid".
	Strategy        string `toml:"strategy,omitempty"`
	MinMessages     int    `toml:"min_messages,omitempty"`
	IntervalSeconds int    `toml:"interval_seconds,omitempty"`
}

// QualityConfig holds quality monitor thresholds.
type QualityConfig struct {
	MinSimilarity float64 `toml:"min_similarity,omitempty"`
	MinConfidence float64 `toml:"min_confidence,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventsConfig holds event publisher settings.
type EventsConfig struct {
	// Backend selects the publisher: "nop" or "kafka".
	Backend      string   `toml:"backend,omitempty"`
	KafkaBrokers []string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `toml:"kafka_topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intKey(get func(c *Config) *int, name string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.Itoa(*get(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func floatKey(get func(c *Config) *float64, name string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*get(c), 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*get(c) = f
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend": {
		get: func(c *Config) string { return c.Storage.Backend },
		set: func(c *Config, v string) error { c.Storage.Backend = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"collector.cache_size_limit": intKey(
		func(c *Config) *int { return &c.Collector.CacheSizeLimit },
		"collector.cache_size_limit",
	),
	"collector.flush_interval_seconds": intKey(
		func(c *Config) *int { return &c.Collector.FlushIntervalSeconds },
		"collector.flush_interval_seconds",
	),
	"learning.strategy": {
		get: func(c *Config) string { return c.Learning.Strategy },
		set: func(c *Config, v string) error { c.Learning.Strategy = v; return nil },
	},
	"learning.min_messages": intKey(
		func(c *Config) *int { return &c.Learning.MinMessages },
		"learning.min_messages",
	),
	"learning.interval_seconds": intKey(
		func(c *Config) *int { return &c.Learning.IntervalSeconds },
		"learning.interval_seconds",
	),
	"quality.min_similarity": floatKey(
		func(c *Config) *float64 { return &c.Quality.MinSimilarity },
		"quality.min_similarity",
	),
	"quality.min_confidence": floatKey(
		func(c *Config) *float64 { return &c.Quality.MinConfidence },
		"quality.min_confidence",
	),
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"events.backend": {
		get: func(c *Config) string { return c.Events.Backend },
		set: func(c *Config, v string) error { c.Events.Backend = v; return nil },
	},
	"events.kafka_brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.KafkaBrokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.KafkaBrokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Events.KafkaBrokers = append(c.Events.KafkaBrokers, b)
				}
			}
			return nil
		},
	},
	"events.kafka_topic": {
		get: func(c *Config) string { return c.Events.KafkaTopic },
		set: func(c *Config, v string) error { c.Events.KafkaTopic = v; return nil },
	},
}
