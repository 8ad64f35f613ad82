package config

const (
	defaultStorageBackend = "sqlite"
	defaultSQLitePath     = "parrot.db"

	defaultCacheSizeLimit       = 100
	defaultFlushIntervalSeconds = 30

	defaultStrategy        = "progressive"
	defaultMinMessages     = 10
	defaultIntervalSeconds = 300

	defaultMinSimilarity = 0.5
	defaultMinConfidence = 0.3

	defaultAPIListen = ":8090"

	defaultEventsBackend = "nop"
	defaultKafkaTopic    = "parrot.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend:    defaultStorageBackend,
			SQLitePath: defaultSQLitePath,
		},
		Collector: CollectorConfig{
			CacheSizeLimit:       defaultCacheSizeLimit,
			FlushIntervalSeconds: defaultFlushIntervalSeconds,
		},
		Learning: LearningConfig{
			Strategy:        defaultStrategy,
			MinMessages:     defaultMinMessages,
			IntervalSeconds: defaultIntervalSeconds,
		},
		Quality: QualityConfig{
			MinSimilarity: defaultMinSimilarity,
			MinConfidence: defaultMinConfidence,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Backend:    defaultEventsBackend,
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
