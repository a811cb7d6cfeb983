package config

import "time"

// Config holds all runtime configuration for the killmail service.
// Every knob is backed by an environment variable; defaults match the
// values the service ships with.
type Config struct {
	Port     string
	Host     string
	Headless bool

	Cache        CacheConfig
	Stream       StreamConfig
	Storage      StorageConfig
	Enrichment   EnrichmentConfig
	Subscription SubscriptionConfig
	Monitoring   MonitoringConfig
	Webhook      WebhookConfig
	ESI          ESIConfig
}

// CacheConfig controls TTLs per cache namespace and sweeper pacing.
type CacheConfig struct {
	KillmailsTTL           time.Duration
	SystemTTL              time.Duration
	ESITTL                 time.Duration // characters, corporations, alliances, ship types
	CharacterExtractionTTL time.Duration
	SweepInterval          time.Duration
	MaxEntries             int
}

// StreamConfig controls the upstream queue poller pacing.
type StreamConfig struct {
	Endpoint     string
	FastInterval time.Duration
	IdleInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PollTimeout  time.Duration
	CutoffAge    time.Duration
}

// StorageConfig controls the in-memory event store.
type StorageConfig struct {
	EnableEventStreaming bool
	GCInterval           time.Duration
	MaxEventsPerSystem   int
}

// EnrichmentConfig controls the batched metadata resolver.
type EnrichmentConfig struct {
	MaxConcurrency int
	MaxRetries     int
	RetryBase      time.Duration
	RetryFactor    float64
}

// SubscriptionConfig bounds subscription filters and worker inboxes.
type SubscriptionConfig struct {
	MaxSystems    int
	MaxCharacters int
	InboxSize     int
	DrainTimeout  time.Duration
	SweepInterval time.Duration
}

// MonitoringConfig controls the periodic status report.
type MonitoringConfig struct {
	StatusInterval time.Duration
}

// WebhookConfig controls outbound callback delivery.
type WebhookConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryBase   time.Duration
	RetryFactor float64
}

// ESIConfig points at the upstream metadata API.
type ESIConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Load reads the full configuration from the environment.
func Load() *Config {
	return &Config{
		Port:     GetEnv("PORT", "4004"),
		Host:     GetEnv("HOST", "0.0.0.0"),
		Headless: GetBoolEnv("HEADLESS", false),
		Cache: CacheConfig{
			KillmailsTTL:           GetDurationEnv("CACHE_KILLMAILS_TTL", 5*time.Minute),
			SystemTTL:              GetDurationEnv("CACHE_SYSTEM_TTL", time.Hour),
			ESITTL:                 GetDurationEnv("CACHE_ESI_TTL", 24*time.Hour),
			CharacterExtractionTTL: GetDurationEnv("CACHE_CHARACTER_EXTRACTION_TTL", 5*time.Minute),
			SweepInterval:          GetDurationEnv("CACHE_SWEEP_INTERVAL", time.Minute),
			MaxEntries:             GetIntEnv("CACHE_MAX_ENTRIES", 100_000),
		},
		Stream: StreamConfig{
			Endpoint:     GetEnv("STREAM_ENDPOINT", "https://zkillredisq.stream/listen.php"),
			FastInterval: GetDurationEnv("STREAM_FAST_INTERVAL_MS", time.Second),
			IdleInterval: GetDurationEnv("STREAM_IDLE_INTERVAL_MS", 5*time.Second),
			BackoffBase:  GetDurationEnv("STREAM_BACKOFF_BASE_MS", 5*time.Second),
			BackoffMax:   GetDurationEnv("STREAM_BACKOFF_MAX_MS", 60*time.Second),
			PollTimeout:  GetDurationEnv("STREAM_POLL_TIMEOUT", 30*time.Second),
			CutoffAge:    GetDurationEnv("STREAM_CUTOFF_AGE", time.Hour),
		},
		Storage: StorageConfig{
			EnableEventStreaming: GetBoolEnv("STORAGE_ENABLE_EVENT_STREAMING", true),
			GCInterval:           GetDurationEnv("STORAGE_GC_INTERVAL_MS", time.Minute),
			MaxEventsPerSystem:   GetIntEnv("STORAGE_MAX_EVENTS_PER_SYSTEM", 10_000),
		},
		Enrichment: EnrichmentConfig{
			MaxConcurrency: GetIntEnv("ENRICHMENT_MAX_CONCURRENCY", 10),
			MaxRetries:     GetIntEnv("ENRICHMENT_RETRY_MAX_RETRIES", 3),
			RetryBase:      GetDurationEnv("ENRICHMENT_RETRY_BASE_MS", time.Second),
			RetryFactor:    2.0,
		},
		Subscription: SubscriptionConfig{
			MaxSystems:    GetIntEnv("SUBSCRIPTION_MAX_SYSTEMS", 100),
			MaxCharacters: GetIntEnv("SUBSCRIPTION_MAX_CHARACTERS", 1000),
			InboxSize:     GetIntEnv("SUBSCRIPTION_INBOX_SIZE", 256),
			DrainTimeout:  GetDurationEnv("SUBSCRIPTION_DRAIN_TIMEOUT_MS", time.Second),
			SweepInterval: GetDurationEnv("SUBSCRIPTION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Monitoring: MonitoringConfig{
			StatusInterval: GetDurationEnv("MONITORING_STATUS_INTERVAL_MS", time.Minute),
		},
		Webhook: WebhookConfig{
			Timeout:     GetDurationEnv("WEBHOOK_TIMEOUT", 5*time.Second),
			MaxRetries:  GetIntEnv("WEBHOOK_MAX_RETRIES", 3),
			RetryBase:   GetDurationEnv("WEBHOOK_RETRY_BASE_MS", time.Second),
			RetryFactor: 2.0,
		},
		ESI: ESIConfig{
			BaseURL:   GetEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"),
			UserAgent: GetEnv("ESI_USER_AGENT", "wanderer-kills/1.0"),
			Timeout:   GetDurationEnv("ESI_TIMEOUT", 30*time.Second),
		},
	}
}
