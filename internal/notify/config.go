package notify

import (
	"jobengine/internal/config"
	"jobengine/pkg/backoff"
	"time"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultSource           = "jobengine/service"
	maxRetryAfter           = 10 * time.Second
)

var retryPolicy = backoff.Policy{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1}

// Config holds configuration for the status webhook.
type Config struct {
	URL         string        // webhook endpoint; empty disables notifications
	SigningKey  string        // HMAC key, empty = unsigned
	Events      []string      // event types to send, empty = all
	Source      string        // CloudEvent source attribute
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
}

// LoadConfigFromEnv loads webhook configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		URL:         config.GetEnv("EVENTS_URL", ""),
		SigningKey:  config.GetSecretFile(config.GetEnv("EVENTS_KEY_FILE", "")),
		Events:      config.GetListEnv("EVENTS_FILTER"),
		Source:      config.GetEnv("EVENTS_SOURCE", defaultSource),
		BufferSize:  config.GetIntEnv("EVENTS_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("EVENTS_WORKERS", 2),
		HTTPTimeout: config.GetDurationEnv("EVENTS_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// Enabled reports whether a webhook endpoint is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
