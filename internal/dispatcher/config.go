package dispatcher

import (
	"jobengine/internal/config"
	"time"
)

// Hardcoded retry defaults - these rarely need tuning.
const (
	defaultMaxBackoff        = 30 * time.Second
	defaultQueueReportPeriod = 5 * time.Second
	retryJitter              = 0.2
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize   int           // pending job ids buffer (default: 10000)
	Workers      int           // jobs supervised concurrently (default: 4)
	JobTimeout   time.Duration // hard limit per executor invocation (default: 1h)
	MaxAttempts  int           // invocations per delivery before giving up (default: 3)
	RetryBackoff time.Duration // delay before the first retry, doubled per attempt (default: 1s)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:   config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 10000),
		Workers:      config.GetIntEnv("DISPATCHER_WORKERS", 4),
		JobTimeout:   config.GetDurationEnv("MAX_JOB_TIMEOUT", time.Hour),
		MaxAttempts:  config.GetIntEnv("DISPATCHER_MAX_ATTEMPTS", 3),
		RetryBackoff: config.GetDurationEnv("DISPATCHER_RETRY_BACKOFF", time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}
