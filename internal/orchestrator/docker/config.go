package docker

import (
	"jobengine/internal/config"
	"time"
)

// Config holds configuration for the Docker runtime.
type Config struct {
	PullMissing bool          // pull images that are not present locally
	StopTimeout time.Duration // grace period between SIGTERM and SIGKILL
}

// LoadConfigFromEnv loads Docker runtime configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		PullMissing: config.GetBoolEnv("DOCKER_PULL_MISSING", true),
		StopTimeout: config.GetDurationEnv("DOCKER_STOP_TIMEOUT", 10*time.Second),
	}
}
