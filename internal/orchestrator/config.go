package orchestrator

import (
	"jobengine/internal/config"
	"jobengine/internal/job"
	"time"
)

// Config holds executor configuration.
type Config struct {
	ArtifactsRoot   string        // host directory holding one subdirectory per job
	OutputDir       string        // artifact directory inside the container
	WorkingDir      string        // working directory inside the container
	MaxLogBytes     int           // tail kept in the job record
	CleanupTimeout  time.Duration // budget for extraction, removal and finalize after the run
	NetworkDisabled bool
}

// LoadConfigFromEnv loads executor configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		ArtifactsRoot:   config.GetEnv("ARTIFACTS_PATH", "/tmp/artifacts"),
		OutputDir:       config.GetEnv("CONTAINER_OUTPUT_DIR", "/tmp/output"),
		WorkingDir:      config.GetEnv("CONTAINER_WORKDIR", "/sim"),
		MaxLogBytes:     config.GetIntEnv("MAX_LOG_BYTES", job.DefaultMaxLogBytes),
		CleanupTimeout:  config.GetDurationEnv("CLEANUP_TIMEOUT", 2*time.Minute),
		NetworkDisabled: config.GetBoolEnv("CONTAINER_NETWORK_DISABLED", true),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
// NetworkDisabled has no zero-value default; callers building Config by hand choose it.
func (c Config) withDefaults() Config {
	if c.ArtifactsRoot == "" {
		c.ArtifactsRoot = "/tmp/artifacts"
	}
	if c.OutputDir == "" {
		c.OutputDir = "/tmp/output"
	}
	if c.WorkingDir == "" {
		c.WorkingDir = "/sim"
	}
	if c.MaxLogBytes <= 0 {
		c.MaxLogBytes = job.DefaultMaxLogBytes
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 2 * time.Minute
	}
	return c
}
