package job

import (
	"jobengine/internal/config"
)

// Config holds defaults applied to newly created jobs.
type Config struct {
	DefaultImage       string  // image used when a request names none
	DefaultCPULimit    float64 // cores
	DefaultMemoryLimit string  // docker-style size, e.g. "512m"
	CommandBase        string  // prefix of derived commands
	MaxSweepSize       int     // maximum entries in one sweep
}

// LoadConfigFromEnv loads job defaults from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		DefaultImage:       config.GetEnv("DEFAULT_CONTAINER_IMAGE", "sim:local"),
		DefaultCPULimit:    config.GetFloatEnv("DEFAULT_CPU_LIMIT", 1.0),
		DefaultMemoryLimit: config.GetEnv("DEFAULT_MEMORY_LIMIT", "512m"),
		CommandBase:        config.GetEnv("DEFAULT_COMMAND_BASE", "python /sim/run_sim.py"),
		MaxSweepSize:       config.GetIntEnv("MAX_SWEEP_SIZE", 1000),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.DefaultImage == "" {
		c.DefaultImage = "sim:local"
	}
	if c.DefaultCPULimit <= 0 {
		c.DefaultCPULimit = 1.0
	}
	if c.DefaultMemoryLimit == "" {
		c.DefaultMemoryLimit = "512m"
	}
	if c.CommandBase == "" {
		c.CommandBase = "python /sim/run_sim.py"
	}
	if c.MaxSweepSize <= 0 {
		c.MaxSweepSize = 1000
	}
	return c
}
