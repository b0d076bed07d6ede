// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the jobs service.
type ServiceConfig struct {
	Port               string
	MetricsPort        string
	APIKey             string
	ShutdownDrainWait  time.Duration // Time to wait for load balancer to drain (0 to skip)
	ShutdownJobWait    time.Duration // Time running jobs get to finish before they are cancelled
	DatabasePath       string        // SQLite file holding job records
	CreateRate         float64       // Job creation requests per second (0 disables the limit)
	CreateBurst        int
	LogLevel           string
	DiskMaxUsedPercent float64 // Artifacts volume usage above which readiness degrades
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:               GetEnv("PORT", "8080"),
		MetricsPort:        GetEnv("METRICS_PORT", "9090"),
		APIKey:             GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait:  GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownJobWait:    GetDurationEnv("SHUTDOWN_JOB_WAIT", 30*time.Second),
		DatabasePath:       GetEnv("DATABASE_PATH", "./jobs.db"),
		CreateRate:         GetFloatEnv("API_CREATE_RATE", 20),
		CreateBurst:        GetIntEnv("API_CREATE_BURST", 40),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		DiskMaxUsedPercent: GetFloatEnv("DISK_MAX_USED_PERCENT", 95),
	}
}
