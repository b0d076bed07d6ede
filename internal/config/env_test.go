package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if got := GetEnv("TEST_NONEXISTENT_VAR", "default"); got != "default" {
		t.Errorf("Expected 'default', got %q", got)
	}

	t.Setenv("TEST_GET_ENV", "custom")
	if got := GetEnv("TEST_GET_ENV", "default"); got != "custom" {
		t.Errorf("Expected 'custom', got %q", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 42},
		{"123", 123},
		{"-4", -4},
		{"not-a-number", 42},
		{"1.5", 42},
	}

	for _, tt := range tests {
		t.Setenv("TEST_INT_ENV", tt.value)
		if got := GetIntEnv("TEST_INT_ENV", 42); got != tt.want {
			t.Errorf("GetIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestGetFloatEnv(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 2.5},
		{"0.5", 0.5},
		{"4", 4},
		{"half", 2.5},
	}

	for _, tt := range tests {
		t.Setenv("TEST_FLOAT_ENV", tt.value)
		if got := GetFloatEnv("TEST_FLOAT_ENV", 2.5); got != tt.want {
			t.Errorf("GetFloatEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Setenv("TEST_BOOL_ENV", tt.value)
		if got := GetBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.expected {
			t.Errorf("GetBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestGetDurationEnv(t *testing.T) {
	const def = 5 * time.Second
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"30s", 30 * time.Second},
		{"100ms", 100 * time.Millisecond},
		{"1h30m", 90 * time.Minute},
		{"3600", time.Hour},
		{"0", 0},
		{"not-a-duration", def},
	}

	for _, tt := range tests {
		t.Setenv("TEST_DURATION_ENV", tt.value)
		if got := GetDurationEnv("TEST_DURATION_ENV", def); got != tt.want {
			t.Errorf("GetDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetListEnv(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"", nil},
		{" , ,", nil},
		{"a", []string{"a"}},
		{"jobengine.job.success, jobengine.job.failed,", []string{"jobengine.job.success", "jobengine.job.failed"}},
	}

	for _, tt := range tests {
		t.Setenv("TEST_LIST_ENV", tt.value)
		if got := GetListEnv("TEST_LIST_ENV"); !slices.Equal(got, tt.want) {
			t.Errorf("GetListEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetSecretFile(t *testing.T) {
	if got := GetSecretFile(""); got != "" {
		t.Errorf("Expected empty string for empty path, got %q", got)
	}
	if got := GetSecretFile("/nonexistent/path/to/secret"); got != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(path, []byte("my-secret-value\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}
	if got := GetSecretFile(path); got != "my-secret-value" {
		t.Errorf("Expected %q, got %q", "my-secret-value", got)
	}
}

func TestLoadServiceConfig(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/data/jobs.db")
	t.Setenv("API_CREATE_RATE", "5")
	t.Setenv("SHUTDOWN_JOB_WAIT", "120")

	cfg := LoadServiceConfig()
	if cfg.DatabasePath != "/data/jobs.db" {
		t.Errorf("Expected DatabasePath '/data/jobs.db', got %q", cfg.DatabasePath)
	}
	if cfg.CreateRate != 5 {
		t.Errorf("Expected CreateRate 5, got %v", cfg.CreateRate)
	}
	if cfg.ShutdownJobWait != 2*time.Minute {
		t.Errorf("Expected ShutdownJobWait 2m, got %v", cfg.ShutdownJobWait)
	}
	if cfg.Port != "8080" || cfg.CreateBurst != 40 || cfg.DiskMaxUsedPercent != 95 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
