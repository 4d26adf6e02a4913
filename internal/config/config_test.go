package config

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is not set",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		expected int
	}{
		{name: "parses integer", envValue: "7", def: 3, expected: 7},
		{name: "falls back on garbage", envValue: "not-a-number", def: 3, expected: 3},
		{name: "falls back when unset", envValue: "", def: 3, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("TEST_INT_KEY", tt.envValue)
				defer os.Unsetenv("TEST_INT_KEY")
			}
			if got := getenvInt("TEST_INT_KEY", tt.def); got != tt.expected {
				t.Errorf("getenvInt = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	os.Setenv("TEST_DUR_KEY", "250ms")
	defer os.Unsetenv("TEST_DUR_KEY")

	if got := getenvDuration("TEST_DUR_KEY", time.Second); got != 250*time.Millisecond {
		t.Errorf("getenvDuration = %v, want 250ms", got)
	}
	if got := getenvDuration("TEST_DUR_MISSING", time.Second); got != time.Second {
		t.Errorf("getenvDuration default = %v, want 1s", got)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.BaseBackoff != time.Second {
		t.Errorf("BaseBackoff = %v, want 1s", cfg.Engine.BaseBackoff)
	}
	if cfg.Engine.BackoffCap != 5*time.Second {
		t.Errorf("BackoffCap = %v, want 5s", cfg.Engine.BackoffCap)
	}
	if cfg.Engine.DLQCapacity != 1024 {
		t.Errorf("DLQCapacity = %d, want 1024", cfg.Engine.DLQCapacity)
	}
	if cfg.NSQ.TasksTopic != "tasks" || cfg.NSQ.DLQTopic != "tasks_dlq" {
		t.Errorf("NSQ topics = %q/%q", cfg.NSQ.TasksTopic, cfg.NSQ.DLQTopic)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "revoflow"}}
	want := "postgres://u:p@h:5432/revoflow?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
