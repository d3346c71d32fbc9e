package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear relevant env vars
	envVars := []string{
		"SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "METRICS_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"BACKEND_BASE_URL", "BACKEND_TRANSCRIBE_PATH", "BACKEND_UPLOAD_TIMEOUT",
		"INTAKE_DEFAULT_LANGUAGE", "INTAKE_SUGGESTION_SOURCE", "INTAKE_ENCOUNTER_TTL",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
		"REDIS_ENABLED", "REDIS_URL", "SESSION_DATA_TTL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-visit-intake" {
		t.Errorf("expected default principal 'svc-visit-intake', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" || cfg.Service.GRPCPort != "50051" || cfg.Service.MetricsPort != "9090" {
		t.Errorf("unexpected default ports: %+v", cfg.Service)
	}

	// Backend defaults
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("expected default base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.TranscribePath != "/transcribe" {
		t.Errorf("expected default transcribe path, got %s", cfg.Backend.TranscribePath)
	}
	if cfg.Backend.UploadTimeout != 120*time.Second {
		t.Errorf("expected default upload timeout 120s, got %v", cfg.Backend.UploadTimeout)
	}

	// Intake defaults
	if cfg.Intake.DefaultLanguage != "fr" {
		t.Errorf("expected default language 'fr', got %s", cfg.Intake.DefaultLanguage)
	}
	if cfg.Intake.SuggestionSource != "transcript" {
		t.Errorf("expected default suggestion source 'transcript', got %s", cfg.Intake.SuggestionSource)
	}
	if cfg.Intake.EncounterTTL != 30*time.Minute {
		t.Errorf("expected default TTL 30m, got %v", cfg.Intake.EncounterTTL)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected default brokers: %v", cfg.Kafka.Brokers)
	}

	// Redis defaults
	if cfg.Redis.Enabled {
		t.Error("expected Redis disabled by default")
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" || cfg.Redis.TTL != 5*time.Minute {
		t.Errorf("unexpected Redis defaults: %+v", cfg.Redis)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BACKEND_BASE_URL", "https://intake.example.org/")
	t.Setenv("BACKEND_UPLOAD_TIMEOUT", "5m")
	t.Setenv("INTAKE_DEFAULT_LANGUAGE", "en")
	t.Setenv("INTAKE_SUGGESTION_SOURCE", "propose")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_ENABLED", "1")
	t.Setenv("SESSION_DATA_TTL", "90s")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Backend.BaseURL != "https://intake.example.org" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.UploadTimeout != 5*time.Minute {
		t.Errorf("expected upload timeout 5m, got %v", cfg.Backend.UploadTimeout)
	}
	if cfg.Intake.DefaultLanguage != "en" || cfg.Intake.SuggestionSource != "propose" {
		t.Errorf("unexpected intake config: %+v", cfg.Intake)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two brokers, got %v", cfg.Kafka.Brokers)
	}
	if !cfg.Redis.Enabled || cfg.Redis.TTL != 90*time.Second {
		t.Errorf("unexpected Redis config: %+v", cfg.Redis)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	t.Setenv("BACKEND_UPLOAD_TIMEOUT", "invalid")
	t.Setenv("INTAKE_MAX_FRAGMENT_BYTES", "invalid")
	t.Setenv("KAFKA_ENABLED", "invalid")
	t.Setenv("KAFKA_BROKERS", " , ")

	cfg := Load()

	if cfg.Backend.UploadTimeout != 120*time.Second {
		t.Errorf("expected default upload timeout on invalid input, got %v", cfg.Backend.UploadTimeout)
	}
	if cfg.Intake.MaxFragmentBytes != 1<<20 {
		t.Errorf("expected default fragment limit on invalid input, got %d", cfg.Intake.MaxFragmentBytes)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected default Kafka enabled on invalid input")
	}
	if len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("expected default brokers on empty list, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "my-service")
	os.Unsetenv("KAFKA_PRINCIPAL")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
