package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Configuration is the full service configuration, read from the environment.
type Configuration struct {
	Service       ServiceConfig
	Backend       BackendConfig
	Intake        IntakeConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service and where it listens.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
	Environment string
}

// BackendConfig locates the transcription and billing endpoints.
type BackendConfig struct {
	BaseURL        string
	TranscribePath string
	BillingSubmit  string
	BillingPropose string
	UploadTimeout  time.Duration
	BillingTimeout time.Duration
}

// IntakeConfig controls encounter behaviour.
type IntakeConfig struct {
	DefaultLanguage  string
	SuggestionSource string
	EncounterTTL     time.Duration
	SweepInterval    time.Duration
	// MaxFragmentBytes bounds a single capture WebSocket frame.
	MaxFragmentBytes int64
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTransitions string
	TopicAudit       string
	Principal        string
}

// RedisConfig holds the ephemeral session store settings.
type RedisConfig struct {
	Enabled   bool
	URL       string
	KeyPrefix string
	// TTL bounds how long a session snapshot outlives its last change.
	TTL time.Duration
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
func Load() *Configuration {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-visit-intake")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			Environment: envOrDefault("ENV", "prod"),
		},
		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(envOrDefault("BACKEND_BASE_URL", "http://localhost:8000"), "/"),
			TranscribePath: envOrDefault("BACKEND_TRANSCRIBE_PATH", "/transcribe"),
			BillingSubmit:  envOrDefault("BACKEND_BILLING_SUBMIT_PATH", "/billing/submit"),
			BillingPropose: envOrDefault("BACKEND_BILLING_PROPOSE_PATH", "/billing/propose"),
			UploadTimeout:  envOrDefaultDuration("BACKEND_UPLOAD_TIMEOUT", 120*time.Second),
			BillingTimeout: envOrDefaultDuration("BACKEND_BILLING_TIMEOUT", 30*time.Second),
		},
		Intake: IntakeConfig{
			DefaultLanguage:  envOrDefault("INTAKE_DEFAULT_LANGUAGE", "fr"),
			SuggestionSource: envOrDefault("INTAKE_SUGGESTION_SOURCE", "transcript"),
			EncounterTTL:     envOrDefaultDuration("INTAKE_ENCOUNTER_TTL", 30*time.Minute),
			SweepInterval:    envOrDefaultDuration("INTAKE_SWEEP_INTERVAL", time.Minute),
			MaxFragmentBytes: int64(envOrDefaultInt("INTAKE_MAX_FRAGMENT_BYTES", 1<<20)),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicTransitions: envOrDefault("KAFKA_TOPIC_TRANSITIONS", "intake.workflow.transition"),
			TopicAudit:       envOrDefault("KAFKA_TOPIC_AUDIT", "intake.audit"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Redis: RedisConfig{
			Enabled:   envOrDefaultBool("REDIS_ENABLED", false),
			URL:       envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			KeyPrefix: envOrDefault("REDIS_KEY_PREFIX", "intake:session"),
			TTL:       envOrDefaultDuration("SESSION_DATA_TTL", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer, using default")
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean, using default")
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
