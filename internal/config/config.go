// Package config provides environment configuration for the pipeline worker.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Migration rollout
	PipelineEnabled   bool
	TrafficPercentage int
	LegacyEnabled     bool

	// Worker pool
	WorkerConcurrency int
	WorkerRateLimit   float64 // jobs per second
	JobMaxAttempts    int
	JobAckWait        time.Duration
	DrainTimeout      time.Duration

	// Retention
	TimingTTL time.Duration
	StateTTL  time.Duration

	// Collaborators
	CalcEngineURL       string
	CalcEngineTimeout   time.Duration
	DeliveryURL         string
	DeliveryTimeout     time.Duration
	ClassifierModel     string
	ResponderModel      string
	CollaboratorTimeout time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Alerting
	AlertInterval   time.Duration
	MaxFailedJobs   int
	MaxWaitingJobs  int
	MaxActiveJobs   int
	MinHealthScore  int
	SlackWebhookURL string

	// Admin rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Migration
		PipelineEnabled:   getBoolEnv("ENABLE_PIPELINE", false),
		TrafficPercentage: getIntEnv("PIPELINE_ROLLOUT_PERCENTAGE", 0),
		LegacyEnabled:     getBoolEnv("ENABLE_LEGACY_BROKER", true),

		// Worker pool
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 10),
		WorkerRateLimit:   getFloatEnv("QUEUE_RATE_LIMIT", 30),
		JobMaxAttempts:    getIntEnv("JOB_MAX_ATTEMPTS", 3),
		JobAckWait:        getDurationEnv("JOB_ACK_WAIT", 60*time.Second),
		DrainTimeout:      getDurationEnv("DRAIN_TIMEOUT", 30*time.Second),

		// Retention
		TimingTTL: getDurationEnv("TIMING_TTL", 24*time.Hour),
		StateTTL:  getDurationEnv("STATE_TTL", time.Hour),

		// Collaborators
		CalcEngineURL:       getEnv("CALC_ENGINE_URL", "http://localhost:9090"),
		CalcEngineTimeout:   getDurationEnv("CALC_ENGINE_TIMEOUT", 10*time.Second),
		DeliveryURL:         getEnv("DELIVERY_URL", ""),
		DeliveryTimeout:     getDurationEnv("DELIVERY_TIMEOUT", 10*time.Second),
		ClassifierModel:     getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		ResponderModel:      getEnv("RESPONDER_MODEL", "claude-3-5-sonnet-20241022"),
		CollaboratorTimeout: getDurationEnv("COLLABORATOR_TIMEOUT", 20*time.Second),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		// Alerting
		AlertInterval:   getDurationEnv("ALERT_INTERVAL", time.Minute),
		MaxFailedJobs:   getIntEnv("ALERT_MAX_FAILED_JOBS", 10),
		MaxWaitingJobs:  getIntEnv("ALERT_MAX_WAITING_JOBS", 50),
		MaxActiveJobs:   getIntEnv("ALERT_MAX_ACTIVE_JOBS", 20),
		MinHealthScore:  getIntEnv("ALERT_MIN_HEALTH_SCORE", 70),
		SlackWebhookURL: getEnv("SLACK_ALERT_WEBHOOK_URL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Migration holds the rollout flags read at decision time rather than cached,
// so operators can adjust the rollout without redeploying.
type Migration struct {
	PipelineEnabled   bool
	TrafficPercentage int
	LegacyEnabled     bool
}

// LoadMigration reads the migration flags fresh from the environment.
func LoadMigration() Migration {
	return Migration{
		PipelineEnabled:   getBoolEnv("ENABLE_PIPELINE", false),
		TrafficPercentage: getIntEnv("PIPELINE_ROLLOUT_PERCENTAGE", 0),
		LegacyEnabled:     getBoolEnv("ENABLE_LEGACY_BROKER", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
