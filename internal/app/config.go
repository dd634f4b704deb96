package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// Version is the build version, set by the binary, not the environment.
	Version string

	// Auxiliary LLM provider (classification, selection, enhancement).
	LLMBaseURL string
	LLMAPIKey  string

	ClassifierModel string
	SelectorModel   string
	EnhancerModel   string

	ClassifierTimeoutSecs int
	SelectorTimeoutSecs   int
	EnhancerTimeoutSecs   int

	// Routing policy.
	ConfidentialModelID string
	TruncationStrategy  string
	EnableSummarization bool

	// Model registry (the chat platform's model catalog).
	RegistryURL         string
	RegistryTimeoutSecs int

	// Backend the finalized requests are dispatched to.
	BackendURL         string
	BackendAPIKey      string
	StreamTimeoutSecs  int

	// Decision audit log; empty disables persistence.
	DBDSN string

	// Idempotency-Key replay cache TTL.
	IdempotencyTTLSecs int

	// Security & hardening.
	AdminTokenHash string   // bcrypt hash guarding /admin/v1; empty disables
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MODELGATE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("MODELGATE_LOG_LEVEL", "info"),

		LLMBaseURL: getEnv("MODELGATE_LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMAPIKey:  getEnv("MODELGATE_LLM_API_KEY", ""),

		ClassifierModel: getEnv("MODELGATE_CLASSIFIER_MODEL", "llama-3.1-8b-instant"),
		SelectorModel:   getEnv("MODELGATE_SELECTOR_MODEL", "llama-3.1-8b-instant"),
		EnhancerModel:   getEnv("MODELGATE_ENHANCER_MODEL", "llama-3.1-8b-instant"),

		ClassifierTimeoutSecs: getEnvInt("MODELGATE_CLASSIFIER_TIMEOUT_SECS", 10),
		SelectorTimeoutSecs:   getEnvInt("MODELGATE_SELECTOR_TIMEOUT_SECS", 15),
		EnhancerTimeoutSecs:   getEnvInt("MODELGATE_ENHANCER_TIMEOUT_SECS", 15),

		ConfidentialModelID: getEnv("MODELGATE_CONFIDENTIAL_MODEL_ID", ""),
		TruncationStrategy:  getEnv("MODELGATE_TRUNCATION_STRATEGY", "sliding_window"),
		EnableSummarization: getEnvBool("MODELGATE_ENABLE_SUMMARIZATION", false),

		RegistryURL:         getEnv("MODELGATE_REGISTRY_URL", ""),
		RegistryTimeoutSecs: getEnvInt("MODELGATE_REGISTRY_TIMEOUT_SECS", 5),

		BackendURL:        getEnv("MODELGATE_BACKEND_URL", ""),
		BackendAPIKey:     getEnv("MODELGATE_BACKEND_API_KEY", ""),
		StreamTimeoutSecs: getEnvInt("MODELGATE_STREAM_TIMEOUT_SECS", 600),

		DBDSN: getEnv("MODELGATE_DB_DSN", ""),

		IdempotencyTTLSecs: getEnvInt("MODELGATE_IDEMPOTENCY_TTL_SECS", 300),

		AdminTokenHash: getEnv("MODELGATE_ADMIN_TOKEN_HASH", ""),
		CORSOrigins:    getEnvStringSlice("MODELGATE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("MODELGATE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("MODELGATE_RATE_LIMIT_BURST", 120),

		OTelEnabled:  getEnvBool("MODELGATE_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("MODELGATE_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.LLMAPIKey == "" {
		return fmt.Errorf("MODELGATE_LLM_API_KEY is required")
	}
	if c.ConfidentialModelID == "" {
		return fmt.Errorf("MODELGATE_CONFIDENTIAL_MODEL_ID is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("MODELGATE_BACKEND_URL is required")
	}
	switch c.TruncationStrategy {
	case "sliding_window", "importance_based":
	default:
		return fmt.Errorf("MODELGATE_TRUNCATION_STRATEGY must be sliding_window or importance_based, got %q", c.TruncationStrategy)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("MODELGATE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("MODELGATE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ClassifierTimeoutSecs <= 0 || c.SelectorTimeoutSecs <= 0 || c.EnhancerTimeoutSecs <= 0 {
		return fmt.Errorf("auxiliary model timeouts must be > 0")
	}
	if c.StreamTimeoutSecs <= 0 {
		return fmt.Errorf("MODELGATE_STREAM_TIMEOUT_SECS must be > 0, got %d", c.StreamTimeoutSecs)
	}
	if c.IdempotencyTTLSecs <= 0 {
		return fmt.Errorf("MODELGATE_IDEMPOTENCY_TTL_SECS must be > 0, got %d", c.IdempotencyTTLSecs)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
