// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // "" disables the gRPC health server
	FrontendURL string

	StoreDriver   string
	DBPath        string
	MongoURI      string
	MongoDatabase string

	RedisAddr          string // "" disables the descriptor cache
	DescriptorCacheTTL time.Duration

	TokenOracleURL  string
	PromptOracleURL string
	RetrievalURL    string
	VectorDir       string

	ProviderTimeout    time.Duration
	LegacyProviderUser string

	JWTSecret string

	RagMergePolicy  string
	HelpdeskRagDB   string
	ClassifierModel string
	DefaultNumDocs  int

	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64

	CatalogPath     string
	HealthInterval  time.Duration
	ConversationLog ConversationLogConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DBPath:        getEnv("DB_PATH", "./data/copilot.db"),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "copilot"),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		DescriptorCacheTTL: getEnvDuration("DESCRIPTOR_CACHE_TTL", 30*time.Second),

		TokenOracleURL:  getEnv("TOKEN_ORACLE_URL", ""),
		PromptOracleURL: getEnv("PROMPT_ORACLE_URL", ""),
		RetrievalURL:    getEnv("RETRIEVAL_URL", ""),
		VectorDir:       getEnv("VECTOR_DIR", "./data/vectors"),

		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		LegacyProviderUser: getEnv("LEGACY_PROVIDER_USER", "copilot"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RagMergePolicy:  getEnv("RAG_MERGE_POLICY", "exclusive"),
		HelpdeskRagDB:   getEnv("HELPDESK_RAG_DB", ""),
		ClassifierModel: getEnv("CLASSIFIER_MODEL", ""),
		DefaultNumDocs:  getEnvInt("DEFAULT_NUM_DOCS", 3),

		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 10<<20)),

		CatalogPath:    getEnv("CATALOG_PATH", ""),
		HealthInterval: getEnvDuration("HEALTH_PROBE_INTERVAL", 15*time.Second),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER=mongo")
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch strings.ToLower(c.RagMergePolicy) {
	case "", "exclusive", "concat":
	default:
		return fmt.Errorf("RAG_MERGE_POLICY must be exclusive or concat, got %q", c.RagMergePolicy)
	}
	if (c.HelpdeskRagDB == "") != (c.ClassifierModel == "") {
		return fmt.Errorf("HELPDESK_RAG_DB and CLASSIFIER_MODEL must be set together")
	}
	if c.DefaultNumDocs <= 0 {
		return fmt.Errorf("DEFAULT_NUM_DOCS must be > 0")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins: any origin in development, else the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
