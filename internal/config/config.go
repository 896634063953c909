package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Authority modes.
const (
	AuthorityMock = "mock"
	AuthorityHTTP = "http"
)

// Contingency backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Fiscal model (nfce is the only one shipped)
	FiscalModel string
	Environment string // homologacao or producao, used when a request omits it

	// Fiscal authority
	AuthorityMode    string // mock or http
	AuthorityURL     string
	AuthorityTimeout time.Duration
	MockLatency      time.Duration

	// Resilience
	MaxRetries     int // transport retries inside the HTTP client
	SubmitRetries  int // processor retries on ErrAuthorityUnavailable
	InitialBackoff time.Duration
	MaxConcurrency int

	// Contingency
	AutoContingency  bool
	ContingencyStore string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisKey         string
	ReplayInterval   time.Duration
	StatusCacheTTL   time.Duration

	// Certificate
	CertSerial   string
	CertPath     string
	CertPassword string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		FiscalModel: strings.ToLower(getEnv("FISCAL_MODEL", "nfce")),
		Environment: getEnv("FISCAL_ENVIRONMENT", "homologacao"),

		AuthorityMode:    strings.ToLower(getEnv("FISCAL_AUTHORITY_MODE", AuthorityMock)),
		AuthorityURL:     getEnv("FISCAL_AUTHORITY_URL", "http://localhost:8085"),
		AuthorityTimeout: getEnvDuration("FISCAL_AUTHORITY_TIMEOUT", 10*time.Second),
		MockLatency:      getEnvDuration("FISCAL_MOCK_LATENCY", 0),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		SubmitRetries:  getEnvInt("FISCAL_SUBMIT_RETRIES", 0),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		AutoContingency:  getEnvBool("FISCAL_AUTO_CONTINGENCY", false),
		ContingencyStore: strings.ToLower(getEnv("CONTINGENCY_BACKEND", BackendMemory)),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisKey:         getEnv("REDIS_CONTINGENCY_KEY", "fiscal:contingency"),
		ReplayInterval:   getEnvDuration("CONTINGENCY_REPLAY_INTERVAL", 0),
		StatusCacheTTL:   getEnvDuration("FISCAL_STATUS_CACHE_TTL", 30*time.Second),

		CertSerial:   getEnv("FISCAL_CERT_SERIAL", ""),
		CertPath:     getEnv("FISCAL_CERT_PATH", ""),
		CertPassword: getEnv("FISCAL_CERT_PASSWORD", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate checks the combinations Load cannot express with defaults.
func (c *Config) Validate() error {
	switch c.AuthorityMode {
	case AuthorityMock, AuthorityHTTP:
	default:
		return fmt.Errorf("FISCAL_AUTHORITY_MODE: unknown mode %q", c.AuthorityMode)
	}
	switch c.ContingencyStore {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres contingency backend")
		}
	default:
		return fmt.Errorf("CONTINGENCY_BACKEND: unknown backend %q", c.ContingencyStore)
	}
	switch c.Environment {
	case "homologacao", "producao":
	default:
		return fmt.Errorf("FISCAL_ENVIRONMENT: use producao or homologacao, got %q", c.Environment)
	}
	if c.FiscalModel != "nfce" {
		return fmt.Errorf("FISCAL_MODEL: unsupported fiscal model %q", c.FiscalModel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
