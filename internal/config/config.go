// Package config provides environment configuration for the sync service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Event source kinds.
const (
	EventSourceNATS      = "nats"
	EventSourceWebsocket = "websocket"
	EventSourceNone      = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server settings
	ServerPort         string        `validate:"required"`
	ServerReadTimeout  time.Duration `validate:"gt=0"`
	ServerWriteTimeout time.Duration `validate:"gt=0"`

	// Database settings
	DatabaseDriver         string `validate:"oneof=postgres sqlite"`
	DatabaseURL            string `validate:"required"`
	DatabaseMaxOpenConns   int    `validate:"gte=0"`
	DatabaseMaxIdleConns   int    `validate:"gte=0"`
	DatabaseMigrateAtStart bool

	// Crisp settings
	CrispAPIURL     string        `validate:"required,url"`
	CrispIdentifier string        `validate:"required"`
	CrispKey        string        `validate:"required"`
	CrispTier       string        `validate:"required"`
	CrispTimeout    time.Duration `validate:"gt=0"`
	CrispMaxRetries int           `validate:"gte=0"`

	// Sync settings
	BackfillConcurrency int           `validate:"gte=1,lte=64"`
	EventSource         string        `validate:"oneof=nats websocket none"`
	EventQueueSize      int           `validate:"gte=1"`
	MessageCacheTTL     time.Duration `validate:"gte=0"`

	// NATS settings
	NATSURL           string
	NATSCAFile        string
	NATSCertFile      string
	NATSKeyFile       string
	NATSToken         string
	NATSConsumer      string
	NATSMaxAckPending int `validate:"gte=1"`

	// Crisp RTM websocket
	RTMURL string `validate:"required_if=EventSource websocket"`

	// Rate limiting
	RateLimitRequests int           `validate:"gte=1"`
	RateLimitWindow   time.Duration `validate:"gt=0"`

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a .env file when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 5*time.Minute),

		// Database
		DatabaseDriver:         getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		DatabaseMaxOpenConns:   getIntEnv("DATABASE_MAX_OPEN_CONNS", 20),
		DatabaseMaxIdleConns:   getIntEnv("DATABASE_MAX_IDLE_CONNS", 5),
		DatabaseMigrateAtStart: getBoolEnv("DATABASE_MIGRATE_AT_START", true),

		// Crisp
		CrispAPIURL:     getEnv("CRISP_API_URL", "https://api.crisp.chat/v1"),
		CrispIdentifier: getEnv("CRISP_IDENTIFIER", ""),
		CrispKey:        getEnv("CRISP_KEY", ""),
		CrispTier:       getEnv("CRISP_TIER", "plugin"),
		CrispTimeout:    getDurationEnv("CRISP_TIMEOUT", 15*time.Second),
		CrispMaxRetries: getIntEnv("CRISP_MAX_RETRIES", 3),

		// Sync
		BackfillConcurrency: getIntEnv("BACKFILL_CONCURRENCY", 5),
		EventSource:         getEnv("EVENT_SOURCE", EventSourceNATS),
		EventQueueSize:      getIntEnv("EVENT_QUEUE_SIZE", 256),
		MessageCacheTTL:     getDurationEnv("MESSAGE_CACHE_TTL", 5*time.Second),

		// NATS
		NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:        getEnv("NATS_CA_FILE", ""),
		NATSCertFile:      getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:       getEnv("NATS_KEY_FILE", ""),
		NATSToken:         getEnv("NATS_TOKEN", ""),
		NATSConsumer:      getEnv("NATS_CONSUMER", "crisp-sync"),
		NATSMaxAckPending: getIntEnv("NATS_MAX_ACK_PENDING", 256),

		// RTM
		RTMURL: getEnv("RTM_URL", ""),

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

// Validate fails when required settings, such as the Crisp credentials, are missing or invalid.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("invalid config %s: failed %q", fe.Field(), fe.Tag()))
	}
	return errors.Join(msgs...)
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
