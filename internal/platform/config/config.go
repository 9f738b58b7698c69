package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
	DatabaseMemory   = "memory"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	DatabaseType string
	PostgresDSN  string
	SQLiteDSN    string
	KafkaBrokers []string
	LogLevel     slog.Level

	SessionID    string
	SessionAdmin string

	RateLimit          string
	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	IdempotencyTTL     time.Duration
	ProposalMaxLength  int

	EnableEmbeddedWorker       bool
	EnableNotificationConsumer bool
}

// Load reads the process environment. A .env file in the working directory
// (or the file named by ENV_FILE) is applied first without overriding
// variables that are already set.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "agora"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	databaseType := strings.ToLower(strings.TrimSpace(os.Getenv("DATABASE_TYPE")))
	if databaseType == "" {
		databaseType = DatabasePostgres
	}
	switch databaseType {
	case DatabasePostgres, DatabaseSQLite, DatabaseMemory:
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_TYPE %q", databaseType)
	}

	sqliteDSN := os.Getenv("SQLITE_DSN")
	if sqliteDSN == "" {
		sqliteDSN = "agora.db"
	}

	sessionID := strings.TrimSpace(os.Getenv("SESSION_ID"))
	if sessionID == "" {
		sessionID = "default"
	}

	level, err := parseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}

	rateLimit := strings.TrimSpace(os.Getenv("RATE_LIMIT"))
	if rateLimit == "" {
		rateLimit = "100-M"
	}

	return Config{
		ServiceName:  service,
		HTTPPort:     port,
		DatabaseType: databaseType,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		SQLiteDSN:    sqliteDSN,
		KafkaBrokers: brokers,
		LogLevel:     level,

		SessionID:    sessionID,
		SessionAdmin: strings.TrimSpace(os.Getenv("SESSION_ADMIN")),

		RateLimit:          rateLimit,
		OutboxBatchSize:    envInt("OUTBOX_BATCH_SIZE", 100),
		OutboxPollInterval: envDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		IdempotencyTTL:     envDuration("IDEMPOTENCY_TTL", 7*24*time.Hour),
		ProposalMaxLength:  envInt("PROPOSAL_MAX_LENGTH", 1024),

		EnableEmbeddedWorker:       envBool("ENABLE_EMBEDDED_WORKER", false),
		EnableNotificationConsumer: envBool("ENABLE_NOTIFICATION_CONSUMER", true),
	}, nil
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
