package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds the service settings read from the environment.
type Config struct {
	Port string

	MongoURI          string
	MongoDB           string
	MongoTransactions bool

	JWTSecret string
	JWTExpiry time.Duration

	SyncInterval  time.Duration
	SyncWorkers   int
	SyncLocation  *time.Location
	SyncRateLimit int // requests per minute per caller

	MQTTBroker        string
	MQTTClientID      string
	MQTTOdometerTopic string

	LogLevel  log.Level
	LogFormat string
}

const defaultJWTSecret = "default-secret-key-change-in-production"

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env file is optional in production

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnvOrDefault("MONGO_DB", "fleet"),
		JWTSecret:         getEnvOrDefault("JWT_SECRET", defaultJWTSecret),
		MQTTBroker:        os.Getenv("MQTT_BROKER"),
		MQTTClientID:      getEnvOrDefault("MQTT_CLIENT_ID", "fleet-reminders"),
		MQTTOdometerTopic: getEnvOrDefault("MQTT_ODOMETER_TOPIC", "fleet/+/odometer"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.MongoTransactions, err = getBool("MONGO_TRANSACTIONS", true); err != nil {
		return nil, err
	}
	if cfg.JWTExpiry, err = getDuration("JWT_EXPIRY", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SyncWorkers, err = getPositiveInt("SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.SyncRateLimit, err = getPositiveInt("SYNC_RATE_LIMIT", 6); err != nil {
		return nil, err
	}
	if cfg.SyncLocation, err = time.LoadLocation(getEnvOrDefault("SYNC_TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("SYNC_TIMEZONE: %w", err)
	}
	if cfg.LogLevel, err = log.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT: must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// ConfigureLogger applies the log level and format to l.
func (c *Config) ConfigureLogger(l *log.Logger) {
	l.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// UsesDefaultSecret reports whether JWT_SECRET was left unset.
func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, value)
	}
	return d, nil
}

func getPositiveInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", key, n)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
