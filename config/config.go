package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the civicreport intake service
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Analysis service configuration
	AnalysisServiceURL string
	AnalysisTimeout    time.Duration

	// Minimum time a draft stays in the analyzing state, so fast responses
	// do not flash by. Zero disables the hold.
	AnalyzingMinHold time.Duration

	// Auth service configuration
	AuthServiceURL string

	// Draft lifecycle
	DraftTTL          time.Duration
	MaxImageSizeBytes int64

	// Issue listing
	DefaultRadiusMeters float64

	// RabbitMQ configuration
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQExchange string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "civicreport"),

		// Analysis service defaults. The local fallback applies when the
		// variable is unset, mirroring the frontend build configuration.
		AnalysisServiceURL: getEnv("ANALYSIS_SERVICE_URL", "http://localhost:8090"),
		AnalysisTimeout:    getDurationEnv("ANALYSIS_TIMEOUT", 30*time.Second),
		AnalyzingMinHold:   getDurationEnv("ANALYZING_MIN_HOLD", 2*time.Second),

		// Auth service defaults
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", "http://localhost:8095"),

		// Draft defaults
		DraftTTL:          getDurationEnv("DRAFT_TTL", 30*time.Minute),
		MaxImageSizeBytes: int64(getIntEnv("MAX_IMAGE_SIZE_BYTES", 10*1024*1024)),

		// Listing defaults
		DefaultRadiusMeters: float64(getIntEnv("DEFAULT_RADIUS_METERS", 5000)),

		// RabbitMQ defaults
		RabbitMQHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:     getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "civicreport"),
	}
}

// GetDSN returns the MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// GetAMQPURL returns the RabbitMQ connection URL
func (c *Config) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
