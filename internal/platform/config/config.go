package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses values like "30s" or "2m"; anything unparsable
// yields fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Process holds the settings read from the process environment.
type Process struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShowConfig      string
	ShutdownTimeout time.Duration
	TriggerRate     int
	CORSOrigins     []string
}

// FromEnv reads the process settings with their defaults.
func FromEnv() Process {
	return Process{
		HTTPAddr:        GetEnv("HTTP_ADDR", ":8080"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		LogFormat:       GetEnv("LOG_FORMAT", "json"),
		ShowConfig:      GetEnv("SHOW_CONFIG", "config.yaml"),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		TriggerRate:     GetEnvInt("TRIGGER_RATE_PER_MINUTE", 10),
		CORSOrigins:     splitList(GetEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}
