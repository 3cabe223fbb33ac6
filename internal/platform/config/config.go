package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load populates the process environment from .env files (".env" when no
// path is given). A missing file is reported but harmless: callers ignore the
// error and fall back to the real environment and defaults. Variables that
// are already set are never overwritten.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns key's value, or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// LookupEnv is GetEnv but distinguishes "set to empty" from unset, so a key
// can be cleared explicitly.
func LookupEnv(key, fallback string) string {
	if s, ok := os.LookupEnv(key); ok {
		return s
	}
	return fallback
}

// GetEnvInt parses key as an int, falling back on unset, empty or invalid values.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of key ("1", "true", "yes", "on" and
// their negations), or fallback if unset or unrecognized.
func GetEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// GetEnvDuration returns the time.ParseDuration value of key, or fallback if
// the variable is unset, empty, or not a valid duration.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
