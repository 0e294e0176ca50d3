// Package config loads runtime settings from the environment, with an
// optional .env file for local development. Command-line flags override
// whatever the environment provides.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment keys. Each has a flag counterpart on the CLI.
const (
	EnvPort     = "LANCAST_PORT"
	EnvFPS      = "LANCAST_FPS"
	EnvBitrate  = "LANCAST_BITRATE"
	EnvLogLevel = "LANCAST_LOG_LEVEL"
	EnvAPIAddr  = "LANCAST_API_ADDR"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error
// but callers can ignore it and run on system env or defaults. Pass one
// or more paths to load specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named
// by key, or fallback if the variable is unset, empty, or not a valid
// integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
