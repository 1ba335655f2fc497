// Package util provides small helpers shared across IntakeFlow components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable, falling back to
// defaultValue when the variable is unset or unparseable. It backs boolean
// flag defaults in main, such as the WhatsApp numeric login code toggle.
// Accepted spellings (case-insensitive): true/1/yes/on and false/0/no/off.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}
