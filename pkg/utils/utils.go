// Package utils provides small helpers for environment configuration and
// safe logging of credentials.
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvWithDefault retrieves an environment variable or returns a default value if not set.
//
// Parameters:
//   - name: The name of the environment variable
//   - defaultValue: The default value to return if the environment variable is not set
//
// Returns the value of the environment variable, or the default value if not set.
func GetEnvWithDefault(name, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt reads an integer environment variable. Unset or unparsable values
// yield defaultValue together with the parse error, if any, so the caller can
// decide whether a typo is fatal.
func GetEnvInt(name string, defaultValue int) (int, error) {
	raw := GetEnvWithDefault(name, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, err
	}
	return v, nil
}

// GetEnvBool reports whether name is set to "true" or "1".
func GetEnvBool(name string) bool {
	v := strings.ToLower(GetEnvWithDefault(name, ""))
	return v == "true" || v == "1"
}

// GetEnvDuration reads a time.Duration ("30s", "24h"). Unset yields defaultValue.
func GetEnvDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := GetEnvWithDefault(name, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue, err
	}
	return d, nil
}

// MaskToken masks a secret for logging, keeping only a short prefix and suffix.
//
// Parameters:
//   - token: The API key, JWT or password to mask
//
// Returns a string safe to print in logs.
func MaskToken(token string) string {
	if len(token) < 10 {
		return "***" // Too short to safely show anything
	}
	return token[:4] + "..." + token[len(token)-4:]
}
