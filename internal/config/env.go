package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseString returns the environment value for key, or fallback when the
// variable is unset or blank.
func ParseString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ParseInt returns the integer environment value for key, or fallback when
// the variable is unset or unparsable.
func ParseInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ParseDuration returns the duration environment value for key ("30s",
// "5m"), or fallback when the variable is unset or unparsable.
func ParseDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
