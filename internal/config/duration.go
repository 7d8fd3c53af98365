package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	return parseDuration(candidate)
}

// OptionalDuration parses a duration where an empty value means "no deadline" (zero).
func OptionalDuration(value string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return 0, nil
	}
	return parseDuration(candidate)
}

func parseDuration(candidate string) (time.Duration, error) {
	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", candidate)
	}
	return d, nil
}
