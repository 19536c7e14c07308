package config

import (
	"fmt"
	"log/slog"
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

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", candidate)
	}
	return d, nil
}

// LenientDuration is DurationOrDefault for call sites that cannot fail: an
// unparsable value is logged and replaced by the parsed default.
func LenientDuration(field, value, defaultValue string) time.Duration {
	d, err := DurationOrDefault(value, defaultValue)
	if err == nil {
		return d
	}
	slog.Warn("Invalid duration in config, using default", "field", field, "value", value, "default", defaultValue, "error", err)
	d, err = time.ParseDuration(defaultValue)
	if err != nil {
		return 0
	}
	return d
}
