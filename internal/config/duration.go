package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("500ms", "1m").
// path names the offending field in errors so a bad reload points at the
// exact key (e.g. "dispatch.retry_base").

// ParseDurationField parses an optional duration field. Empty means unset
// and parses to 0; negative durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a runtime default for
// unset (or zero) fields.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
