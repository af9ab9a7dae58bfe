package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a Go duration string from a config field. Empty
// means unset and yields zero; negative values are rejected because no
// timeout or delay in this config may run backwards.
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
