// Package dateparse parses the --since arguments of the CLI into a point in
// the past.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSince parses a lower time bound relative to now.
//
// Supported formats:
//   - Go durations: "90m", "24h", "1h30m"
//   - Relative days, weeks, months: "7d", "2w", "1m" (a leading "-" is allowed)
//   - Exact dates: "2026-03-01" (midnight, local time)
//   - Timestamps: RFC 3339
//   - Keywords: "today", "yesterday" (start of day)
func ParseSince(input string) (time.Time, error) {
	return ParseSinceFrom(input, time.Now())
}

// ParseSinceFrom parses input relative to the given reference time.
// This variant enables deterministic testing with a fixed "now".
func ParseSinceFrom(input string, now time.Time) (time.Time, error) {
	in := strings.TrimSpace(strings.ToLower(input))
	if in == "" {
		return time.Time{}, fmt.Errorf("empty since input")
	}

	switch in {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now.AddDate(0, 0, -1)), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", in, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(input)); err == nil {
		return t, nil
	}

	in = strings.TrimPrefix(in, "-")
	if len(in) >= 2 {
		suffix := in[len(in)-1]
		if n, err := strconv.Atoi(in[:len(in)-1]); err == nil && n >= 0 {
			switch suffix {
			case 'd':
				return now.AddDate(0, 0, -n), nil
			case 'w':
				return now.AddDate(0, 0, -7*n), nil
			case 'm':
				// "5m" reads as months here; "5m0s" or "300s" for minutes.
				return now.AddDate(0, -n, 0), nil
			}
		}
	}

	if d, err := time.ParseDuration(in); err == nil && d >= 0 {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized since format: %q (use e.g. 24h, 7d, 2w or 2026-03-01)", input)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
