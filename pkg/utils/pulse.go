// Package utils provides utility functions for PulseWatch
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PulseSessionID generates an ID for a watch session
func PulseSessionID() string {
	return fmt.Sprintf("session-%s-%d",
		time.Now().Format("20060102-150405"),
		time.Now().UnixNano()%1000)
}

// calendarUnits extends time.ParseDuration with day and week prefixes
var calendarUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration parses durations like "2d", "1w3d" or "1d12h30m".
// Whole days and weeks lead; the remainder uses time.ParseDuration syntax.
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for rest != "" {
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits == 0 || digits == len(rest) {
			break
		}
		unit, ok := calendarUnits[rest[digits]]
		if !ok {
			break
		}
		n, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += time.Duration(n) * unit
		rest = rest[digits+1:]
	}

	if rest == "" {
		return total, nil
	}
	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return total + d, nil
}

var displayUnits = []struct {
	suffix string
	size   time.Duration
}{
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// FormatDuration renders the two most significant units, e.g. "1d2h" or "3m5s".
// Spans under a second are rounded to milliseconds.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	var b strings.Builder
	shown := 0
	for _, u := range displayUnits {
		n := d / u.size
		d -= n * u.size
		if n == 0 && shown == 0 {
			continue
		}
		if n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
		}
		shown++
		if shown == 2 {
			break
		}
	}
	return b.String()
}

// ShortenPath keeps the last maxLen bytes of a long path behind a "..." marker
func ShortenPath(path string, maxLen int) string {
	if maxLen <= 0 || len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return path[len(path)-maxLen:]
	}
	return "..." + path[len(path)-(maxLen-3):]
}
