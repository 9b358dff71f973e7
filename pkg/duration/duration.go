// Package duration provides human-readable duration parsing and formatting.
//
// Two notations are supported:
//   - unit strings that extend time.ParseDuration with days and weeks
//     ("30d", "2 weeks", "1w2d12h"), used for retention windows and TTLs;
//   - clock strings ("90", "1:30", "0:01:30"), used for recording lengths.
package duration

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// ErrInvalidClock is returned when a clock string is neither S, M:S nor H:M:S.
var ErrInvalidClock = errors.New("duration: invalid clock format")

// extendedUnitPattern matches day and week units with optional whitespace.
var extendedUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// wordUnitPattern matches spelled out standard units.
var wordUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?)`)

var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
}

// Parse parses a unit duration string. Days and weeks are converted to hours
// before delegating to time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimSpace(strings.TrimPrefix(s, "-"))

	var hours int64
	rest := extendedUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := extendedUnitPattern.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(m[1], 10, 64)
		if strings.HasPrefix(strings.ToLower(m[2]), "w") {
			hours += value * 7 * 24
		} else {
			hours += value * 24
		}
		return ""
	})
	rest = wordUnitPattern.ReplaceAllStringFunc(rest, func(match string) string {
		m := wordUnitPattern.FindStringSubmatch(match)
		return m[1] + wordUnits[strings.ToLower(m[2])]
	})
	rest = strings.Join(strings.Fields(rest), "")

	var expr string
	if hours > 0 {
		expr = fmt.Sprintf("%dh", hours)
	}
	expr += rest
	if expr == "" {
		expr = "0s"
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration using the largest units, omitting zero parts.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	var b strings.Builder
	for _, u := range []struct {
		size time.Duration
		name string
	}{{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}} {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	if d > 0 {
		fmt.Fprintf(&b, "%dms", d/time.Millisecond)
	}
	if b.Len() == 0 {
		return "0s"
	}
	return sign + b.String()
}

// ParseClock parses a bare integer number of seconds, "M:S" or "H:M:S".
// Only whole, non-negative components are accepted.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidClock
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	const maxSeconds = math.MaxInt64 / int64(time.Second)

	var total int64
	for _, p := range parts {
		if p == "" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		if total > (maxSeconds-n)/60 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidClock, s)
		}
		total = total*60 + n
	}
	if total > maxSeconds {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidClock, s)
	}
	return time.Duration(total) * time.Second, nil
}

// FormatClock renders a duration as zero padded HH:MM:SS.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Human renders a duration as "1hr, 2min, 3sec", omitting zero parts.
func Human(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0sec"
	}
	var parts []string
	if h := secs / 3600; h > 0 {
		parts = append(parts, fmt.Sprintf("%dhr", h))
	}
	if m := (secs % 3600) / 60; m > 0 {
		parts = append(parts, fmt.Sprintf("%dmin", m))
	}
	if s := secs % 60; s > 0 {
		parts = append(parts, fmt.Sprintf("%dsec", s))
	}
	return strings.Join(parts, ", ")
}
