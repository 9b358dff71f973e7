// Package bytesize parses and formats byte sizes such as "2GiB" or "500 KB".
// All units use the binary (1024) base.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte size.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

var unitMultipliers = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a size with an optional unit. A bare number is bytes.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	multiplier := B
	if unit := strings.ToLower(m[2]); unit != "" {
		var ok bool
		if multiplier, ok = unitMultipliers[unit]; !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
		}
	}
	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders a size compactly using the largest whole unit, e.g. "2GB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	sign := ""
	if s < 0 {
		sign = "-"
		s = -s
	}
	for _, u := range []struct {
		size Size
		name string
	}{{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}} {
		if s >= u.size {
			v := strconv.FormatFloat(float64(s)/float64(u.size), 'f', 2, 64)
			v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
			return sign + v + u.name
		}
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 {
	return int64(s)
}

func (s Size) String() string {
	return Format(s)
}
