// Package format provides human-readable formatting for chat captions and
// progress lines.
package format

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats a byte count with a 1024 base and two decimals, dropping a
// ".00" fraction. Example: Bytes(1536) => "1.50 KB", Bytes(1024) => "1 KB".
func Bytes(n int64) string {
	if n < 0 {
		return "0 B"
	}
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return strings.Replace(fmt.Sprintf("%.2f %s", size, unit), ".00", "", 1)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// Bar renders a fixed width bar with filled cells for fraction in [0,1].
func Bar(fraction float64, width int, filled, empty string) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	done := int(fraction * float64(width))
	return strings.Repeat(filled, done) + strings.Repeat(empty, width-done)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SplitMessage splits text into chunks of at most limit runes, preferring
// line boundaries.
func SplitMessage(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		for len(r) > limit {
			flush()
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		if curLen+len(r) > limit {
			flush()
		}
		cur.WriteString(string(r))
		curLen += len(r)
	}
	flush()
	return chunks
}
