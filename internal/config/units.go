package config

import (
	"time"

	"github.com/jmylchreest/tvrec/pkg/bytesize"
	"github.com/jmylchreest/tvrec/pkg/duration"
)

// ByteSize is a config size such as "2GiB" or "500MB". It decodes through
// the text unmarshalling hook and dumps back in the same notation.
type ByteSize int64

// ParseByteSize parses a human-readable byte size.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := bytesize.Parse(s)
	return ByteSize(n), err
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = n
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 { return int64(b) }

func (b ByteSize) String() string { return bytesize.Format(bytesize.Size(b)) }

// Duration is a config interval. Besides Go notation it accepts day and
// week units ("30d", "1w"), which the history retention uses.
type Duration time.Duration

// ParseDuration parses a human-readable duration.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	return Duration(d), err
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return duration.Format(time.Duration(d)) }
