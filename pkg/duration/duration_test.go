package duration

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"hours", "720h", 720 * time.Hour, false},
		{"combined standard", "1h30m", 90 * time.Minute, false},
		{"days short", "30d", 30 * Day, false},
		{"days words", "30 days", 30 * Day, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"weeks", "2 weeks", 2 * Week, false},
		{"weeks and days", "1w2d", 9 * Day, false},
		{"spelled hours", "3 hours", 3 * time.Hour, false},
		{"spelled mixed", "1 hour 30 minutes", 90 * time.Minute, false},
		{"negative", "-1d", -Day, false},
		{"empty", "", 0, true},
		{"garbage", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0s", Format(0))
	assert.Equal(t, "1h", Format(time.Hour))
	assert.Equal(t, "1d12h", Format(36*time.Hour))
	assert.Equal(t, "1w2d", Format(9*Day))
	assert.Equal(t, "-1m30s", Format(-90*time.Second))
}

func TestParseClock(t *testing.T) {
	for _, in := range []string{"90", "1:30", "0:01:30", " 01:30 "} {
		d, err := ParseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, 90*time.Second, d, in)
	}

	d, err := ParseClock("1:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	for _, in := range []string{"", "abc", "1:2:3:4", "1::2", "-5", "1.5", ":30"} {
		_, err := ParseClock(in)
		assert.ErrorIs(t, err, ErrInvalidClock, in)
	}
}

func TestParseClock_Overflow(t *testing.T) {
	maxSeconds := int64(math.MaxInt64 / int64(time.Second))

	d, err := ParseClock(strconv.FormatInt(maxSeconds, 10))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(maxSeconds)*time.Second, d)
	assert.Positive(t, d)

	for _, in := range []string{
		strconv.FormatInt(maxSeconds+1, 10),
		"9223372036854775807",
		"9999999999999:0:0",
		"153722867280912:0",
	} {
		_, err := ParseClock(in)
		assert.ErrorIs(t, err, ErrInvalidClock, in)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatClock(0))
	assert.Equal(t, "00:01:30", FormatClock(90*time.Second))
	assert.Equal(t, "01:02:03", FormatClock(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "00:00:00", FormatClock(-time.Second))
}

func TestHuman(t *testing.T) {
	assert.Equal(t, "0sec", Human(0))
	assert.Equal(t, "45sec", Human(45*time.Second))
	assert.Equal(t, "1hr, 30sec", Human(time.Hour+30*time.Second))
	assert.Equal(t, "2hr, 5min, 1sec", Human(2*time.Hour+5*time.Minute+time.Second))
}
