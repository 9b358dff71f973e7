package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSize_Text(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("2GiB")))
	assert.Equal(t, int64(2<<30), b.Bytes())

	require.NoError(t, b.UnmarshalText([]byte("1024")))
	assert.Equal(t, int64(1024), b.Bytes())

	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Error(t, b.UnmarshalText(nil))

	out, err := ByteSize(2 << 30).MarshalText()
	require.NoError(t, err)
	back, err := ParseByteSize(string(out))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(2<<30), back)
}

func TestDuration_Text(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"3s", 3 * time.Second},
		{"1h", time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			require.NoError(t, d.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
