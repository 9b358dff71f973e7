package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvrec/pkg/m3u"
)

func TestGenerator_Reproducible(t *testing.T) {
	a := NewGenerator(7).Channels(20, DefaultPlaylistOptions())
	b := NewGenerator(7).Channels(20, DefaultPlaylistOptions())
	assert.Equal(t, a, b)
}

func TestGenerator_DuplicateIDs(t *testing.T) {
	opts := DefaultPlaylistOptions()
	opts.MissingIDRatio = 0
	opts.DuplicateIDs = true
	chs := NewGenerator(1).Channels(6, opts)
	assert.Equal(t, chs[0].TvgID, chs[1].TvgID)
	assert.Equal(t, "ch0003", chs[5].TvgID)
}

func TestM3U_Parses(t *testing.T) {
	opts := DefaultPlaylistOptions()
	opts.MissingIDRatio = 0
	chs := NewGenerator(3).Channels(50, opts)

	entries, err := m3u.ParseAll(strings.NewReader(M3U(chs)))
	require.NoError(t, err)
	require.Len(t, entries, 50)
	assert.Equal(t, chs[10].Name, entries[10].Title)
	assert.Equal(t, chs[10].StreamURL, entries[10].URL)
}
