package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvrec/internal/testutil"
	"github.com/jmylchreest/tvrec/pkg/httpclient"
	"github.com/jmylchreest/tvrec/pkg/m3u"
)

const playlistOne = `#EXTM3U
#EXTINF:-1 tvg-id="Star.Sports-1" group-title="Sports",Star Sports 1
http://streams.example/star1.m3u8
#EXTINF:-1,News Now
http://streams.example/news.m3u8
#EXTINF:-1 tvg-id="sony",Sony
http://streams.example/p1/sony.m3u8
`

const playlistTwo = `#EXTM3U
#EXTINF:-1 tvg-id="sony",Sony
http://streams.example/p2/sony.m3u8
#EXTINF:-1 tvg-id="sony.hd",Sony HD
http://streams.example/p2/sonyhd.m3u8
`

type playlistServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newPlaylistServer(t *testing.T, bodies map[string]string) *playlistServer {
	t.Helper()
	ps := &playlistServer{}
	ps.status.Store(http.StatusOK)
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		if code := int(ps.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func testFetcher() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 0
	return httpclient.New(cfg)
}

func newTestIndex(dir string, now func() time.Time) *Index {
	return New(Config{Fetcher: testFetcher(), CacheDir: dir, Now: now})
}

func TestIndex_LookupKeys(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/one.m3u"})

	require.Equal(t, 3, idx.Len())

	for _, key := range []string{"p1:Star.Sports-1", "P1:STAR.SPORTS-1", "star.sports-1", "Star Sports 1", "  star sports 1 "} {
		c, ok := idx.Lookup(key)
		require.True(t, ok, key)
		assert.Equal(t, "p1:Star.Sports-1", c.ID, key)
		assert.Equal(t, "http://streams.example/star1.m3u8", c.URL)
		assert.Equal(t, "p1", c.Playlist)
		assert.Equal(t, "Sports", c.Group)
	}

	news, ok := idx.Lookup("p1:2")
	require.True(t, ok)
	assert.Equal(t, "News Now", news.Name)
	assert.Empty(t, news.OriginalID)

	_, ok = idx.Lookup("2")
	assert.False(t, ok, "entries without tvg-id register no raw alias")

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
	_, ok = idx.Lookup("")
	assert.False(t, ok)
}

func TestFromEntries_PositionalRawID(t *testing.T) {
	entries := []*m3u.Entry{
		{TvgID: "Alpha.HD", Title: "Alpha", URL: "http://s/a"},
		{Title: "Bravo", URL: "http://s/b"},
		{TvgID: "Charlie", Title: "Charlie", URL: "http://s/c"},
		{Title: "Delta", URL: "http://s/d"},
	}

	pl := FromEntries("p3", 3, "http://lists/three.m3u", entries, time.Time{})
	require.Len(t, pl.Channels, 4)

	bravo := pl.Channels[1]
	assert.Equal(t, "2", bravo.RawID, "1-based position in the file")
	assert.Equal(t, "p3:2", bravo.ID)
	assert.Empty(t, bravo.OriginalID)

	delta := pl.Channels[3]
	assert.Equal(t, "4", delta.RawID, "positions count every entry, not only those without tvg-id")
	assert.Equal(t, "p3:4", delta.ID)

	assert.Equal(t, "Alpha.HD", pl.Channels[0].RawID)
	assert.Equal(t, "p3:Alpha.HD", pl.Channels[0].ID)
}

func TestIndex_CollisionLastWins(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne, "/two.m3u": playlistTwo})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/one.m3u", srv.URL + "/two.m3u"})

	c, ok := idx.Lookup("sony")
	require.True(t, ok)
	assert.Equal(t, "p2:sony", c.ID)

	c, ok = idx.Lookup("p1:sony")
	require.True(t, ok)
	assert.Equal(t, "http://streams.example/p1/sony.m3u8", c.URL)

	c, ok = idx.LookupIn("p1", "sony")
	require.True(t, ok)
	assert.Equal(t, "p1:sony", c.ID)

	_, ok = idx.LookupIn("p2", "star sports 1")
	assert.False(t, ok)

	candidates := idx.Candidates("SONY")
	require.Len(t, candidates, 2)
	assert.Equal(t, "p1:sony", candidates[0].ID)
	assert.Equal(t, "p2:sony", candidates[1].ID)
}

func TestIndex_Search(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne, "/two.m3u": playlistTwo})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/one.m3u", srv.URL + "/two.m3u"})

	got := idx.Search("sony", "", false)
	require.Len(t, got, 3)
	assert.Equal(t, "p1:sony", got[0].ID)

	got = idx.Search("HD sony", "", false)
	require.Len(t, got, 1)
	assert.Equal(t, "p2:sony.hd", got[0].ID)

	got = idx.Search("sony", "p2", true)
	require.Len(t, got, 2)
	assert.Equal(t, "p2:sony", got[0].ID)
	assert.Equal(t, "p2:sony.hd", got[1].ID)

	assert.Empty(t, idx.Search("   ", "", true))
	assert.Empty(t, idx.Search("zee", "", true))
}

func TestIndex_FreshCacheSkipsNetwork(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	dir := t.TempDir()
	url := srv.URL + "/one.m3u"
	now := time.Now()
	clock := func() time.Time { return now }

	first := newTestIndex(dir, clock)
	first.Load(context.Background(), []string{url})
	require.Equal(t, int32(1), srv.hits.Load())
	require.FileExists(t, CachePath(dir, url))

	second := newTestIndex(dir, clock)
	second.Load(context.Background(), []string{url})
	assert.Equal(t, int32(1), srv.hits.Load(), "fresh cache must not hit the network")

	c, ok := second.Lookup("star sports 1")
	require.True(t, ok)
	assert.Equal(t, "p1:Star.Sports-1", c.ID)
}

func TestIndex_StaleCacheIsRefreshed(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	dir := t.TempDir()
	url := srv.URL + "/one.m3u"
	now := time.Now()

	newTestIndex(dir, func() time.Time { return now }).Load(context.Background(), []string{url})
	require.Equal(t, int32(1), srv.hits.Load())

	later := now.Add(2 * time.Hour)
	srv.status.Store(http.StatusInternalServerError)
	idx := newTestIndex(dir, func() time.Time { return later })
	idx.Load(context.Background(), []string{url})

	assert.Equal(t, int32(2), srv.hits.Load(), "stale cache triggers a refresh")
	_, ok := idx.Lookup("sony")
	assert.True(t, ok, "stale cache stays installed when refresh fails")
}

func TestIndex_CorruptCacheIsMiss(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	dir := t.TempDir()
	url := srv.URL + "/one.m3u"
	require.NoError(t, os.WriteFile(CachePath(dir, url), []byte("{not json"), 0o644))

	idx := newTestIndex(dir, nil)
	idx.Load(context.Background(), []string{url})

	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, 3, idx.Len())
}

func TestIndex_RefreshFailureKeepsPlaylist(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	var refreshErrs []error
	idx := New(Config{
		Fetcher: testFetcher(),
		OnRefresh: func(_ string, _ int, err error) {
			refreshErrs = append(refreshErrs, err)
		},
	})
	url := srv.URL + "/one.m3u"
	idx.Load(context.Background(), []string{url})
	require.Equal(t, 3, idx.Len())

	srv.status.Store(http.StatusBadRequest)
	idx.RefreshAll(context.Background())

	assert.Equal(t, 3, idx.Len())
	require.Len(t, refreshErrs, 2)
	assert.NoError(t, refreshErrs[0])
	assert.Error(t, refreshErrs[1])
}

func TestIndex_Playlists(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne, "/two.m3u": playlistTwo})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/one.m3u", srv.URL + "/two.m3u"})

	summaries := idx.Playlists()
	require.Len(t, summaries, 2)
	assert.Equal(t, "p1", summaries[0].ID)
	assert.Equal(t, 3, summaries[0].Channels)
	assert.Equal(t, "p2", summaries[1].ID)

	pl, ok := idx.Playlist("p2")
	require.True(t, ok)
	assert.Len(t, pl.Channels, 2)
}

func TestIndex_RefreshByID(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne, "/two.m3u": playlistTwo})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/one.m3u", srv.URL + "/two.m3u"})
	before := srv.hits.Load()

	assert.True(t, idx.RefreshByID(context.Background(), "P2"))
	assert.Equal(t, before+1, srv.hits.Load())

	assert.False(t, idx.RefreshByID(context.Background(), "p9"))
	assert.Equal(t, before+1, srv.hits.Load())
}

func TestIndex_ConcurrentReadsDuringRefresh(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/one.m3u": playlistOne})
	idx := newTestIndex("", nil)
	url := srv.URL + "/one.m3u"
	idx.Load(context.Background(), []string{url})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, ok := idx.Lookup("sony")
				if assert.True(t, ok) {
					assert.Equal(t, "p1:sony", c.ID)
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		idx.Refresh(context.Background(), url, 1)
	}
	wg.Wait()
}

func TestIndex_GeneratedPlaylist(t *testing.T) {
	opts := testutil.DefaultPlaylistOptions()
	opts.MissingIDRatio = 0
	generated := testutil.NewGenerator(42).Channels(500, opts)
	srv := newPlaylistServer(t, map[string]string{"/big.m3u": testutil.M3U(generated)})
	idx := newTestIndex("", nil)
	idx.Load(context.Background(), []string{srv.URL + "/big.m3u"})

	require.Equal(t, 500, idx.Len())

	want := generated[249]
	c, ok := idx.Lookup("p1:" + want.TvgID)
	require.True(t, ok)
	assert.Equal(t, want.Name, c.Name)
	assert.Equal(t, want.StreamURL, c.URL)
	assert.Equal(t, want.GroupTitle, c.Group)

	found := false
	for _, got := range idx.Search(want.Name, "p1", true) {
		if got.ID == c.ID {
			found = true
		}
	}
	assert.True(t, found, "search finds %q", want.Name)
}
