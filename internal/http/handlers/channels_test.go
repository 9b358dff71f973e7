package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvrec/internal/channels"
)

const testPlaylistOne = `#EXTM3U
#EXTINF:-1 tvg-id="star1" group-title="Sports",Star Sports 1
http://streams.example/star1.m3u8?token=secret
#EXTINF:-1 tvg-id="sony",Sony
http://streams.example/p1/sony.m3u8
`

const testPlaylistTwo = `#EXTM3U
#EXTINF:-1 tvg-id="sony",Sony
http://streams.example/p2/sony.m3u8
`

// staticFetcher serves playlist bodies from memory.
type staticFetcher struct {
	bodies map[string]string
	calls  atomic.Int32
}

func (f *staticFetcher) GetOK(_ context.Context, url string) (*http.Response, error) {
	f.calls.Add(1)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(f.bodies[url])),
	}, nil
}

func newChannelAPI(t *testing.T) (humatest.TestAPI, *staticFetcher) {
	t.Helper()
	fetcher := &staticFetcher{bodies: map[string]string{
		"http://lists.example/one.m3u": testPlaylistOne,
		"http://lists.example/two.m3u": testPlaylistTwo,
	}}
	idx := channels.New(channels.Config{Fetcher: fetcher})
	idx.Load(context.Background(), []string{"http://lists.example/one.m3u", "http://lists.example/two.m3u"})

	_, api := humatest.New(t)
	NewChannelHandler(idx).Register(api)
	return api, fetcher
}

func TestChannelHandler_Search(t *testing.T) {
	api, _ := newChannelAPI(t)

	resp := api.Get("/api/v1/channels?q=sony")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out SearchChannelsOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	assert.Equal(t, 2, out.Body.Total)

	resp = api.Get("/api/v1/channels?q=sony&playlist=p2")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	require.Len(t, out.Body.Channels, 1)
	assert.Equal(t, "p2", out.Body.Channels[0].Playlist)

	resp = api.Get("/api/v1/channels?q=star")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	require.Len(t, out.Body.Channels, 1)
	assert.NotContains(t, out.Body.Channels[0].URL, "secret")
}

func TestChannelHandler_Lookup(t *testing.T) {
	api, _ := newChannelAPI(t)

	resp := api.Get("/api/v1/channels/p1:star1")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out LookupChannelOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	assert.Equal(t, "Star Sports 1", out.Body.Channel.Name)
	assert.False(t, out.Body.Ambiguous)

	resp = api.Get("/api/v1/channels/SONY")
	require.Equal(t, http.StatusOK, resp.Code)
	out = LookupChannelOutput{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	assert.True(t, out.Body.Ambiguous)
	assert.Len(t, out.Body.Candidates, 2)
	assert.Equal(t, "p2", out.Body.Channel.Playlist, "last registration wins")

	resp = api.Get("/api/v1/channels/sony?playlist=p1")
	require.Equal(t, http.StatusOK, resp.Code)
	out = LookupChannelOutput{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	assert.Equal(t, "p1", out.Body.Channel.Playlist)

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/channels/nothing").Code)
}

func TestChannelHandler_Playlists(t *testing.T) {
	api, fetcher := newChannelAPI(t)

	resp := api.Get("/api/v1/playlists")
	require.Equal(t, http.StatusOK, resp.Code)
	var out ListPlaylistsOutput
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out.Body))
	require.Len(t, out.Body.Playlists, 2)
	assert.Equal(t, 2, out.Body.Playlists[0].Channels)

	before := fetcher.calls.Load()
	assert.Equal(t, http.StatusAccepted, api.Post("/api/v1/playlists/p1/refresh").Code)
	assert.Equal(t, before+1, fetcher.calls.Load())
	assert.Equal(t, http.StatusNotFound, api.Post("/api/v1/playlists/p7/refresh").Code)
}
