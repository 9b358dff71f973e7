package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvrec/internal/channels"
)

// ChannelIndex is the part of the channel index the API exposes.
type ChannelIndex interface {
	Lookup(identifier string) (channels.Channel, bool)
	LookupIn(playlistID, identifier string) (channels.Channel, bool)
	Candidates(identifier string) []channels.Channel
	Search(term, playlistFilter string, exactFirst bool) []channels.Channel
	Playlists() []channels.PlaylistSummary
	RefreshByID(ctx context.Context, id string) bool
	RefreshAll(ctx context.Context)
}

// ChannelHandler handles channel search and playlist endpoints.
type ChannelHandler struct {
	index ChannelIndex
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(index ChannelIndex) *ChannelHandler {
	return &ChannelHandler{index: index}
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "searchChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "Search channels",
		Description: "Case-insensitive substring search over channel names and ids",
		Tags:        []string{"Channels"},
	}, h.Search)

	huma.Register(api, huma.Operation{
		OperationID: "lookupChannel",
		Method:      "GET",
		Path:        "/api/v1/channels/{identifier}",
		Summary:     "Look up channel",
		Description: "Resolves a scoped id, tvg-id or name to one channel",
		Tags:        []string{"Channels"},
	}, h.Lookup)

	huma.Register(api, huma.Operation{
		OperationID: "listPlaylists",
		Method:      "GET",
		Path:        "/api/v1/playlists",
		Summary:     "List playlists",
		Description: "Returns every loaded playlist with its channel count",
		Tags:        []string{"Playlists"},
	}, h.ListPlaylists)

	huma.Register(api, huma.Operation{
		OperationID:   "refreshPlaylists",
		Method:        "POST",
		Path:          "/api/v1/playlists/refresh",
		Summary:       "Refresh all playlists",
		Description:   "Refetches every playlist; failures keep the previous contents",
		Tags:          []string{"Playlists"},
		DefaultStatus: 202,
	}, h.RefreshAll)

	huma.Register(api, huma.Operation{
		OperationID:   "refreshPlaylist",
		Method:        "POST",
		Path:          "/api/v1/playlists/{id}/refresh",
		Summary:       "Refresh playlist",
		Description:   "Refetches one playlist; a failure keeps the previous contents",
		Tags:          []string{"Playlists"},
		DefaultStatus: 202,
	}, h.Refresh)
}

// SearchChannelsInput is the input for searching channels.
type SearchChannelsInput struct {
	Query    string `query:"q" required:"true" minLength:"1" doc:"Search terms; every word must match"`
	Playlist string `query:"playlist" doc:"Restrict to one playlist, e.g. p1"`
	Exact    bool   `query:"exact_first" default:"true" doc:"List exact name or id matches first"`
	Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum results"`
}

// SearchChannelsOutput is the output for searching channels.
type SearchChannelsOutput struct {
	Body struct {
		Total    int               `json:"total"`
		Channels []ChannelResponse `json:"channels"`
	}
}

// Search returns matching channels.
func (h *ChannelHandler) Search(ctx context.Context, input *SearchChannelsInput) (*SearchChannelsOutput, error) {
	results := h.index.Search(input.Query, input.Playlist, input.Exact)

	resp := &SearchChannelsOutput{}
	resp.Body.Total = len(results)
	if input.Limit > 0 && len(results) > input.Limit {
		results = results[:input.Limit]
	}
	resp.Body.Channels = make([]ChannelResponse, 0, len(results))
	for _, c := range results {
		resp.Body.Channels = append(resp.Body.Channels, ChannelFromIndex(c))
	}
	return resp, nil
}

// LookupChannelInput is the input for looking up a channel.
type LookupChannelInput struct {
	Identifier string `path:"identifier" doc:"Scoped id (p1:abc), tvg-id or channel name"`
	Playlist   string `query:"playlist" doc:"Restrict to one playlist, e.g. p1"`
}

// LookupChannelOutput is the output for looking up a channel.
type LookupChannelOutput struct {
	Body struct {
		Channel ChannelResponse `json:"channel"`
		// Ambiguous is set when the identifier is registered by more than
		// one channel; Channel is then the last registration.
		Ambiguous  bool              `json:"ambiguous"`
		Candidates []ChannelResponse `json:"candidates,omitempty"`
	}
}

// Lookup resolves one channel.
func (h *ChannelHandler) Lookup(ctx context.Context, input *LookupChannelInput) (*LookupChannelOutput, error) {
	var (
		ch channels.Channel
		ok bool
	)
	if input.Playlist != "" {
		ch, ok = h.index.LookupIn(input.Playlist, input.Identifier)
	} else {
		ch, ok = h.index.Lookup(input.Identifier)
	}
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.Identifier))
	}

	resp := &LookupChannelOutput{}
	resp.Body.Channel = ChannelFromIndex(ch)
	if input.Playlist == "" {
		candidates := h.index.Candidates(input.Identifier)
		if len(candidates) > 1 {
			resp.Body.Ambiguous = true
			for _, c := range candidates {
				resp.Body.Candidates = append(resp.Body.Candidates, ChannelFromIndex(c))
			}
		}
	}
	return resp, nil
}

// ListPlaylistsInput is the input for listing playlists.
type ListPlaylistsInput struct{}

// ListPlaylistsOutput is the output for listing playlists.
type ListPlaylistsOutput struct {
	Body struct {
		Playlists []PlaylistResponse `json:"playlists"`
	}
}

// ListPlaylists returns the loaded playlists.
func (h *ChannelHandler) ListPlaylists(ctx context.Context, input *ListPlaylistsInput) (*ListPlaylistsOutput, error) {
	summaries := h.index.Playlists()
	resp := &ListPlaylistsOutput{}
	resp.Body.Playlists = make([]PlaylistResponse, 0, len(summaries))
	for _, p := range summaries {
		resp.Body.Playlists = append(resp.Body.Playlists, PlaylistFromSummary(p))
	}
	return resp, nil
}

// RefreshPlaylistsInput is the input for refreshing all playlists.
type RefreshPlaylistsInput struct{}

// RefreshPlaylistOutput is the output for refresh requests.
type RefreshPlaylistOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// RefreshAll refreshes every playlist in the background.
func (h *ChannelHandler) RefreshAll(ctx context.Context, input *RefreshPlaylistsInput) (*RefreshPlaylistOutput, error) {
	go h.index.RefreshAll(context.WithoutCancel(ctx))

	resp := &RefreshPlaylistOutput{}
	resp.Body.Message = "refresh started"
	return resp, nil
}

// RefreshPlaylistInput is the input for refreshing one playlist.
type RefreshPlaylistInput struct {
	ID string `path:"id" doc:"Playlist id, e.g. p1"`
}

// Refresh refreshes one playlist synchronously.
func (h *ChannelHandler) Refresh(ctx context.Context, input *RefreshPlaylistInput) (*RefreshPlaylistOutput, error) {
	if !h.index.RefreshByID(ctx, input.ID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("playlist %s not found", input.ID))
	}

	resp := &RefreshPlaylistOutput{}
	resp.Body.Message = "playlist " + strings.ToLower(input.ID) + " refreshed"
	return resp, nil
}
