// Package channels maintains the in-memory channel index built from one or
// more M3U playlists, with an on-disk JSON cache per playlist.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/pkg/m3u"
)

// Default index settings.
const (
	DefaultCacheTTL     = time.Hour
	DefaultFetchTimeout = 10 * time.Second
)

var originalIDPattern = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// Channel is one playable stream from a playlist.
type Channel struct {
	// ID is "<playlist>:<raw-id>".
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	// RawID is the tvg-id as written, or the 1-based position of the entry
	// when the playlist carries none.
	RawID string `json:"raw_id"`
	// OriginalID is the tvg-id restricted to [A-Za-z0-9.-]; empty when absent.
	OriginalID string `json:"original_id"`
	Playlist   string `json:"playlist"`
	Group      string `json:"group,omitempty"`
	Logo       string `json:"logo,omitempty"`
}

// Playlist is a snapshot of one source, replaced wholesale on refresh.
type Playlist struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	SourceURL string    `json:"url"`
	Channels  []Channel `json:"channels"`
	FetchedAt time.Time `json:"fetched_at"`
}

// PlaylistID returns the identifier for the playlist at 1-based ordinal n.
func PlaylistID(n int) string {
	return "p" + strconv.Itoa(n)
}

// Fetcher retrieves playlist bodies. It must fail on non-2xx responses.
type Fetcher interface {
	GetOK(ctx context.Context, url string) (*http.Response, error)
}

// Config configures an Index.
type Config struct {
	Fetcher      Fetcher
	CacheDir     string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
	// OnRefresh, if set, is called after every refresh attempt.
	OnRefresh func(playlistID string, channels int, err error)
	// Now overrides the clock for cache freshness checks.
	Now func() time.Time
}

// Index is a concurrency-safe channel registry. Readers always see a
// complete snapshot; refreshes are serialised.
type Index struct {
	cfg     Config
	logger  *slog.Logger
	mu      sync.Mutex
	snap    atomic.Pointer[snapshot]
	sources []string
}

// New creates an empty index.
func New(cfg Config) *Index {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	idx := &Index{cfg: cfg, logger: observability.WithComponent(cfg.Logger, "channels")}
	idx.snap.Store(buildSnapshot(nil))
	return idx
}

// Load registers urls as p1..pN. Fresh cache entries are used without
// touching the network; stale entries are installed and then refreshed.
func (x *Index) Load(ctx context.Context, urls []string) {
	x.mu.Lock()
	x.sources = append([]string(nil), urls...)
	x.mu.Unlock()

	for i, u := range urls {
		ordinal := i + 1
		cached, fresh := x.loadCache(u, ordinal)
		if cached != nil {
			x.install(cached)
			x.logger.Info("playlist loaded from cache",
				slog.String("playlist", cached.ID),
				slog.Int("channels", len(cached.Channels)),
				slog.Bool("fresh", fresh),
			)
			if fresh {
				continue
			}
		}
		x.Refresh(ctx, u, ordinal)
	}
}

// RefreshAll refreshes every registered source in order.
func (x *Index) RefreshAll(ctx context.Context) {
	x.mu.Lock()
	sources := append([]string(nil), x.sources...)
	x.mu.Unlock()

	for i, u := range sources {
		if ctx.Err() != nil {
			return
		}
		x.Refresh(ctx, u, i+1)
	}
}

// RefreshByID refreshes the registered source behind playlist id and
// reports whether id names one.
func (x *Index) RefreshByID(ctx context.Context, id string) bool {
	x.mu.Lock()
	sources := append([]string(nil), x.sources...)
	x.mu.Unlock()

	id = strings.ToLower(strings.TrimSpace(id))
	for i, u := range sources {
		if PlaylistID(i+1) == id {
			x.Refresh(ctx, u, i+1)
			return true
		}
	}
	return false
}

// Refresh fetches and parses playlistURL and replaces playlist p<ordinal>.
// Failures are logged and leave the current playlist untouched.
func (x *Index) Refresh(ctx context.Context, playlistURL string, ordinal int) {
	id := PlaylistID(ordinal)
	var err error
	done := observability.TimedOperationWithError(ctx,
		x.logger.With(slog.String("playlist", id)), "refresh_playlist", &err)
	defer done()

	var pl *Playlist
	pl, err = x.fetch(ctx, playlistURL, ordinal)
	if x.cfg.OnRefresh != nil {
		n := 0
		if pl != nil {
			n = len(pl.Channels)
		}
		x.cfg.OnRefresh(id, n, err)
	}
	if err != nil {
		return
	}

	x.install(pl)
	if cerr := x.saveCache(pl); cerr != nil {
		x.logger.Warn("failed to write playlist cache",
			slog.String("playlist", id),
			slog.String("error", cerr.Error()),
		)
	}
}

func (x *Index) fetch(ctx context.Context, playlistURL string, ordinal int) (*Playlist, error) {
	if x.cfg.Fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	ctx, cancel := context.WithTimeout(ctx, x.cfg.FetchTimeout)
	defer cancel()

	resp, err := x.cfg.Fetcher.GetOK(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	entries, err := m3u.ParseAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	return FromEntries(PlaylistID(ordinal), ordinal, playlistURL, entries, x.cfg.Now()), nil
}

// FromEntries builds a playlist from parsed entries in file order.
func FromEntries(id string, number int, sourceURL string, entries []*m3u.Entry, fetchedAt time.Time) *Playlist {
	pl := &Playlist{ID: id, Number: number, SourceURL: sourceURL, FetchedAt: fetchedAt}
	pl.Channels = make([]Channel, 0, len(entries))
	for i, e := range entries {
		raw := e.TvgID
		if raw == "" {
			raw = strconv.Itoa(i + 1)
		}
		pl.Channels = append(pl.Channels, Channel{
			RawID:      raw,
			Name:       e.Title,
			URL:        e.URL,
			OriginalID: originalIDPattern.ReplaceAllString(e.TvgID, ""),
			Group:      e.GroupTitle,
			Logo:       e.TvgLogo,
		})
	}
	pl.stamp(id, number)
	return pl
}

// stamp assigns the playlist id to the playlist and its channels.
func (p *Playlist) stamp(id string, number int) {
	p.ID = id
	p.Number = number
	for i := range p.Channels {
		p.Channels[i].Playlist = id
		p.Channels[i].ID = id + ":" + p.Channels[i].RawID
	}
}

func (x *Index) install(pl *Playlist) {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	next := make([]*Playlist, 0, len(cur.playlists)+1)
	for _, p := range cur.playlists {
		if p.ID != pl.ID {
			next = append(next, p)
		}
	}
	next = append(next, pl)
	x.snap.Store(buildSnapshot(next))
}

// Lookup resolves identifier by scoped id, then raw id, then name, all
// case-insensitive. Colliding non-scoped keys resolve to the last
// registration in playlist then file order.
func (x *Index) Lookup(identifier string) (Channel, bool) {
	return x.snap.Load().lookup(identifier, "")
}

// LookupIn is Lookup limited to one playlist.
func (x *Index) LookupIn(playlistID, identifier string) (Channel, bool) {
	return x.snap.Load().lookup(identifier, playlistID)
}

// Candidates returns every distinct channel registered under identifier.
func (x *Index) Candidates(identifier string) []Channel {
	s := x.snap.Load()
	key := strings.ToLower(strings.TrimSpace(identifier))
	seen := make(map[*Channel]bool)
	var out []Channel
	for _, m := range []map[string][]*Channel{s.byScoped, s.byRaw, s.byName} {
		for _, c := range m[key] {
			if !seen[c] {
				seen[c] = true
				out = append(out, *c)
			}
		}
	}
	return out
}

// Search returns channels whose name or raw id contains every word of term,
// case-insensitive, in index order. With exactFirst, exact name or id
// matches are moved to the front.
func (x *Index) Search(term, playlistFilter string, exactFirst bool) []Channel {
	s := x.snap.Load()
	term = strings.ToLower(strings.TrimSpace(term))
	words := strings.Fields(term)
	if len(words) == 0 {
		return nil
	}

	var exact, partial []Channel
	for _, pl := range s.playlists {
		if playlistFilter != "" && pl.ID != playlistFilter {
			continue
		}
		for _, c := range pl.Channels {
			name, raw := strings.ToLower(c.Name), strings.ToLower(c.RawID)
			if exactFirst && (name == term || raw == term || strings.ToLower(c.OriginalID) == term) {
				exact = append(exact, c)
				continue
			}
			if containsAll(name+" "+raw, words) {
				partial = append(partial, c)
			}
		}
	}
	return append(exact, partial...)
}

func containsAll(hay string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	return true
}

// Playlist returns a copy of the playlist with the given id.
func (x *Index) Playlist(id string) (Playlist, bool) {
	for _, p := range x.snap.Load().playlists {
		if p.ID == id {
			return *p, true
		}
	}
	return Playlist{}, false
}

// PlaylistSummary describes one loaded playlist.
type PlaylistSummary struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"url"`
	Channels  int       `json:"channels"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Playlists summarises loaded playlists in ordinal order.
func (x *Index) Playlists() []PlaylistSummary {
	pls := x.snap.Load().playlists
	out := make([]PlaylistSummary, 0, len(pls))
	for _, p := range pls {
		out = append(out, PlaylistSummary{ID: p.ID, SourceURL: p.SourceURL, Channels: len(p.Channels), FetchedAt: p.FetchedAt})
	}
	return out
}

// Len returns the number of channels across all playlists.
func (x *Index) Len() int {
	n := 0
	for _, p := range x.snap.Load().playlists {
		n += len(p.Channels)
	}
	return n
}

type snapshot struct {
	playlists []*Playlist
	byScoped  map[string][]*Channel
	byRaw     map[string][]*Channel
	byName    map[string][]*Channel
}

func buildSnapshot(playlists []*Playlist) *snapshot {
	sort.SliceStable(playlists, func(i, j int) bool { return playlists[i].Number < playlists[j].Number })
	s := &snapshot{
		playlists: playlists,
		byScoped:  make(map[string][]*Channel),
		byRaw:     make(map[string][]*Channel),
		byName:    make(map[string][]*Channel),
	}
	for _, pl := range playlists {
		for i := range pl.Channels {
			c := &pl.Channels[i]
			s.byScoped[strings.ToLower(c.ID)] = append(s.byScoped[strings.ToLower(c.ID)], c)
			if c.OriginalID != "" {
				k := strings.ToLower(c.OriginalID)
				s.byRaw[k] = append(s.byRaw[k], c)
			}
			k := strings.ToLower(c.Name)
			s.byName[k] = append(s.byName[k], c)
		}
	}
	return s
}

func (s *snapshot) lookup(identifier, playlistID string) (Channel, bool) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	if key == "" {
		return Channel{}, false
	}
	if playlistID != "" && !strings.Contains(key, ":") {
		if c := last(s.byScoped[strings.ToLower(playlistID)+":"+key], playlistID); c != nil {
			return *c, true
		}
	}
	for _, m := range []map[string][]*Channel{s.byScoped, s.byRaw, s.byName} {
		if c := last(m[key], playlistID); c != nil {
			return *c, true
		}
	}
	return Channel{}, false
}

func last(regs []*Channel, playlistID string) *Channel {
	for i := len(regs) - 1; i >= 0; i-- {
		if playlistID == "" || regs[i].Playlist == playlistID {
			return regs[i]
		}
	}
	return nil
}
