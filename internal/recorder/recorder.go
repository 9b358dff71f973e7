// Package recorder runs one recording from channel resolution through
// capture, finalisation and upload, reporting progress into chat.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/ffmpeg"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/uploader"
	"github.com/jmylchreest/tvrec/pkg/duration"
)

// Defaults.
const (
	DefaultPollInterval    = 3 * time.Second
	DefaultMinEditInterval = time.Second
	DefaultTag             = "@tvrec"
	DefaultTimezone        = "Asia/Kolkata"
	DirectStreamLabel      = "Direct Stream"
	MaxSuggestions         = 10
	MaxErrorExcerpt        = 100
)

// Recorder errors.
var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidRequest  = errors.New("invalid recording request")
	ErrChannelNotFound = errors.New("channel not found")
	ErrCaptureFailed   = errors.New("capture failed")
	ErrCancelled       = errors.New("recording cancelled")
)

// ChannelLookup resolves channel identifiers.
type ChannelLookup interface {
	Lookup(identifier string) (channels.Channel, bool)
	LookupIn(playlistID, identifier string) (channels.Channel, bool)
	Search(term, playlistFilter string, exactFirst bool) []channels.Channel
}

// StreamResolver maps playlist URLs to the final stream URL.
type StreamResolver interface {
	Resolve(ctx context.Context, url string) string
	Quality(ctx context.Context, url string) string
}

// Transcoder captures streams and inspects the result.
type Transcoder interface {
	StartCapture(ctx context.Context, url string, seconds int, output string) (ffmpeg.Process, error)
	Thumbnail(ctx context.Context, input, output string) error
	Duration(ctx context.Context, path string) (float64, error)
	Resolution(ctx context.Context, path string) (string, error)
}

// Uploader delivers finished files.
type Uploader interface {
	Upload(ctx context.Context, req uploader.Request) (*uploader.Result, error)
}

// Observer is notified of every status transition.
type Observer interface {
	OnTransition(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snap Snapshot)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, snap Snapshot) { f(ctx, snap) }

// Request is a validated recording request.
type Request struct {
	// Key correlates the task across the registry, history and chat.
	Key   string
	Title string
	// Source is a channel identifier or an http(s) URL.
	Source string
	// Label names the channel for direct URLs.
	Label      string
	PlaylistID string
	Duration   time.Duration

	ChatID      int64
	ReplyTo     int
	RequestedBy int64
	// RequesterName is shown in status listings.
	RequesterName string

	ScheduledFor time.Time
}

// ParseDuration accepts seconds, M:S or H:M:S and rejects non-positive values.
func ParseDuration(s string) (time.Duration, error) {
	d, err := duration.ParseClock(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidDuration)
	}
	return d, nil
}

// IsDirectURL reports whether source is a stream URL rather than a channel id.
func IsDirectURL(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Config configures a Recorder.
type Config struct {
	Dir             string
	Location        *time.Location
	PollInterval    time.Duration
	MinEditInterval time.Duration
	Tag             string

	Channels   ChannelLookup
	Resolver   StreamResolver
	Transcoder Transcoder
	Uploader   Uploader
	Messenger  chat.Messenger
	Observers  []Observer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Recorder creates tasks sharing one set of collaborators.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// New creates a recorder.
func New(cfg Config) *Recorder {
	if cfg.Dir == "" {
		cfg.Dir = "recordings"
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MinEditInterval <= 0 {
		cfg.MinEditInterval = DefaultMinEditInterval
	}
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		cfg:       cfg,
		logger:    observability.WithComponent(cfg.Logger, "recorder"),
		observers: append([]Observer(nil), cfg.Observers...),
	}
}

// Location returns the zone used for names and captions.
func (r *Recorder) Location() *time.Location {
	return r.cfg.Location
}

// AddObserver registers o for transitions of tasks created afterwards.
func (r *Recorder) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// NewTask validates req and returns a pending task. An empty key is
// replaced by a fresh ULID.
func (r *Recorder) NewTask(req Request) (*Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Source = strings.TrimSpace(req.Source)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if req.Source == "" {
		return nil, fmt.Errorf("%w: channel or url is required", ErrInvalidRequest)
	}
	if req.Duration < time.Second {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidDuration)
	}
	if req.Key == "" {
		req.Key = strings.ToLower(ulid.Make().String())
	}

	r.mu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.RUnlock()

	return newTask(r, req, observers), nil
}
