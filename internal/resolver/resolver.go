// Package resolver turns channel URLs into the final stream URL handed to the
// transcoder, following redirects the way a browser would.
package resolver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/jmylchreest/tvrec/internal/observability"
)

// DefaultTimeout bounds a single resolve request.
const DefaultTimeout = 10 * time.Second

// Browser headers sent with every resolve request.
const (
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	Referer          = "https://www.tataplay.com/"
	Origin           = "https://www.tataplay.com"
)

// Quality labels.
const (
	QualityFHD = "FHD"
	QualityHD  = "HD"
	QualitySD  = "SD"
	QualityHQ  = "HQ"
)

// Doer executes HTTP requests. *http.Client and *httpclient.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver follows redirects to the final stream location.
type Resolver struct {
	client  Doer
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a resolver. A nil client uses http.DefaultClient.
func New(client Doer, logger *slog.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:  client,
		timeout: DefaultTimeout,
		logger:  observability.WithComponent(logger, "resolver"),
	}
}

// WithTimeout overrides the per-request timeout.
func (r *Resolver) WithTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Resolve returns the URL reached after following redirects. URLs already
// pointing at an .m3u8 are returned untouched. Any failure yields the input.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) string {
	if strings.HasSuffix(strings.ToLower(rawURL), ".m3u8") {
		return rawURL
	}

	resp, err := r.get(ctx, rawURL)
	if err != nil {
		r.logger.Warn("stream resolve failed",
			slog.String("url", observability.RedactQuery(rawURL)),
			slog.String("error", err.Error()),
		)
		return rawURL
	}
	resp.Body.Close()

	if resp.Request == nil || resp.Request.URL == nil {
		return rawURL
	}
	final := resp.Request.URL.String()
	if final != rawURL {
		r.logger.Debug("stream resolved",
			slog.String("from", observability.RedactQuery(rawURL)),
			slog.String("to", observability.RedactQuery(final)),
		)
	}
	return final
}

// Quality fetches an HLS playlist and labels its best variant. It returns
// "" for media playlists, variants without a resolution, and errors.
func (r *Resolver) Quality(ctx context.Context, streamURL string) string {
	resp, err := r.get(ctx, streamURL)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}

	pl, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil || listType != m3u8.MASTER {
		return ""
	}
	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return ""
	}

	best, bestPixels := "", 0
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		w, h, ok := parseResolution(v.Resolution)
		if !ok {
			continue
		}
		if w*h > bestPixels {
			best, bestPixels = v.Resolution, w*h
		}
	}
	if best == "" {
		return ""
	}
	return QualityLabel(best)
}

func (r *Resolver) get(ctx context.Context, rawURL string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Referer", Referer)
	req.Header.Set("Origin", Origin)

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// QualityLabel maps a WIDTHxHEIGHT resolution to a caption label.
func QualityLabel(resolution string) string {
	switch {
	case strings.Contains(resolution, "1920x1080"):
		return QualityFHD
	case strings.Contains(resolution, "1280x720"):
		return QualityHD
	case strings.Contains(resolution, "720x480"):
		return QualitySD
	default:
		return QualityHQ
	}
}

func parseResolution(s string) (int, int, bool) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
