package channels

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// cacheEntry is the on-disk layout: {"timestamp": <epoch seconds>, "data": <playlist>}.
type cacheEntry struct {
	Timestamp float64   `json:"timestamp"`
	Data      *Playlist `json:"data"`
}

// CachePath returns the cache file for playlistURL inside dir.
func CachePath(dir, playlistURL string) string {
	sum := sha256.Sum256([]byte(playlistURL))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+".json")
}

// loadCache returns the cached playlist for url re-stamped as p<ordinal>,
// and whether it is younger than the TTL. Missing or corrupt files are a
// miss.
func (x *Index) loadCache(playlistURL string, ordinal int) (*Playlist, bool) {
	if x.cfg.CacheDir == "" {
		return nil, false
	}
	path := CachePath(x.cfg.CacheDir, playlistURL)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			x.logger.Warn("failed to read playlist cache", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Data == nil {
		x.logger.Warn("ignoring corrupt playlist cache", slog.String("path", path))
		return nil, false
	}

	sec, frac := math.Modf(entry.Timestamp)
	written := time.Unix(int64(sec), int64(frac*1e9))
	fresh := x.cfg.Now().Sub(written) < x.cfg.CacheTTL

	pl := entry.Data
	pl.SourceURL = playlistURL
	pl.stamp(PlaylistID(ordinal), ordinal)
	return pl, fresh
}

func (x *Index) saveCache(pl *Playlist) error {
	if x.cfg.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(x.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	now := x.cfg.Now()
	data, err := json.Marshal(cacheEntry{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Data:      pl,
	})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	if err := renameio.WriteFile(CachePath(x.cfg.CacheDir, pl.SourceURL), data, 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}
