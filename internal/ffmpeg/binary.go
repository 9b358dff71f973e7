// Package ffmpeg locates the ffmpeg and ffprobe binaries and runs the
// capture, thumbnail and probe commands used by the recorder.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variables consulted when no explicit path is configured.
const (
	EnvFFmpegBinary  = "TVREC_FFMPEG_BINARY"
	EnvFFprobeBinary = "TVREC_FFPROBE_BINARY"
)

// ErrBinaryNotFound is returned when a binary cannot be located.
var ErrBinaryNotFound = errors.New("binary not found")

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo describes the detected ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// JSON returns the info as an indented JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion reports whether the detected version is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

// FindBinary locates name. Search order: the configured path, the envVar
// environment variable, ./name, then PATH.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		if path, err := exec.LookPath(configured); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, configured)
	}
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}
	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// BinaryDetector detects and caches binary information.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths fall back to the
// environment and PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for detection results.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect finds ffmpeg (required) and ffprobe (optional) and reads the
// ffmpeg version.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	ffmpegPath, err := FindBinary("ffmpeg", d.ffmpegPath, EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	// Duration probing falls back to the requested length without ffprobe.
	if probe, err := FindBinary("ffprobe", d.ffprobePath, EnvFFprobeBinary); err == nil {
		info.FFprobePath = probe
	}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	full, major, minor, ok := ParseVersion(string(out))
	if !ok {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	info.Version, info.MajorVersion, info.MinorVersion = full, major, minor

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached detection result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

// ParseVersion extracts the version from `ffmpeg -version` output, such as
// "ffmpeg version 6.0", "ffmpeg version n6.1-2-g..." or "ffmpeg version 7.0.1".
func ParseVersion(output string) (full string, major, minor int, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			return "", 0, 0, false
		}
		full = parts[2]
		if m := versionRegex.FindStringSubmatch(full); len(m) >= 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, true
	}
	return "", 0, 0, false
}
