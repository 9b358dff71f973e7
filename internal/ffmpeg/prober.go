package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrNoVideoStream is returned when a file carries no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeResult is the subset of ffprobe JSON output used by the recorder.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober for the ffprobe binary at ffprobePath.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe returns format and stream information for path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe: %w", ErrBinaryNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseProbeOutput(out)
}

// ParseProbeOutput decodes ffprobe JSON output.
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	res, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return res.DurationSeconds()
}

// Resolution returns the first video stream's size as WIDTHxHEIGHT.
func (p *Prober) Resolution(ctx context.Context, path string) (string, error) {
	res, err := p.Probe(ctx, path)
	if err != nil {
		return "", err
	}
	return res.Resolution()
}

// DurationSeconds parses the format duration.
func (r *ProbeResult) DurationSeconds() (float64, error) {
	if r.Format.Duration == "" {
		return 0, fmt.Errorf("duration not reported")
	}
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", r.Format.Duration, err)
	}
	return d, nil
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Resolution returns the first video stream's size as WIDTHxHEIGHT.
func (r *ProbeResult) Resolution() (string, error) {
	v := r.VideoStream()
	if v == nil || v.Width == 0 || v.Height == 0 {
		return "", ErrNoVideoStream
	}
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height), nil
}
