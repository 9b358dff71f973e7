package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// Headers sent to the stream origin during capture.
var CaptureHeaders = []string{
	"User-Agent: Mozilla/5.0",
	"Referer: https://www.tataplay.com/",
	"Origin: https://www.tataplay.com",
}

// Thumbnail settings.
const (
	ThumbnailOffset = "00:00:01"
	ThumbnailScale  = "scale=320:-1"
)

// Process is a running transcoder the recorder owns.
type Process interface {
	Wait() error
	Kill() error
	StderrTail(n int) string
}

// Transcoder runs stream captures and post-processing with ffmpeg.
type Transcoder struct {
	ffmpegPath string
	inputArgs  []string
	prober     *Prober
	logger     *slog.Logger
}

// NewTranscoder creates a transcoder from detected binaries.
func NewTranscoder(info *BinaryInfo, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		ffmpegPath: info.FFmpegPath,
		prober:     NewProber(info.FFprobePath),
		logger:     logger.With(slog.String("component", "ffmpeg")),
	}
}

// WithCaptureInputArgs adds arguments placed before -i on every capture,
// e.g. reconnect options for flaky origins.
func (t *Transcoder) WithCaptureInputArgs(args ...string) *Transcoder {
	t.inputArgs = append([]string(nil), args...)
	return t
}

// CaptureCommand builds the stream copy command recording seconds of url
// into output, keeping every video, audio and subtitle stream. inputArgs
// go before -i.
func CaptureCommand(ffmpegPath, url string, seconds int, output string, inputArgs ...string) *Command {
	return NewCommandBuilder(ffmpegPath).
		LogLevel("error").
		HideBanner().
		Overwrite().
		Headers(CaptureHeaders...).
		InputArgs(inputArgs...).
		Input(url).
		OutputArgs(
			"-t", strconv.Itoa(seconds),
			"-map", "0:v?",
			"-map", "0:a?",
			"-map", "0:s?",
			"-c", "copy",
		).
		Output(output).
		Build()
}

// ThumbnailCommand builds the single-frame JPEG extraction command.
func ThumbnailCommand(ffmpegPath, input, output string) *Command {
	return NewCommandBuilder(ffmpegPath).
		LogLevel("error").
		HideBanner().
		Overwrite().
		Input(input).
		OutputArgs("-ss", ThumbnailOffset, "-vframes", "1", "-q:v", "2").
		VideoFilter(ThumbnailScale).
		Output(output).
		Build()
}

// StartCapture launches a capture. Cancelling ctx kills the process.
func (t *Transcoder) StartCapture(ctx context.Context, url string, seconds int, output string) (Process, error) {
	cmd := CaptureCommand(t.ffmpegPath, url, seconds, output, t.inputArgs...)
	if err := cmd.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	t.logger.Debug("capture started",
		slog.Int("pid", cmd.PID()),
		slog.Int("seconds", seconds),
		slog.String("output", output),
	)
	return cmd, nil
}

// Thumbnail writes a JPEG frame of input to output.
func (t *Transcoder) Thumbnail(ctx context.Context, input, output string) error {
	cmd := ThumbnailCommand(t.ffmpegPath, input, output)
	if err := cmd.Run(ctx); err != nil {
		return fmt.Errorf("extracting thumbnail: %w: %s", err, cmd.StderrTail(200))
	}
	return nil
}

// Duration returns the media duration of path in seconds.
func (t *Transcoder) Duration(ctx context.Context, path string) (float64, error) {
	return t.prober.Duration(ctx, path)
}

// Resolution returns the video size of path as WIDTHxHEIGHT.
func (t *Transcoder) Resolution(ctx context.Context, path string) (string, error) {
	return t.prober.Resolution(ctx, path)
}
