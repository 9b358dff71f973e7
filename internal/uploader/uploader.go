// Package uploader delivers finished recordings to the storage channel and
// copies the stored message back to the requesting chat.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/observability"
)

// Default upload settings.
const (
	DefaultMaxSize      int64 = 2 << 30
	DefaultMaxAttempts        = 3
	DefaultBackoff            = 5 * time.Second
	DefaultEditInterval       = 2 * time.Second
)

// Upload errors.
var (
	ErrFileNotFound       = errors.New("file not found")
	ErrFileTooLarge       = errors.New("file too large")
	ErrRetriesExhausted   = errors.New("upload retries exhausted")
	ErrStoreNotConfigured = errors.New("store chat not configured")
)

// Request describes one file to deliver.
type Request struct {
	Path          string
	Caption       string
	ThumbnailPath string
	Duration      int
	// ChatID receives the copied message and the progress messages.
	ChatID  int64
	ReplyTo int
}

// Result describes a completed delivery.
type Result struct {
	Attempts int             `json:"attempts"`
	Size     int64           `json:"size"`
	Stored   chat.MessageRef `json:"stored"`
	Copied   chat.MessageRef `json:"copied"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Observer receives upload lifecycle events for metrics.
type Observer interface {
	UploadAttempt(attempt int, err error)
	UploadRateLimited(wait time.Duration)
}

// Config configures an Uploader.
type Config struct {
	Sender       chat.VideoSender
	Messenger    chat.Messenger
	StoreChatID  int64
	MaxSize      int64
	MaxAttempts  int
	Backoff      time.Duration
	EditInterval time.Duration
	Redactor     chat.Redactor
	Observer     Observer
	Logger       *slog.Logger

	// Gate serialises uploads. Every uploader sharing the same upstream
	// must share one gate. Nil gives this uploader a private gate of one.
	Gate  *semaphore.Weighted
	Sleep SleepFunc
	Now   func() time.Time
}

// Uploader sends files one at a time with retries and progress reporting.
type Uploader struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	progress map[int64]*tracker
}

// New creates an uploader.
func New(cfg Config) *Uploader {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.EditInterval <= 0 {
		cfg.EditInterval = DefaultEditInterval
	}
	if cfg.Gate == nil {
		cfg.Gate = semaphore.NewWeighted(1)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Uploader{
		cfg:      cfg,
		logger:   observability.WithComponent(cfg.Logger, "uploader"),
		progress: make(map[int64]*tracker),
	}
}

// Upload delivers req.Path to the store chat and copies it to req.ChatID.
// The uploader posts exactly one final outcome to req.ChatID: completed,
// failed (stating whether the file is still on disk) or cancelled. When
// retries are exhausted the file is left in place.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	name := filepath.Base(req.Path)
	info, err := os.Stat(req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrFileNotFound, name)
			u.conclude(ctx, req, nil, FailedText(name, err, false))
			return nil, err
		}
		err = fmt.Errorf("stat upload file: %w", err)
		u.conclude(ctx, req, nil, FailedText(name, err, true))
		return nil, err
	}
	if info.Size() > u.cfg.MaxSize {
		err := fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, name, info.Size(), u.cfg.MaxSize)
		u.conclude(ctx, req, nil, FailedText(name, err, true))
		return nil, err
	}
	if u.cfg.StoreChatID == 0 {
		u.conclude(ctx, req, nil, FailedText(name, ErrStoreNotConfigured, true))
		return nil, ErrStoreNotConfigured
	}

	if err := u.cfg.Gate.Acquire(ctx, 1); err != nil {
		u.conclude(ctx, req, nil, CancelledText(name))
		return nil, fmt.Errorf("waiting for upload slot: %w", err)
	}
	defer u.cfg.Gate.Release(1)

	tr := u.startTracker(ctx, req, name, info.Size())
	defer u.dropTracker(req.ChatID, tr)

	logger := observability.WithOperation(u.logger, "upload").With(slog.String("file", name), slog.Int64("size", info.Size()))
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		logger = observability.WithCorrelationID(logger, id)
	}
	result := &Result{Size: info.Size()}
	cancelled := func(err error) (*Result, error) {
		u.conclude(ctx, req, tr, CancelledText(name))
		logger.Info("upload cancelled", slog.Int("attempt", result.Attempts))
		return nil, err
	}

	var lastErr error
	attempt := 1
	for attempt <= u.cfg.MaxAttempts {
		result.Attempts = attempt
		tr.setStatus(ctx, fmt.Sprintf("Uploading (attempt %d/%d)...", attempt, u.cfg.MaxAttempts), true)

		stored, err := u.send(ctx, req, name, info.Size(), tr)
		if err == nil && stored.IsZero() {
			err = errors.New("upload returned no message")
		}
		if err == nil {
			result.Stored = stored
			lastErr = nil
			break
		}
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}

		if wait, ok := chat.RetryAfter(err); ok {
			logger.Warn("upload rate limited", slog.Duration("wait", wait), slog.Int("attempt", attempt))
			if u.cfg.Observer != nil {
				u.cfg.Observer.UploadRateLimited(wait)
			}
			tr.setStatus(ctx, fmt.Sprintf("⏳ Rate limited, waiting %s...", wait), true)
			if err := u.cfg.Sleep(ctx, wait); err != nil {
				return cancelled(err)
			}
			continue
		}

		lastErr = u.cfg.Redactor.Error(err)
		if u.cfg.Observer != nil {
			u.cfg.Observer.UploadAttempt(attempt, lastErr)
		}
		logger.Warn("upload attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", u.cfg.MaxAttempts),
			slog.String("error", lastErr.Error()),
		)
		tr.setStatus(ctx, fmt.Sprintf("❌ Attempt %d/%d failed: %s", attempt, u.cfg.MaxAttempts, statusLine(lastErr.Error())), true)

		if attempt < u.cfg.MaxAttempts {
			if err := u.cfg.Sleep(ctx, u.cfg.Backoff); err != nil {
				return cancelled(err)
			}
		}
		attempt++
	}

	if lastErr != nil {
		u.conclude(ctx, req, tr, FailedText(name, lastErr, true))
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, u.cfg.MaxAttempts, lastErr)
	}
	if u.cfg.Observer != nil {
		u.cfg.Observer.UploadAttempt(result.Attempts, nil)
	}

	copied, err := u.cfg.Sender.Copy(ctx, req.ChatID, result.Stored)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		err = u.cfg.Redactor.Error(err)
		u.conclude(ctx, req, tr, FailedText(name, err, true))
		return result, fmt.Errorf("copying stored message: %w", err)
	}
	result.Copied = copied

	u.conclude(ctx, req, tr, CompletedText(name))
	logger.Info("upload completed",
		slog.Int("attempts", result.Attempts),
		slog.Int("stored_message_id", result.Stored.MessageID),
	)
	return result, nil
}

// conclude posts the final outcome. It edits the progress message when one
// exists and otherwise sends a new message. It still runs after ctx is
// cancelled.
func (u *Uploader) conclude(ctx context.Context, req Request, tr *tracker, text string) {
	ctx = context.WithoutCancel(ctx)
	if tr != nil {
		tr.finish(ctx, text)
		return
	}
	if u.cfg.Messenger == nil {
		return
	}
	if _, err := u.cfg.Messenger.Send(ctx, req.ChatID, text, req.ReplyTo); err != nil {
		u.logger.Debug("upload outcome not delivered", slog.String("error", err.Error()))
	}
}

func (u *Uploader) send(ctx context.Context, req Request, name string, size int64, tr *tracker) (chat.MessageRef, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	thumb := req.ThumbnailPath
	if thumb != "" {
		if _, err := os.Stat(thumb); err != nil {
			thumb = ""
		}
	}

	reader := newCountingReader(f, func(sent int64) {
		tr.bytes(ctx, sent)
	})
	return u.cfg.Sender.SendVideo(ctx, chat.Video{
		ChatID:        u.cfg.StoreChatID,
		FileName:      name,
		Reader:        reader,
		Size:          size,
		Caption:       req.Caption,
		ThumbnailPath: thumb,
		Duration:      req.Duration,
	})
}

// Active returns a snapshot of in-flight upload progress per chat.
func (u *Uploader) Active() map[int64]Progress {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[int64]Progress, len(u.progress))
	for id, tr := range u.progress {
		out[id] = tr.snapshot()
	}
	return out
}

func (u *Uploader) startTracker(ctx context.Context, req Request, name string, total int64) *tracker {
	tr := &tracker{
		messenger: u.cfg.Messenger,
		chatID:    req.ChatID,
		replyTo:   req.ReplyTo,
		file:      name,
		total:     total,
		interval:  u.cfg.EditInterval,
		now:       u.cfg.Now,
		logger:    u.logger,
	}
	u.mu.Lock()
	u.progress[req.ChatID] = tr
	u.mu.Unlock()

	tr.open(ctx)
	return tr
}

func (u *Uploader) dropTracker(chatID int64, tr *tracker) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.progress[chatID] == tr {
		delete(u.progress, chatID)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
