package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/ffmpeg"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/resolver"
	"github.com/jmylchreest/tvrec/internal/uploader"
)

// Status is a task lifecycle state.
type Status string

// Task statuses.
const (
	StatusPending    Status = "pending"
	StatusResolving  Status = "resolving"
	StatusRecording  Status = "recording"
	StatusFinalizing Status = "finalizing"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is a consistent copy of a task's observable state.
type Snapshot struct {
	Key           string          `json:"key"`
	Title         string          `json:"title"`
	Channel       string          `json:"channel"`
	Source        string          `json:"source"`
	PlaylistID    string          `json:"playlist,omitempty"`
	Duration      time.Duration   `json:"duration"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     time.Time       `json:"started_at,omitzero"`
	FinishedAt    time.Time       `json:"finished_at,omitzero"`
	ScheduledFor  time.Time       `json:"scheduled_for,omitzero"`
	ChatID        int64           `json:"chat_id"`
	RequestedBy   int64           `json:"requested_by"`
	RequesterName string          `json:"requester_name,omitempty"`
	Progress      float64         `json:"progress"`
	Message       chat.MessageRef `json:"progress_message"`
	FileName      string          `json:"file_name,omitempty"`
	FileSize      int64           `json:"file_size,omitempty"`
	Quality       string          `json:"quality,omitempty"`
	Error         string          `json:"error,omitempty"`
	Stored        chat.MessageRef `json:"stored,omitzero"`
	Copied        chat.MessageRef `json:"copied,omitzero"`
	Attempts      int             `json:"attempts,omitempty"`
}

// Task is one recording. It is mutated only by Run and Cancel.
type Task struct {
	rec       *Recorder
	req       Request
	observers []Observer
	logger    *slog.Logger
	done      chan struct{}
	editor    *editor

	mu            sync.Mutex
	status        Status
	createdAt     time.Time
	startedAt     time.Time
	finishedAt    time.Time
	source        string
	label         string
	progress      float64
	errText       string
	errorOccurred bool
	fileName      string
	fileSize      int64
	quality       string
	result        *uploader.Result
	proc          ffmpeg.Process
	cancelled     bool
	cancel        context.CancelFunc
	ran           bool
}

func newTask(r *Recorder, req Request, observers []Observer) *Task {
	label := req.Label
	if label == "" && IsDirectURL(req.Source) {
		label = DirectStreamLabel
	}
	return &Task{
		rec:       r,
		req:       req,
		observers: observers,
		logger:    observability.WithOperation(observability.WithCorrelationID(r.logger, req.Key), "record").With(slog.String("title", req.Title)),
		done:      make(chan struct{}),
		editor:    &editor{messenger: r.cfg.Messenger, interval: r.cfg.MinEditInterval, now: r.cfg.Now},
		status:    StatusPending,
		createdAt: r.cfg.Now(),
		source:    req.Source,
		label:     label,
	}
}

// Key returns the correlation key.
func (t *Task) Key() string { return t.req.Key }

// Request returns the request the task was created from.
func (t *Task) Request() Request { return t.req }

// Done is closed when Run returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// SetProgressMessage makes later progress edits target ref.
func (t *Task) SetProgressMessage(ref chat.MessageRef) {
	t.editor.setRef(ref)
}

// Snapshot returns the current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Task) snapshotLocked() Snapshot {
	s := Snapshot{
		Key:           t.req.Key,
		Title:         t.req.Title,
		Channel:       t.label,
		Source:        t.source,
		PlaylistID:    t.req.PlaylistID,
		Duration:      t.req.Duration,
		Status:        t.status,
		CreatedAt:     t.createdAt,
		StartedAt:     t.startedAt,
		FinishedAt:    t.finishedAt,
		ScheduledFor:  t.req.ScheduledFor,
		ChatID:        t.req.ChatID,
		RequestedBy:   t.req.RequestedBy,
		RequesterName: t.req.RequesterName,
		Progress:      t.progress,
		Message:       t.editor.currentRef(),
		FileName:      t.fileName,
		FileSize:      t.fileSize,
		Quality:       t.quality,
		Error:         t.errText,
	}
	if s.Channel == "" {
		s.Channel = t.req.Source
	}
	if t.result != nil {
		s.Stored = t.result.Stored
		s.Copied = t.result.Copied
		s.Attempts = t.result.Attempts
	}
	return s
}

// Cancel stops the task: the capture process is killed and its context
// cancelled. It is safe to call before Run and more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel, proc := t.cancel, t.proc
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc != nil {
		if err := proc.Kill(); err != nil {
			t.logger.Debug("kill failed", slog.String("error", err.Error()))
		}
	}
}

func (t *Task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Run drives the task to a terminal status and returns its error. Panics
// are recovered into a failed status.
func (t *Task) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return fmt.Errorf("task %s already ran", t.req.Key)
	}
	t.ran = true
	t.cancel = cancel
	t.mu.Unlock()
	defer close(t.done)
	ctx = observability.ContextWithCorrelationID(ctx, t.req.Key)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recording panicked: %v", r)
			t.logger.Error("recording panicked", slog.Any("panic", r))
			t.finish(ctx, StatusFailed, err)
		}
	}()

	if t.isCancelled() || ctx.Err() != nil {
		t.finish(ctx, StatusCancelled, ErrCancelled)
		return ErrCancelled
	}
	return t.run(ctx)
}

func (t *Task) run(ctx context.Context) error {
	cfg := t.rec.cfg

	t.transition(ctx, StatusResolving)
	streamURL, err := t.resolve(ctx)
	if err != nil {
		t.finish(ctx, StatusFailed, err)
		return err
	}
	if t.isCancelled() {
		t.finish(ctx, StatusCancelled, ErrCancelled)
		return ErrCancelled
	}

	start := cfg.Now().In(cfg.Location)
	t.mu.Lock()
	t.startedAt = start
	label := t.label
	t.mu.Unlock()

	t.ensureProgressMessage(ctx, StartedCaption(t.req.Title, label, t.req.Duration, start))

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		err = fmt.Errorf("creating recordings dir: %w", err)
		return t.failCapture(ctx, "", err.Error(), err)
	}
	temp := filepath.Join(cfg.Dir, TempFileName(start))

	t.transition(ctx, StatusRecording)
	proc, err := cfg.Transcoder.StartCapture(ctx, streamURL, int(t.req.Duration/time.Second), temp)
	if err != nil {
		return t.failCapture(ctx, temp, err.Error(), fmt.Errorf("%w: %w", ErrCaptureFailed, err))
	}
	t.mu.Lock()
	t.proc = proc
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		_ = proc.Kill()
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go t.report(ctx, stop, &wg)

	waitErr := proc.Wait()
	close(stop)
	wg.Wait()

	t.mu.Lock()
	t.proc = nil
	t.mu.Unlock()

	if t.isCancelled() || ctx.Err() != nil {
		removeQuietly(temp)
		t.editor.update(context.WithoutCancel(ctx), CancelledCaption(t.req.Title, label, start), true)
		t.finish(ctx, StatusCancelled, ErrCancelled)
		return ErrCancelled
	}
	if waitErr != nil {
		excerpt := t.captureError(proc)
		return t.failCapture(ctx, temp, excerpt, fmt.Errorf("%w: %s", ErrCaptureFailed, excerpt))
	}
	if _, err := os.Stat(temp); err != nil {
		return t.failCapture(ctx, temp, "no output produced", fmt.Errorf("%w: no output produced", ErrCaptureFailed))
	}

	t.transition(ctx, StatusFinalizing)
	art, err := t.finalize(ctx, temp, label, start, streamURL)
	if err != nil {
		removeQuietly(temp)
		t.finish(ctx, StatusFailed, err)
		return err
	}
	t.editor.update(ctx, CompletedCaption(t.req.Title, label, t.req.Duration, start, art.end), true)

	t.transition(ctx, StatusUploading)
	res, err := cfg.Uploader.Upload(ctx, uploader.Request{
		Path:          art.path,
		Caption:       art.caption,
		ThumbnailPath: art.thumbnail,
		Duration:      art.seconds,
		ChatID:        t.req.ChatID,
		ReplyTo:       t.req.ReplyTo,
	})
	if err != nil {
		if t.isCancelled() || ctx.Err() != nil {
			t.finish(ctx, StatusCancelled, ErrCancelled)
			return ErrCancelled
		}
		// The uploader has already posted the outcome to the requester.
		err = fmt.Errorf("uploading %s: %w", art.name, err)
		t.finish(ctx, StatusFailed, err)
		return err
	}

	removeQuietly(art.path)
	if art.thumbnail != "" {
		removeQuietly(art.thumbnail)
	}
	t.mu.Lock()
	t.result = res
	t.mu.Unlock()
	t.finish(ctx, StatusCompleted, nil)
	return nil
}

// resolve picks the stream URL and channel label.
func (t *Task) resolve(ctx context.Context) (string, error) {
	cfg := t.rec.cfg
	var streamURL string

	if IsDirectURL(t.req.Source) {
		streamURL = t.req.Source
	} else {
		var (
			ch channels.Channel
			ok bool
		)
		if cfg.Channels != nil {
			if t.req.PlaylistID != "" {
				ch, ok = cfg.Channels.LookupIn(t.req.PlaylistID, t.req.Source)
			} else {
				ch, ok = cfg.Channels.Lookup(t.req.Source)
			}
		}
		if !ok {
			var suggestions []channels.Channel
			if cfg.Channels != nil {
				suggestions = cfg.Channels.Search(t.req.Source, t.req.PlaylistID, true)
			}
			t.notify(ctx, NotFoundText(t.req.Source, suggestions))
			return "", fmt.Errorf("%w: %s", ErrChannelNotFound, t.req.Source)
		}
		streamURL = ch.URL
		t.mu.Lock()
		if t.req.Label == "" {
			t.label = ch.Name
		}
		t.mu.Unlock()
	}

	if cfg.Resolver != nil {
		streamURL = cfg.Resolver.Resolve(ctx, streamURL)
	}
	t.mu.Lock()
	t.source = streamURL
	t.mu.Unlock()
	return streamURL, nil
}

type artifact struct {
	name      string
	path      string
	thumbnail string
	caption   string
	seconds   int
	end       time.Time
}

// finalize renames the capture and prepares the upload.
func (t *Task) finalize(ctx context.Context, temp, label string, start time.Time, streamURL string) (*artifact, error) {
	cfg := t.rec.cfg
	end := start.Add(t.req.Duration)
	name := FileName(t.req.Title, label, start, end, cfg.Tag)
	final := filepath.Join(cfg.Dir, name)
	if err := os.Rename(temp, final); err != nil {
		return nil, fmt.Errorf("renaming recording: %w", err)
	}

	thumb := final + ".jpg"
	if err := cfg.Transcoder.Thumbnail(ctx, final, thumb); err != nil {
		t.logger.Warn("thumbnail extraction failed", slog.String("error", err.Error()))
		removeQuietly(thumb)
		thumb = ""
	}

	seconds := int(t.req.Duration / time.Second)
	if probed, err := cfg.Transcoder.Duration(ctx, final); err == nil && probed > 0 {
		seconds = int(math.Round(probed))
	} else if err != nil {
		t.logger.Debug("duration probe failed, using requested length", slog.String("error", err.Error()))
	}

	quality := ""
	if res, err := cfg.Transcoder.Resolution(ctx, final); err == nil {
		quality = resolver.QualityLabel(res)
	} else if cfg.Resolver != nil {
		quality = cfg.Resolver.Quality(ctx, streamURL)
	}

	var size int64
	if info, err := os.Stat(final); err == nil {
		size = info.Size()
	}

	t.mu.Lock()
	t.fileName = name
	t.fileSize = size
	t.quality = quality
	t.progress = 1
	t.mu.Unlock()

	return &artifact{
		name:      name,
		path:      final,
		thumbnail: thumb,
		caption:   UploadCaption(name, quality, time.Duration(seconds)*time.Second, size),
		seconds:   seconds,
		end:       end.In(cfg.Location),
	}, nil
}

// report edits the progress message every poll interval until stop closes.
func (t *Task) report(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress reporter panicked", slog.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(t.rec.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reportOnce(ctx)
		}
	}
}

func (t *Task) reportOnce(ctx context.Context) {
	cfg := t.rec.cfg
	t.mu.Lock()
	elapsed := cfg.Now().Sub(t.startedAt)
	p, remaining := Progress(elapsed, t.req.Duration, t.progress)
	t.progress = p
	started, label := t.startedAt, t.label
	t.mu.Unlock()

	text := ProgressCaption(t.req.Title, label, t.req.Duration, started, p, elapsed, remaining, "")
	t.editor.update(ctx, text, false)
}

// captureError records the stderr excerpt once.
func (t *Task) captureError(proc ffmpeg.Process) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.errorOccurred {
		t.errorOccurred = true
		t.errText = ffmpeg.Tail(proc.StderrTail(MaxErrorExcerpt), MaxErrorExcerpt)
		if t.errText == "" {
			t.errText = "Recording failed (FFmpeg error)"
		}
	}
	return t.errText
}

func (t *Task) failCapture(ctx context.Context, temp, excerpt string, err error) error {
	if temp != "" {
		removeQuietly(temp)
	}
	cfg := t.rec.cfg
	t.mu.Lock()
	started, label, p := t.startedAt, t.label, t.progress
	elapsed := cfg.Now().Sub(started)
	t.mu.Unlock()
	_, remaining := Progress(elapsed, t.req.Duration, p)

	excerpt = ffmpeg.Tail(excerpt, MaxErrorExcerpt)
	t.editor.update(ctx, ProgressCaption(t.req.Title, label, t.req.Duration, started, p, elapsed, remaining, excerpt), true)
	t.finish(ctx, StatusFailed, err)
	return err
}

func (t *Task) ensureProgressMessage(ctx context.Context, text string) {
	if !t.editor.currentRef().IsZero() {
		t.editor.update(ctx, text, true)
		return
	}
	if t.rec.cfg.Messenger == nil {
		return
	}
	ref, err := t.rec.cfg.Messenger.Send(ctx, t.req.ChatID, text, t.req.ReplyTo)
	if err != nil {
		t.logger.Warn("failed to send progress message", slog.String("error", err.Error()))
		return
	}
	t.editor.sent(ref, text)
}

func (t *Task) notify(ctx context.Context, text string) {
	if t.rec.cfg.Messenger == nil {
		return
	}
	if _, err := t.rec.cfg.Messenger.Send(context.WithoutCancel(ctx), t.req.ChatID, text, t.req.ReplyTo); err != nil {
		t.logger.Warn("failed to notify requester", slog.String("error", err.Error()))
	}
}

func (t *Task) transition(ctx context.Context, s Status) {
	t.mu.Lock()
	t.status = s
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info("recording status changed", slog.String("status", string(s)))
	t.publish(ctx, snap)
}

func (t *Task) finish(ctx context.Context, s Status, err error) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.finishedAt = t.rec.cfg.Now()
	if err != nil && t.errText == "" {
		t.errText = err.Error()
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	attrs := []any{slog.String("status", string(s))}
	if err != nil && !errors.Is(err, ErrCancelled) {
		attrs = append(attrs, slog.String("error", err.Error()))
		t.logger.Warn("recording finished", attrs...)
	} else {
		t.logger.Info("recording finished", attrs...)
	}
	t.publish(ctx, snap)
}

func (t *Task) publish(ctx context.Context, snap Snapshot) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range t.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("observer panicked", slog.Any("panic", r))
				}
			}()
			o.OnTransition(ctx, snap)
		}()
	}
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("failed to remove file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// editor owns the single progress message: an edit is sent only when the
// text changed and, unless forced, the minimum interval has passed.
type editor struct {
	messenger chat.Messenger
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	ref      chat.MessageRef
	lastText string
	lastEdit time.Time
}

func (e *editor) setRef(ref chat.MessageRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref = ref
}

func (e *editor) sent(ref chat.MessageRef, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref = ref
	e.lastText = text
	e.lastEdit = e.now()
}

func (e *editor) currentRef() chat.MessageRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ref
}

func (e *editor) update(ctx context.Context, text string, force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.messenger == nil || e.ref.IsZero() || text == e.lastText {
		return
	}
	now := e.now()
	if !force && now.Sub(e.lastEdit) < e.interval {
		return
	}
	err := e.messenger.Edit(ctx, e.ref, text)
	if err != nil && !errors.Is(err, chat.ErrMessageNotModified) {
		slog.Debug("progress edit failed", slog.String("error", err.Error()))
		return
	}
	e.lastText = text
	e.lastEdit = now
}
