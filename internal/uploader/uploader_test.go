package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/observability"
)

const storeChat int64 = -1001

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sends   []string
	edits   []chat.MessageRef
	texts   []string
	editErr error
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string, _ int) (chat.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sends = append(m.sends, text)
	m.texts = append(m.texts, text)
	return chat.MessageRef{ChatID: chatID, MessageID: m.nextID}, nil
}

func (m *fakeMessenger) Edit(_ context.Context, ref chat.MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, ref)
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type fakeSender struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	videos   []chat.Video
	bodies   []string
	copies   []chat.MessageRef
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hold     chan struct{}
}

func (s *fakeSender) SendVideo(_ context.Context, v chat.Video) (chat.MessageRef, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.hold != nil {
		<-s.hold
	}

	body, _ := io.ReadAll(v.Reader)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.videos = append(s.videos, v)
	s.bodies = append(s.bodies, string(body))
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return chat.MessageRef{}, err
		}
	}
	return chat.MessageRef{ChatID: v.ChatID, MessageID: 500 + s.calls}, nil
}

func (s *fakeSender) Copy(_ context.Context, to int64, from chat.MessageRef) (chat.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies = append(s.copies, from)
	return chat.MessageRef{ChatID: to, MessageID: 900}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

type harness struct {
	uploader  *Uploader
	sender    *fakeSender
	messenger *fakeMessenger
	sleeps    *sleepRecorder
	file      string
}

func newHarness(t *testing.T, errs ...error) *harness {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "Show.Chan.mkv")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o644))

	h := &harness{
		sender:    &fakeSender{errs: errs},
		messenger: &fakeMessenger{},
		sleeps:    &sleepRecorder{},
		file:      file,
	}
	h.uploader = New(Config{
		Sender:      h.sender,
		Messenger:   h.messenger,
		StoreChatID: storeChat,
		Backoff:     DefaultBackoff,
		Redactor:    chat.NewRedactor("SECRET"),
		Gate:        semaphore.NewWeighted(1),
		Sleep:       h.sleeps.sleep,
	})
	return h
}

func (h *harness) request() Request {
	return Request{Path: h.file, Caption: "caption", Duration: 90, ChatID: 42, ReplyTo: 7}
}

func TestUpload_FirstAttempt(t *testing.T) {
	h := newHarness(t)

	res, err := h.uploader.Upload(context.Background(), h.request())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(10), res.Size)
	assert.Equal(t, chat.MessageRef{ChatID: storeChat, MessageID: 501}, res.Stored)
	assert.Equal(t, chat.MessageRef{ChatID: 42, MessageID: 900}, res.Copied)
	assert.Equal(t, []chat.MessageRef{res.Stored}, h.sender.copies)

	require.Len(t, h.sender.videos, 1)
	v := h.sender.videos[0]
	assert.Equal(t, storeChat, v.ChatID)
	assert.Equal(t, "Show.Chan.mkv", v.FileName)
	assert.Equal(t, "caption", v.Caption)
	assert.Equal(t, 90, v.Duration)
	assert.Empty(t, v.ThumbnailPath, "missing thumbnail is dropped")
	assert.Equal(t, "0123456789", h.sender.bodies[0])

	assert.Empty(t, h.sleeps.sleeps)
	assert.Equal(t, CompletedText("Show.Chan.mkv"), h.messenger.last())
	assert.FileExists(t, h.file, "uploader never deletes the source")
	assert.Empty(t, h.uploader.Active())
}

func TestUpload_RetriesWithBackoff(t *testing.T) {
	h := newHarness(t, errors.New("network down"), errors.New("network down"))

	res, err := h.uploader.Upload(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.sleeps.sleeps)
	assert.Equal(t, 3, h.sender.calls)
}

func TestUpload_RetriesExhausted(t *testing.T) {
	boom := errors.New("bot SECRET rejected")
	h := newHarness(t, boom, boom, boom)

	res, err := h.uploader.Upload(context.Background(), h.request())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, err.Error(), "SECRET")

	assert.Equal(t, 3, h.sender.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.sleeps.sleeps, "no backoff after the last attempt")
	assert.Empty(t, h.sender.copies)
	assert.FileExists(t, h.file)

	final := h.messenger.last()
	assert.Contains(t, final, "Upload Failed")
	assert.Contains(t, final, "kept on disk")
	assert.Len(t, h.messenger.sends, 1, "failure is an edit of the progress message")
	assert.NotContains(t, final, "SECRET")
	for _, text := range h.messenger.texts {
		assert.NotContains(t, text, "SECRET")
	}
}

func TestUpload_RetryAfterKeepsBudget(t *testing.T) {
	limited := &chat.RetryAfterError{After: 7 * time.Second, Err: errors.New("429")}
	h := newHarness(t, limited, limited, errors.New("flaky"))

	res, err := h.uploader.Upload(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 4, h.sender.calls)
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second, 5 * time.Second}, h.sleeps.sleeps)
}

func TestUpload_TooLarge(t *testing.T) {
	h := newHarness(t)
	h.uploader.cfg.MaxSize = 4

	_, err := h.uploader.Upload(context.Background(), h.request())
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Zero(t, h.sender.calls)
	require.Len(t, h.messenger.texts, 1, "one final outcome")
	assert.Contains(t, h.messenger.texts[0], "Upload Failed")
	assert.Contains(t, h.messenger.texts[0], "kept on disk")
}

func TestUpload_MissingFile(t *testing.T) {
	h := newHarness(t)
	req := h.request()
	req.Path = filepath.Join(t.TempDir(), "gone.mkv")

	_, err := h.uploader.Upload(context.Background(), req)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Zero(t, h.sender.calls)
	require.Len(t, h.messenger.texts, 1)
	assert.NotContains(t, h.messenger.texts[0], "kept on disk")
}

func TestUpload_EditFailureSendsNewMessage(t *testing.T) {
	h := newHarness(t)
	h.messenger.editErr = errors.New("message to edit not found")

	_, err := h.uploader.Upload(context.Background(), h.request())
	require.NoError(t, err)

	assert.Empty(t, h.messenger.edits)
	assert.GreaterOrEqual(t, len(h.messenger.sends), 2)
	assert.Equal(t, CompletedText("Show.Chan.mkv"), h.messenger.last())
}

func TestUpload_ThumbnailForwarded(t *testing.T) {
	h := newHarness(t)
	thumb := h.file + ".jpg"
	require.NoError(t, os.WriteFile(thumb, []byte("jpg"), 0o644))
	req := h.request()
	req.ThumbnailPath = thumb

	_, err := h.uploader.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, thumb, h.sender.videos[0].ThumbnailPath)
}

func TestUpload_GateSerialises(t *testing.T) {
	h := newHarness(t)
	h.sender.hold = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.uploader.Upload(context.Background(), h.request())
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 3; i++ {
		h.sender.hold <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.sender.maxSeen.Load())
	assert.Equal(t, 3, h.sender.calls)
}

func TestUpload_GateHonoursContext(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.uploader.cfg.Gate.TryAcquire(1))
	defer h.uploader.cfg.Gate.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.uploader.Upload(ctx, h.request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.sender.calls)
	assert.Equal(t, CancelledText("Show.Chan.mkv"), h.messenger.last())
}

func TestUpload_CancelDuringBackoffEndsWithCancelledEdit(t *testing.T) {
	h := newHarness(t, errors.New("flaky"))
	ctx, cancel := context.WithCancel(context.Background())
	h.uploader.cfg.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.uploader.Upload(ctx, h.request())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.messenger.sends, 1, "cancellation edits the progress message")
	assert.Equal(t, CancelledText("Show.Chan.mkv"), h.messenger.last())
	assert.FileExists(t, h.file)
}

func TestUpload_SeparateGatesDoNotBlock(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	require.True(t, a.uploader.cfg.Gate.TryAcquire(1))
	defer a.uploader.cfg.Gate.Release(1)

	_, err := b.uploader.Upload(context.Background(), b.request())
	assert.NoError(t, err)
}

func TestUpload_LogsCorrelationID(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	h.uploader.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := observability.ContextWithCorrelationID(context.Background(), "match-1")
	_, err := h.uploader.Upload(ctx, h.request())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"upload completed"`)
	assert.Contains(t, out, `"correlation_id":"match-1"`)
	assert.Contains(t, out, `"operation":"upload"`)
}

func TestProgressText(t *testing.T) {
	text := ProgressText("a.mkv", 512, 1024, "Uploading...")
	assert.Contains(t, text, "📤 Uploading:* `a.mkv`")
	assert.Contains(t, text, "50.0%")
	assert.Contains(t, text, "512 B / 1 KB")
	assert.Contains(t, text, "⬢⬢⬢⬢⬢⬢⬢⬢⬢⬢⬡⬡⬡⬡⬡⬡⬡⬡⬡⬡")

	assert.Contains(t, ProgressText("a.mkv", 0, 0, "x"), "0.0%")
	assert.Contains(t, ProgressText("a.mkv", 20, 10, "x"), "100.0%")
}

func TestCountingReader(t *testing.T) {
	var seen []int64
	r := newCountingReader(&chunkReader{chunks: []string{"abc", "de"}}, func(n int64) { seen = append(seen, n) })
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(data))
	assert.Equal(t, []int64{3, 5}, seen)
}

type chunkReader struct{ chunks []string }

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}
