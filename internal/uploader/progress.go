package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/pkg/format"
)

// Progress bar cells.
const (
	BarWidth  = 20
	BarFilled = "⬢"
	BarEmpty  = "⬡"
)

// Progress is the state of one in-flight upload.
type Progress struct {
	File    string          `json:"file"`
	Sent    int64           `json:"sent"`
	Total   int64           `json:"total"`
	Status  string          `json:"status"`
	Message chat.MessageRef `json:"message"`
}

// ProgressText renders the upload progress message.
func ProgressText(file string, sent, total int64, status string) string {
	fraction := 0.0
	if total > 0 {
		fraction = float64(sent) / float64(total)
	}
	if fraction > 1 {
		fraction = 1
	}
	return fmt.Sprintf("*📤 Uploading:* `%s`\n*📊 Progress:* %s\n🔹 %s / %s\n%s\n*⚡ Status:* %s",
		file,
		format.Percentage(fraction*100, 1),
		format.Bytes(sent),
		format.Bytes(total),
		format.Bar(fraction, BarWidth, BarFilled, BarEmpty),
		status,
	)
}

// CompletedText is the final message after a successful upload.
func CompletedText(file string) string {
	return fmt.Sprintf("📂 *File:* `%s`\n✅ *Uploaded Successfully!*\n🎉 *Status:* Completed", file)
}

// FailedText is the final message after a failed upload. kept says whether
// the recording is still on disk.
func FailedText(file string, err error, kept bool) string {
	reason := "Unknown error"
	if err != nil {
		reason = err.Error()
	}
	text := fmt.Sprintf("📂 *File:* `%s`\n❌ *Upload Failed!*\n⚠️ *Reason:* %s", file, reason)
	if kept {
		text += "\n💾 File kept on disk"
	}
	return text
}

// CancelledText is the final message when an upload is cancelled.
func CancelledText(file string) string {
	return fmt.Sprintf("📂 *File:* `%s`\n🛑 *Upload Cancelled*\n💾 File kept on disk", file)
}

// tracker owns the progress message of one upload. When an edit fails a
// fresh message is sent and later edits target it.
type tracker struct {
	messenger chat.Messenger
	chatID    int64
	replyTo   int
	file      string
	total     int64
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	ref      chat.MessageRef
	sent     int64
	status   string
	lastEdit time.Time
	lastText string
}

func (t *tracker) open(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = "Preparing..."
	t.post(ctx, t.text())
}

func (t *tracker) bytes(ctx context.Context, sent int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = sent
	if t.now().Sub(t.lastEdit) < t.interval {
		return
	}
	t.post(ctx, t.text())
}

func (t *tracker) setStatus(ctx context.Context, status string, force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	if !force && t.now().Sub(t.lastEdit) < t.interval {
		return
	}
	t.post(ctx, t.text())
}

func (t *tracker) finish(ctx context.Context, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.post(ctx, text)
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{File: t.file, Sent: t.sent, Total: t.total, Status: t.status, Message: t.ref}
}

func (t *tracker) text() string {
	return ProgressText(t.file, t.sent, t.total, t.status)
}

// post edits the progress message, falling back to a new message. Callers
// hold t.mu.
func (t *tracker) post(ctx context.Context, text string) {
	if t.messenger == nil || text == t.lastText {
		return
	}
	t.lastEdit = t.now()

	if !t.ref.IsZero() {
		err := t.messenger.Edit(ctx, t.ref, text)
		if err == nil || errors.Is(err, chat.ErrMessageNotModified) {
			t.lastText = text
			return
		}
		t.logger.Debug("progress edit failed, sending new message", slog.String("error", err.Error()))
	}

	ref, err := t.messenger.Send(ctx, t.chatID, text, t.replyTo)
	if err != nil {
		t.logger.Debug("progress message failed", slog.String("error", err.Error()))
		return
	}
	t.ref = ref
	t.lastText = text
}

// countingReader reports the running byte count after every read.
type countingReader struct {
	r      io.Reader
	n      int64
	report func(int64)
}

func newCountingReader(r io.Reader, report func(int64)) *countingReader {
	return &countingReader{r: r, report: report}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.report != nil {
			c.report(c.n)
		}
	}
	return n, err
}

// statusLine trims multi-line errors for inline display.
func statusLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return format.Truncate(s, 200)
}
