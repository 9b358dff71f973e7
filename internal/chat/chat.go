// Package chat is the messaging surface used by the recorder, uploader and
// command layer: sending and editing text, uploading videos and copying
// stored messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// MaxMessageLength is the platform limit for one text message.
const MaxMessageLength = 4096

// ErrMessageNotModified is returned by Edit when the text is unchanged.
var ErrMessageNotModified = errors.New("message is not modified")

// MessageRef addresses one message.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the reference is unset.
func (r MessageRef) IsZero() bool {
	return r.MessageID == 0
}

// Messenger sends and edits plain text messages.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
}

// Video is one file upload.
type Video struct {
	ChatID        int64
	FileName      string
	Reader        io.Reader
	Size          int64
	Caption       string
	ThumbnailPath string
	Duration      int
}

// VideoSender uploads videos and copies messages between chats.
type VideoSender interface {
	SendVideo(ctx context.Context, v Video) (MessageRef, error)
	Copy(ctx context.Context, toChatID int64, from MessageRef) (MessageRef, error)
}

// RetryAfterError is a platform rate-limit rejection.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter reports the wait requested by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}

// Redactor hides a secret from error text shown to users.
type Redactor struct {
	secret string
}

// NewRedactor creates a redactor for secret.
func NewRedactor(secret string) Redactor {
	return Redactor{secret: secret}
}

// String replaces every occurrence of the secret.
func (r Redactor) String(s string) string {
	if r.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, r.secret, "<token>")
}

// Error wraps err so its message never contains the secret.
func (r Redactor) Error(err error) error {
	if err == nil || r.secret == "" {
		return err
	}
	return &redactedError{err: err, r: r}
}

type redactedError struct {
	err error
	r   Redactor
}

func (e *redactedError) Error() string { return e.r.String(e.err.Error()) }

func (e *redactedError) Unwrap() error { return e.err }
