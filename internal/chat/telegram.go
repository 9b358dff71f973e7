package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/tvrec/internal/observability"
)

// DefaultEndpoint is the public Bot API endpoint format.
const DefaultEndpoint = tgbotapi.APIEndpoint

// TelegramConfig configures a Telegram client.
type TelegramConfig struct {
	Token string
	// Endpoint is a Bot API URL format taking the token and method.
	Endpoint string
	// MessagesPerSecond bounds outgoing text sends and edits.
	MessagesPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Telegram implements Messenger and VideoSender on the Bot API.
type Telegram struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	redact  Redactor
	logger  *slog.Logger
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	redact := NewRedactor(cfg.Token)
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("connecting to bot api: %w", redact.Error(err))
	}

	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		redact:  redact,
		logger:  observability.WithComponent(cfg.Logger, "chat"),
	}, nil
}

// Username returns the bot's username.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// API exposes the underlying client for update polling.
func (t *Telegram) API() *tgbotapi.BotAPI {
	return t.api
}

// Redactor returns the token redactor.
func (t *Telegram) Redactor() Redactor {
	return t.redact
}

// Send posts text to chatID, optionally as a reply.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, replyTo int) (MessageRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.DisableWebPagePreview = true
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := t.api.Send(msg)
	if isEntityError(err) {
		t.logger.Debug("markdown rejected, sending as plain text", slog.Int64("chat_id", chatID))
		msg.ParseMode = ""
		sent, err = t.api.Send(msg)
	}
	if err != nil {
		return MessageRef{}, fmt.Errorf("sending message: %w", t.classify(err))
	}
	return MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text of ref. Unchanged text yields ErrMessageNotModified.
func (t *Telegram) Edit(ctx context.Context, ref MessageRef, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.DisableWebPagePreview = true
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.api.Request(edit)
	if isEntityError(err) {
		edit.ParseMode = ""
		_, err = t.api.Request(edit)
	}
	if err != nil {
		return fmt.Errorf("editing message: %w", t.classify(err))
	}
	return nil
}

// SendVideo uploads v as a streamable video. The Bot API client has no
// per-request context, so the body reader fails once ctx is done, which
// aborts the multipart upload mid-stream.
func (t *Telegram) SendVideo(ctx context.Context, v Video) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	body := &ctxReader{ctx: ctx, r: v.Reader}
	cfg := tgbotapi.NewVideo(v.ChatID, tgbotapi.FileReader{Name: v.FileName, Reader: body})
	cfg.Caption = v.Caption
	cfg.ParseMode = tgbotapi.ModeMarkdown
	cfg.Duration = v.Duration
	cfg.SupportsStreaming = true
	if v.ThumbnailPath != "" {
		cfg.Thumb = tgbotapi.FilePath(v.ThumbnailPath)
	}

	start := time.Now()
	sent, err := t.api.Send(cfg)
	if err != nil {
		if ctx.Err() != nil {
			return MessageRef{}, ctx.Err()
		}
		return MessageRef{}, fmt.Errorf("uploading video: %w", t.classify(err))
	}
	t.logger.Info("video uploaded",
		slog.String("file", v.FileName),
		slog.Int64("size", v.Size),
		slog.Duration("took", time.Since(start)),
	)
	return MessageRef{ChatID: v.ChatID, MessageID: sent.MessageID}, nil
}

// Copy copies from into toChatID without a forward header.
func (t *Telegram) Copy(ctx context.Context, toChatID int64, from MessageRef) (MessageRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return MessageRef{}, err
	}
	id, err := t.api.CopyMessage(tgbotapi.NewCopyMessage(toChatID, from.ChatID, from.MessageID))
	if err != nil {
		return MessageRef{}, fmt.Errorf("copying message: %w", t.classify(err))
	}
	return MessageRef{ChatID: toChatID, MessageID: id.MessageID}, nil
}

// classify maps API errors onto package errors and strips the token.
func (t *Telegram) classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return &RetryAfterError{
				After: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:   t.redact.Error(err),
			}
		}
		if strings.Contains(apiErr.Message, "message is not modified") {
			return ErrMessageNotModified
		}
	}
	return t.redact.Error(err)
}

// isEntityError reports a Markdown parse rejection. Channel names and
// error excerpts may contain stray '_' or '*'.
func isEntityError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "can't parse entities")
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
