package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateSource delivers Bot API updates. *tgbotapi.BotAPI satisfies it.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// MessageFromUpdate extracts a handleable message from an update.
func MessageFromUpdate(u tgbotapi.Update) (Message, bool) {
	m := u.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return Message{}, false
	}
	msg := Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
	}
	if m.From != nil {
		msg.UserID = m.From.ID
		msg.Username = m.From.UserName
		msg.FirstName = m.From.FirstName
	}
	return msg, true
}

// Poll long-polls src and handles each message on its own goroutine until
// ctx is cancelled. It waits for in-flight handlers before returning.
func (b *Bot) Poll(ctx context.Context, src UpdateSource, timeoutSeconds int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSeconds
	updates := src.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	b.logger.Info("polling for updates", slog.Int("timeout_seconds", timeoutSeconds))
	for {
		select {
		case <-ctx.Done():
			src.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := MessageFromUpdate(update)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("command handler panicked",
							slog.String("panic", fmt.Sprint(r)),
							slog.String("stack", string(debug.Stack())))
					}
				}()
				b.Handle(ctx, msg)
			}()
		}
	}
}
