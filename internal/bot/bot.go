// Package bot dispatches chat commands to the channel index and the
// recording scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/scheduler"
	"github.com/jmylchreest/tvrec/pkg/duration"
	"github.com/jmylchreest/tvrec/pkg/format"
)

const (
	// DefaultTitle is used when /rec is given no title.
	DefaultTitle = "Untitled"
	// FindPageSize is the number of channels per /find reply.
	FindPageSize = 10
	timeLayout   = "02-01-2006 15:04:05"
)

// Channels is the search side of the channel index.
type Channels interface {
	Search(term, playlistFilter string, exactFirst bool) []channels.Channel
}

// Recordings starts, lists and cancels recording tasks.
type Recordings interface {
	StartNow(req recorder.Request) (*recorder.Task, error)
	StartAt(req recorder.Request, target time.Time) (*recorder.Task, error)
	Cancel(key string) bool
	Active() []recorder.Snapshot
}

// Message is one incoming chat message.
type Message struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FirstName string
	Text      string
}

// DisplayName returns the best available name for the sender.
func (m Message) DisplayName() string {
	switch {
	case m.Username != "":
		return m.Username
	case m.FirstName != "":
		return m.FirstName
	default:
		return "Unknown"
	}
}

// Config configures a Bot.
type Config struct {
	AdminIDs   []int64
	LogChatID  int64
	Location   *time.Location
	Messenger  chat.Messenger
	Channels   Channels
	Recordings Recordings
	Logger     *slog.Logger
	Now        func() time.Time
}

// Bot handles commands.
type Bot struct {
	cfg    Config
	admins map[int64]bool
	logger *slog.Logger
}

// New creates a bot. A messenger and a recordings backend are required.
func New(cfg Config) (*Bot, error) {
	if cfg.Messenger == nil {
		return nil, errors.New("bot: messenger is required")
	}
	if cfg.Recordings == nil {
		return nil, errors.New("bot: recordings backend is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}
	return &Bot{
		cfg:    cfg,
		admins: admins,
		logger: observability.WithComponent(cfg.Logger, "bot"),
	}, nil
}

// IsAdmin reports whether userID may start or cancel recordings.
func (b *Bot) IsAdmin(userID int64) bool {
	return b.admins[userID]
}

// Handle runs the command in msg. Non-commands and unknown commands are
// ignored.
func (b *Bot) Handle(ctx context.Context, msg Message) {
	args, err := SplitArgs(msg.Text)
	if err != nil {
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			b.reply(ctx, msg, "❌ Could not parse command: "+err.Error())
		}
		return
	}
	if len(args) == 0 {
		return
	}
	name, ok := commandName(args[0])
	if !ok {
		return
	}

	logger := b.logger.With(
		slog.String("command", name),
		slog.Int64("user_id", msg.UserID),
		slog.Int64("chat_id", msg.ChatID))

	switch {
	case name == "rec":
		b.guarded(ctx, msg, logger, func() { b.record(ctx, msg, args, "") })
	case name == "schedule":
		b.guarded(ctx, msg, logger, func() { b.schedule(ctx, msg, args) })
	case name == "cancel":
		b.guarded(ctx, msg, logger, func() { b.cancel(ctx, msg, args) })
	case name == "status":
		b.guarded(ctx, msg, logger, func() { b.status(ctx, msg) })
	case name == "find":
		b.find(ctx, msg, args)
	default:
		if playlist, ok := playlistCommand(name); ok {
			b.guarded(ctx, msg, logger, func() { b.record(ctx, msg, args, playlist) })
		}
	}
}

func (b *Bot) guarded(ctx context.Context, msg Message, logger *slog.Logger, fn func()) {
	if !b.IsAdmin(msg.UserID) {
		logger.Warn("unauthorized command")
		b.reply(ctx, msg, "⚠️ Unauthorized Access")
		return
	}
	fn()
}

func (b *Bot) record(ctx context.Context, msg Message, args []string, playlist string) {
	if len(args) < 3 {
		b.reply(ctx, msg, "❗ Usage:\n"+
			"/rec <channel_id> <duration> [title]\n"+
			"/p1 <channel_id> <duration> [title]\n"+
			"Example: /rec 666 20 test")
		return
	}
	d, err := recorder.ParseDuration(args[2])
	if err != nil {
		b.reply(ctx, msg, "❌ Invalid duration format!\nValid formats: 10, 00:10, 00:00:10")
		return
	}
	title := DefaultTitle
	if len(args) > 3 {
		title = strings.Join(args[3:], " ")
	}

	req := recorder.Request{
		Title:         title,
		Source:        args[1],
		PlaylistID:    playlist,
		Duration:      d,
		ChatID:        msg.ChatID,
		ReplyTo:       msg.MessageID,
		RequestedBy:   msg.UserID,
		RequesterName: msg.DisplayName(),
	}
	task, err := b.cfg.Recordings.StartNow(req)
	if err != nil {
		b.reply(ctx, msg, "❌ Error: "+err.Error())
		return
	}
	b.logRequest(ctx, msg, title, b.cfg.Now().In(b.cfg.Location))
	b.logger.Info("recording requested",
		slog.String("key", task.Key()),
		slog.String("source", observability.RedactQuery(req.Source)),
		slog.Duration("duration", d))
}

func (b *Bot) schedule(ctx context.Context, msg Message, args []string) {
	if len(args) < 7 {
		b.reply(ctx, msg, "❗ Invalid Format!\n\nUse this format:\n"+
			`/schedule "url" DD-MM-YYYY HH:MM:SS duration channel title`)
		return
	}
	target, err := scheduler.ParseTarget(args[2], args[3], b.cfg.Location)
	if err != nil {
		b.reply(ctx, msg, "❌ Invalid date/time format!\nUse DD-MM-YYYY HH:MM:SS")
		return
	}
	d, err := recorder.ParseDuration(args[4])
	if err != nil {
		b.reply(ctx, msg, "❌ Invalid duration format!\nValid formats: 10, 00:10, 00:00:10")
		return
	}
	title := strings.Join(args[6:], " ")

	req := recorder.Request{
		Title:         title,
		Source:        args[1],
		Label:         args[5],
		Duration:      d,
		ChatID:        msg.ChatID,
		ReplyTo:       msg.MessageID,
		RequestedBy:   msg.UserID,
		RequesterName: msg.DisplayName(),
	}
	task, err := b.cfg.Recordings.StartAt(req, target)
	if err != nil {
		b.reply(ctx, msg, "❌ Error: "+err.Error())
		return
	}

	b.reply(ctx, msg, fmt.Sprintf("✅ Recording Scheduled Successfully!\n\n"+
		"Title: %s\nChannel: %s\nTime: %s\nDuration: %s\nKey: %s",
		title, args[5], target.Format(timeLayout), duration.Human(d), task.Key()))
	b.logRequest(ctx, msg, title, target)
}

func (b *Bot) cancel(ctx context.Context, msg Message, args []string) {
	if len(args) < 2 {
		b.reply(ctx, msg, "❗ Usage: /cancel <key>")
		return
	}
	key := strings.ToLower(args[1])
	if !b.cfg.Recordings.Cancel(key) {
		b.reply(ctx, msg, "❌ No active recording with key "+key)
		return
	}
	b.logger.Info("recording cancelled by user", slog.String("key", key), slog.Int64("user_id", msg.UserID))
	b.reply(ctx, msg, "🛑 Cancelled "+key)
}

func (b *Bot) status(ctx context.Context, msg Message) {
	active := b.cfg.Recordings.Active()
	if len(active) == 0 {
		b.reply(ctx, msg, "📭 No active recordings.")
		return
	}
	b.replyLong(ctx, msg, StatusText(active, b.cfg.Location))
}

// StatusText formats active recordings for /status.
func StatusText(active []recorder.Snapshot, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Active recordings (%d)\n", len(active))
	for _, s := range active {
		channel := s.Channel
		if channel == "" {
			channel = "-"
		}
		user := s.RequesterName
		if user == "" {
			user = fmt.Sprintf("%d", s.RequestedBy)
		}
		fmt.Fprintf(&sb, "\n🎬 %s\n📺 %s\n⏱ %s\n", s.Title, channel, duration.Human(s.Duration))
		switch {
		case !s.StartedAt.IsZero():
			fmt.Fprintf(&sb, "🕒 Started: %s\n", s.StartedAt.In(loc).Format(timeLayout))
		case !s.ScheduledFor.IsZero():
			fmt.Fprintf(&sb, "🗓 Scheduled: %s\n", s.ScheduledFor.In(loc).Format(timeLayout))
		}
		fmt.Fprintf(&sb, "👤 %s\n🔖 %s (%s)\n", user, s.Key, s.Status)
	}
	return sb.String()
}

func (b *Bot) find(ctx context.Context, msg Message, args []string) {
	var (
		terms  []string
		filter string
	)
	for _, a := range args[1:] {
		if strings.HasPrefix(a, ".") && len(a) > 1 {
			filter = a[1:]
			if !strings.HasPrefix(filter, "p") {
				filter = "p" + filter
			}
			continue
		}
		terms = append(terms, a)
	}
	if len(terms) == 0 {
		b.reply(ctx, msg, "❗ Usage:\n/find <channel_name> [.p1|.2|...]\nExample: /find dd news .p1")
		return
	}
	if b.cfg.Channels == nil {
		b.reply(ctx, msg, "❌ No channels found matching your search")
		return
	}

	results := b.cfg.Channels.Search(strings.Join(terms, " "), filter, true)
	if len(results) == 0 {
		b.reply(ctx, msg, "❌ No channels found matching your search")
		return
	}
	for _, page := range FindPages(results, FindPageSize) {
		b.replyLong(ctx, msg, page)
	}
}

// FindPages groups results by playlist in order of first appearance and
// renders at most size channels per page.
func FindPages(results []channels.Channel, size int) []string {
	var order []string
	groups := make(map[string][]channels.Channel)
	for _, c := range results {
		if _, ok := groups[c.Playlist]; !ok {
			order = append(order, c.Playlist)
		}
		groups[c.Playlist] = append(groups[c.Playlist], c)
	}

	var pages []string
	for _, pl := range order {
		group := groups[pl]
		header := fmt.Sprintf("📡 Playlist %s (%s results)\n", strings.ToUpper(pl), format.Number(int64(len(group))))
		for chunk := range slices.Chunk(group, size) {
			var sb strings.Builder
			sb.WriteString(header)
			for _, c := range chunk {
				fmt.Fprintf(&sb, "%s (ID: %s)\n", c.Name, c.ID)
			}
			pages = append(pages, sb.String())
		}
	}
	return pages
}

// logRequest posts an accepted recording request to the log channel.
func (b *Bot) logRequest(ctx context.Context, msg Message, title string, start time.Time) {
	if b.cfg.LogChatID == 0 {
		return
	}
	text := fmt.Sprintf("📝 New Recording Log\n\n"+
		"👤 User: %s (ID: %d)\n"+
		"⏰ Time: %s\n"+
		"📂 File: %s\n"+
		"🔖 Command: %s\n"+
		"⏱️ Scheduled Time: %s",
		msg.DisplayName(), msg.UserID,
		b.cfg.Now().In(b.cfg.Location).Format(timeLayout),
		title,
		observability.RedactQuery(msg.Text),
		start.In(b.cfg.Location).Format(timeLayout))
	if _, err := b.cfg.Messenger.Send(ctx, b.cfg.LogChatID, text, 0); err != nil {
		b.logger.Warn("failed to post to log channel", slog.String("error", err.Error()))
	}
}

func (b *Bot) reply(ctx context.Context, msg Message, text string) {
	if _, err := b.cfg.Messenger.Send(ctx, msg.ChatID, text, msg.MessageID); err != nil {
		b.logger.Warn("failed to send reply",
			slog.Int64("chat_id", msg.ChatID),
			slog.String("error", err.Error()))
	}
}

func (b *Bot) replyLong(ctx context.Context, msg Message, text string) {
	for _, chunk := range format.SplitMessage(text, chat.MaxMessageLength) {
		b.reply(ctx, msg, chunk)
	}
}
