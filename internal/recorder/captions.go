package recorder

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/pkg/duration"
	"github.com/jmylchreest/tvrec/pkg/format"
)

// Layouts used in chat and file names.
const (
	StartedLayout  = "02-01-2006 15:04:05"
	fileTimeLayout = "15-04-05"
	fileDateLayout = "02-01-2006"
	progressWidth  = 10
)

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Sanitize replaces characters that are not allowed in file names.
func Sanitize(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "_")
}

// FileName builds the final recording name:
// <title>.<channel>.<HH-MM-SS>-<HH-MM-SS>.<DD-MM-YYYY>.IPTV.WEB-DL.<tag>.mkv
func FileName(title, channel string, start, end time.Time, tag string) string {
	return fmt.Sprintf("%s.%s.%s-%s.%s.IPTV.WEB-DL.%s.mkv",
		Sanitize(title),
		Sanitize(channel),
		start.Format(fileTimeLayout),
		end.Format(fileTimeLayout),
		start.Format(fileDateLayout),
		tag,
	)
}

// TempFileName is the capture target before finalisation.
func TempFileName(start time.Time) string {
	return fmt.Sprintf("temp_recording_%d.mkv", start.UnixNano())
}

// Progress returns clamp(elapsed/total, 0, 1), never below last, and the
// time remaining.
func Progress(elapsed, total time.Duration, last float64) (float64, time.Duration) {
	p := 1.0
	if total > 0 {
		p = float64(elapsed) / float64(total)
	}
	p = math.Max(0, math.Min(1, p))
	if p < last {
		p = last
	}
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return p, remaining
}

// ProgressBar renders the ten cell recording bar.
func ProgressBar(progress float64) string {
	return "[" + format.Bar(progress, progressWidth, "█", "░") + "]"
}

// StartedCaption is the first progress message.
func StartedCaption(title, channel string, d time.Duration, started time.Time) string {
	return fmt.Sprintf("🎬 *Recording Started*\n\n"+
		"📌 *Title:* `%s`\n"+
		"📺 *Channel:* `%s`\n"+
		"⏱ *Duration:* `%s`\n"+
		"⏰ *Started At:* `%s`\n\n"+
		"🔄 *Status:* Preparing to record...",
		title, channel, duration.FormatClock(d), started.Format(StartedLayout))
}

// ProgressCaption renders a live progress update. A non-empty errMsg marks
// the recording as failed.
func ProgressCaption(title, channel string, d time.Duration, started time.Time, progress float64, elapsed, remaining time.Duration, errMsg string) string {
	status := "🔄 Recording..."
	errLine := ""
	if errMsg != "" {
		status = "❌ Failed"
		errLine = fmt.Sprintf("\n❗ *Error:* `%s`", errMsg)
	}
	return fmt.Sprintf("⏳ *Recording in Progress*\n\n"+
		"📌 *Title:* `%s`\n"+
		"📺 *Channel:* `%s`\n"+
		"⏱ *Duration:* `%s`\n"+
		"⏰ *Started At:* `%s`\n\n"+
		"%s %s\n"+
		"▶️ *Elapsed:* `%s`\n"+
		"⏭ *Remaining:* `%s`\n\n"+
		"*Status:* %s%s",
		title, channel, duration.FormatClock(d), started.Format(StartedLayout),
		ProgressBar(progress), format.Percentage(progress*100, 1),
		duration.FormatClock(elapsed), duration.FormatClock(remaining),
		status, errLine)
}

// CancelledCaption replaces the progress message after a cancel.
func CancelledCaption(title, channel string, started time.Time) string {
	return fmt.Sprintf("🛑 *Recording Cancelled*\n\n"+
		"📌 *Title:* `%s`\n"+
		"📺 *Channel:* `%s`\n"+
		"⏰ *Started At:* `%s`",
		title, channel, started.Format(StartedLayout))
}

// CompletedCaption is the single final progress edit, with a full bar.
func CompletedCaption(title, channel string, d time.Duration, started, ended time.Time) string {
	return fmt.Sprintf("✅ *Recording Completed*\n\n"+
		"📌 *Title:* `%s`\n"+
		"📺 *Channel:* `%s`\n"+
		"⏱ *Duration:* `%s`\n"+
		"⏰ *Started At:* `%s`\n"+
		"🕒 *Ended At:* `%s`\n\n"+
		"%s %s\n"+
		"📤 *Status:* Preparing for upload...",
		title, channel, duration.FormatClock(d),
		started.Format(StartedLayout), ended.Format(StartedLayout),
		ProgressBar(1), format.Percentage(100, 1))
}

// UploadCaption is attached to the stored video.
func UploadCaption(fileName, quality string, d time.Duration, size int64) string {
	var b strings.Builder
	b.WriteString("`📁 Filename: " + fileName + "\n")
	if quality != "" {
		b.WriteString("🎞 Quality: " + quality + "\n")
	}
	b.WriteString("⏱ Duration: " + duration.Human(d) + "\n")
	b.WriteString("💾 File-Size: " + format.Bytes(size) + "`")
	return b.String()
}

// NotFoundText answers an unknown channel with up to MaxSuggestions matches.
func NotFoundText(identifier string, suggestions []channels.Channel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Channel `%s` not found.", identifier)
	if len(suggestions) == 0 {
		return b.String()
	}
	b.WriteString("\n\n🔎 *Did you mean:*")
	for i, c := range suggestions {
		if i == MaxSuggestions {
			break
		}
		fmt.Fprintf(&b, "\n• `%s` %s", c.ID, c.Name)
	}
	return b.String()
}
