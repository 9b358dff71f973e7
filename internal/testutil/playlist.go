// Package testutil generates fictional IPTV playlists for tests.
package testutil

import (
	"fmt"
	"math/rand"
	"strings"
)

// Fictional broadcasters and channel names. Never use real brand names.
var (
	Broadcasters = []string{
		"StreamCast",
		"ViewMedia",
		"AeroVision",
		"GlobalStream",
		"NationalNet",
		"SportsCentral",
		"CinemaMax",
		"NewsFirst",
	}

	QualityVariants = []string{"HD", "SD", "4K"}

	// Categories maps group titles to channel name suffixes.
	Categories = map[string][]string{
		"News":          {"News", "World News", "Local News"},
		"Sports":        {"Sports", "Racing", "Football", "Sports Extra"},
		"Movies":        {"Movies", "Action Movies", "Classic Movies"},
		"Entertainment": {"Entertainment", "Comedy", "Drama"},
		"Kids":          {"Kids", "Cartoons", "Family"},
	}
)

// SampleChannel is one generated playlist entry.
type SampleChannel struct {
	TvgID      string
	Name       string
	GroupTitle string
	LogoURL    string
	StreamURL  string
}

// PlaylistOptions configures playlist generation.
type PlaylistOptions struct {
	// StreamURLBase prefixes every stream URL.
	StreamURLBase string
	// MissingIDRatio is the share of entries generated without a tvg-id.
	MissingIDRatio float64
	// DuplicateIDs, if set, makes every tvg-id repeat once.
	DuplicateIDs bool
}

// DefaultPlaylistOptions returns default generation options.
func DefaultPlaylistOptions() PlaylistOptions {
	return PlaylistOptions{
		StreamURLBase:  "http://streams.example/live",
		MissingIDRatio: 0.1,
	}
}

// Generator produces reproducible fictional channels.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator with a fixed seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

var groupOrder = []string{"News", "Sports", "Movies", "Entertainment", "Kids"}

// Channels generates count channels across all categories.
func (g *Generator) Channels(count int, opts PlaylistOptions) []SampleChannel {
	out := make([]SampleChannel, count)
	for i := range out {
		group := groupOrder[g.rng.Intn(len(groupOrder))]
		suffixes := Categories[group]
		name := fmt.Sprintf("%s %s %s",
			Broadcasters[g.rng.Intn(len(Broadcasters))],
			suffixes[g.rng.Intn(len(suffixes))],
			QualityVariants[g.rng.Intn(len(QualityVariants))])

		n := i + 1
		if opts.DuplicateIDs {
			n = i/2 + 1
		}
		id := fmt.Sprintf("ch%04d", n)
		if g.rng.Float64() < opts.MissingIDRatio {
			id = ""
		}
		out[i] = SampleChannel{
			TvgID:      id,
			Name:       name,
			GroupTitle: group,
			LogoURL:    fmt.Sprintf("http://logos.example/%04d.png", i+1),
			StreamURL:  fmt.Sprintf("%s/%d.m3u8", opts.StreamURLBase, i+1),
		}
	}
	return out
}

// M3U renders channels as an extended M3U playlist.
func M3U(channels []SampleChannel) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, c := range channels {
		b.WriteString("#EXTINF:-1")
		if c.TvgID != "" {
			fmt.Fprintf(&b, ` tvg-id="%s"`, c.TvgID)
		}
		if c.LogoURL != "" {
			fmt.Fprintf(&b, ` tvg-logo="%s"`, c.LogoURL)
		}
		if c.GroupTitle != "" {
			fmt.Fprintf(&b, ` group-title="%s"`, c.GroupTitle)
		}
		fmt.Fprintf(&b, ",%s\n%s\n", c.Name, c.StreamURL)
	}
	return b.String()
}
