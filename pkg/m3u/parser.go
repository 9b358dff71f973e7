// Package m3u provides streaming parsing of extended M3U playlists.
package m3u

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// UnknownTitle is used when an EXTINF line carries no title.
const UnknownTitle = "Unknown"

// ErrOrphanedMetadata is reported through OnError when an EXTINF line is not
// followed by a stream URL.
var ErrOrphanedMetadata = errors.New("m3u: metadata without stream url")

// Entry represents a single channel entry in an M3U playlist.
type Entry struct {
	// Duration is the track duration in seconds (-1 for live streams).
	Duration int

	// TvgID is the EPG channel identifier, empty when absent.
	TvgID string

	TvgName    string
	TvgLogo    string
	GroupTitle string

	// Title is the text after the last unquoted comma of the EXTINF line.
	Title string

	// URL is the stream URL.
	URL string

	// Line is the 1-based line number of the URL.
	Line int

	// Extra contains any additional attributes not explicitly parsed.
	Extra map[string]string
}

// Parser provides streaming M3U parsing with callback-based processing.
type Parser struct {
	// OnEntry is called for each parsed entry.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable parsing problems such as dropped
	// metadata. If nil, they are ignored.
	OnError func(lineNum int, err error)
}

var (
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)?[^\s,]*\s*(.*)$`)
	attrRegex   = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
	schemeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// IsStreamURL reports whether line starts with a URL scheme.
func IsStreamURL(line string) bool {
	return schemeRegex.MatchString(line)
}

// Parse parses an uncompressed M3U playlist, calling OnEntry for each
// EXTINF line that is immediately followed (ignoring other directives and
// blank lines) by a stream URL.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		pending     *Entry
		pendingLine int
		lineNum     int
	)
	drop := func() {
		if pending != nil {
			p.handleError(pendingLine, ErrOrphanedMetadata)
			pending = nil
		}
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXTINF"):
			drop()
			pending = parseExtinf(line)
			pendingLine = lineNum

		case strings.HasPrefix(line, "#"):
			continue

		case IsStreamURL(line):
			if pending == nil {
				continue
			}
			pending.URL = line
			pending.Line = lineNum
			if err := p.OnEntry(pending); err != nil {
				return fmt.Errorf("callback error at line %d: %w", lineNum, err)
			}
			pending = nil

		default:
			drop()
		}
	}
	drop()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning M3U: %w", err)
	}
	return nil
}

// ParseCompressed parses a playlist that may be gzip, bzip2 or xz
// compressed. The format is detected from magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && string(header[1:5]) == "7zXZ" && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// ParseAll parses r and returns every entry in file order.
func ParseAll(r io.Reader) ([]*Entry, error) {
	var entries []*Entry
	p := &Parser{OnEntry: func(e *Entry) error {
		entries = append(entries, e)
		return nil
	}}
	if err := p.ParseCompressed(r); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseExtinf(line string) *Entry {
	entry := &Entry{Duration: -1, Title: UnknownTitle, Extra: make(map[string]string)}

	matches := extinfRegex.FindStringSubmatch(line)
	if matches == nil {
		return entry
	}
	if matches[1] != "" {
		entry.Duration, _ = strconv.Atoi(matches[1])
	}
	remainder := matches[2]

	if idx := findTitleStart(remainder); idx >= 0 {
		if title := strings.TrimSpace(remainder[idx+1:]); title != "" {
			entry.Title = title
		}
		remainder = remainder[:idx]
	}

	for _, match := range attrRegex.FindAllStringSubmatch(remainder, -1) {
		key := strings.ToLower(match[1])
		value := match[2]
		if value == "" {
			value = match[3]
		}
		switch key {
		case "tvg-id":
			entry.TvgID = value
		case "tvg-name":
			entry.TvgName = value
		case "tvg-logo":
			entry.TvgLogo = value
		case "group-title":
			entry.GroupTitle = value
		default:
			entry.Extra[key] = value
		}
	}
	return entry
}

// findTitleStart returns the index of the last comma outside quotes.
func findTitleStart(s string) int {
	inQuotes := false
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' {
			inQuotes = !inQuotes
		}
		if s[i] == ',' && !inQuotes {
			return i
		}
	}
	return -1
}

func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
