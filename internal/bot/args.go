package bot

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUnterminatedQuote is returned by SplitArgs for an unbalanced quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// SplitArgs splits a command line into words. Single and double quotes group
// words; a backslash escapes the next rune outside single quotes.
func SplitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}

// commandName returns the lowercased command of the first word, without the
// leading slash or a trailing @botname. ok is false for non-commands.
func commandName(word string) (string, bool) {
	if !strings.HasPrefix(word, "/") || len(word) < 2 {
		return "", false
	}
	name := word[1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), name != ""
}

// playlistCommand reports whether name is a playlist-scoped recording
// command such as "p2", returning the playlist id.
func playlistCommand(name string) (string, bool) {
	if len(name) < 2 || name[0] != 'p' {
		return "", false
	}
	for _, r := range name[1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return name, true
}
