package chat

import (
	"html"
	"strings"
	"unicode"
)

// MaxUsernameRunes is the longest username kept after sanitizing.
const MaxUsernameRunes = 32

// Clean strips control and format characters and trims surrounding space.
// Tabs and line breaks become plain spaces first.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Escape replaces & < > " ' with HTML entities.
func Escape(s string) string { return html.EscapeString(s) }

// SanitizeText cleans and escapes viewer text.
func SanitizeText(s string) string { return Escape(Clean(s)) }

// SanitizeUsername cleans a username, cuts it to [MaxUsernameRunes] and
// escapes it. Truncation happens before escaping so entities are never split.
func SanitizeUsername(s string) string {
	s = Clean(s)
	if r := []rune(s); len(r) > MaxUsernameRunes {
		s = strings.TrimSpace(string(r[:MaxUsernameRunes]))
	}
	return Escape(s)
}
