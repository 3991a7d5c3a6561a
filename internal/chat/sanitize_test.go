package chat

import (
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"  padded  ", "padded"},
		{"<script>alert('x')</script>", "&lt;script&gt;alert(&#39;x&#39;)&lt;/script&gt;"},
		{`a & "b"`, "a &amp; &#34;b&#34;"},
		{"bell\a and\x00 nul", "bell and nul"},
		{"line\nbreak", "line break"},
		{"zero\u200bwidth", "zerowidth"},
		{"\x1b[31m", "[31m"},
		{" \t\n ", ""},
	}
	for _, tt := range tests {
		if got := SanitizeText(tt.in); got != tt.want {
			t.Errorf("SanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeUsername(t *testing.T) {
	long := strings.Repeat("é", 40)
	if got := SanitizeUsername(long); got != strings.Repeat("é", MaxUsernameRunes) {
		t.Errorf("SanitizeUsername() = %q", got)
	}
	// Cut before escaping; the entity stays whole.
	name := strings.Repeat("a", 31) + "<b"
	if got := SanitizeUsername(name); got != strings.Repeat("a", 31)+"&lt;" {
		t.Errorf("SanitizeUsername(%q) = %q", name, got)
	}
}
