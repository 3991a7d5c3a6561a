package narrator

import (
	"regexp"
	"strings"
	"time"
)

// Topic classifies what a tool call was about.
type Topic string

const (
	TopicGitPush   Topic = "git_push"
	TopicGitCommit Topic = "git_commit"
	TopicGit       Topic = "git"
	TopicTest      Topic = "test"
	TopicBuild     Topic = "build"
	TopicInstall   Topic = "install"
	TopicRead      Topic = "read"
	TopicWrite     Topic = "write"
	TopicSearch    Topic = "search"
	TopicWeb       Topic = "web"
	TopicExec      Topic = "exec"
	TopicGeneric   Topic = "generic"
)

// Activity is one tool call seen in the event stream.
type Activity struct {
	Tool  string
	Input string
	Topic Topic
	At    time.Time
}

// ActivityWindow keeps the most recent tool calls, evicting the oldest once
// capacity is reached. It is not safe for concurrent use; the [Engine] owns it.
type ActivityWindow struct {
	entries  []Activity
	capacity int
}

// NewActivityWindow returns a window holding at most capacity entries.
func NewActivityWindow(capacity int) *ActivityWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &ActivityWindow{entries: make([]Activity, 0, capacity), capacity: capacity}
}

// Add appends a, classifying its topic when unset.
func (w *ActivityWindow) Add(a Activity) {
	if a.Topic == "" {
		a.Topic = Classify(a.Tool, a.Input)
	}
	if len(w.entries) == w.capacity {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:len(w.entries)-1]
	}
	w.entries = append(w.entries, a)
}

// Len returns the number of entries.
func (w *ActivityWindow) Len() int { return len(w.entries) }

// Entries returns a copy of the entries, oldest first.
func (w *ActivityWindow) Entries() []Activity {
	return append([]Activity(nil), w.entries...)
}

// Clear empties the window.
func (w *ActivityWindow) Clear() { w.entries = w.entries[:0] }

// Dominant returns the most frequent topic in the window and the input of its
// most recent occurrence. Ties go to the topic seen most recently.
func (w *ActivityWindow) Dominant() (Topic, string, bool) {
	if len(w.entries) == 0 {
		return "", "", false
	}
	counts := make(map[Topic]int)
	lastIdx := make(map[Topic]int)
	for i, a := range w.entries {
		counts[a.Topic]++
		lastIdx[a.Topic] = i
	}

	var best Topic
	for t, n := range counts {
		switch {
		case best == "":
			best = t
		case n > counts[best]:
			best = t
		case n == counts[best] && lastIdx[t] > lastIdx[best]:
			best = t
		}
	}
	return best, w.entries[lastIdx[best]].Input, true
}

type topicRule struct {
	topic    Topic
	patterns []*regexp.Regexp
}

// Command patterns are checked against the input before the tool name.
var commandRules = []topicRule{
	{TopicGitPush, compile(`\bgit\s+push\b`)},
	{TopicGitCommit, compile(`\bgit\s+commit\b`)},
	{TopicGit, compile(`\bgit\s+\w+`)},
	{TopicTest, compile(`\b(go|npm|pnpm|yarn|bun|cargo|mix)\s+(run\s+)?test\b`, `\b(pytest|jest|vitest|mocha|rspec)\b`)},
	{TopicBuild, compile(`\b(go|cargo|docker)\s+build\b`, `\b(npm|pnpm|yarn|bun)\s+run\s+build\b`, `^\s*(make|tsc)\b`)},
	{TopicInstall, compile(`\b(npm|pnpm|bun)\s+(install|i|add)\b`, `\byarn\s+add\b`, `\bpip3?\s+install\b`, `\bgo\s+(get|install)\b`, `\b(apt(-get)?|brew)\s+install\b`)},
	{TopicWeb, compile(`^https?://`, `\bcurl\s`, `\bwget\s`)},
}

var toolRules = map[Topic][]string{
	TopicRead:   {"read", "view", "cat", "open"},
	TopicWrite:  {"write", "edit", "create", "patch", "apply"},
	TopicSearch: {"grep", "search", "find", "glob", "rg", "ls"},
	TopicWeb:    {"web", "fetch", "browse", "http", "url"},
	TopicExec:   {"exec", "bash", "shell", "run", "terminal", "process"},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Classify maps a tool call to its topic. Recognised commands in input win
// over the tool name, so an exec of "git push" is a push, not an exec.
func Classify(tool, input string) Topic {
	for _, r := range commandRules {
		for _, p := range r.patterns {
			if p.MatchString(input) {
				return r.topic
			}
		}
	}
	name := strings.ToLower(tool)
	// Checked in a fixed order: "web_search" is web, not search.
	for _, t := range []Topic{TopicWeb, TopicRead, TopicWrite, TopicSearch, TopicExec} {
		for _, kw := range toolRules[t] {
			if strings.Contains(name, kw) {
				return t
			}
		}
	}
	return TopicGeneric
}

// truncate shortens s to n runes, collapsing newlines and appending an
// ellipsis when cut.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
