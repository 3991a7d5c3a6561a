package chat

import (
	"sync"

	"github.com/MrWong99/noxcast/pkg/provider/llm"
)

// Role is the speaker of a [Turn].
type Role string

const (
	RoleViewer    Role = "viewer"
	RolePresenter Role = "presenter"
)

// Turn is one line of the conversation.
type Turn struct {
	Role Role
	Name string
	Text string
}

// History is a bounded list of viewer/presenter turn pairs used as AI
// context. The oldest pair is evicted first. It is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	pairs int
	turns []Turn
}

// NewHistory keeps at most pairs viewer/presenter pairs. Zero keeps none.
func NewHistory(pairs int) *History {
	return &History{pairs: max(pairs, 0)}
}

// Append records a viewer line and the presenter's reply.
func (h *History) Append(viewer, presenter Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pairs == 0 {
		return
	}
	viewer.Role, presenter.Role = RoleViewer, RolePresenter
	h.turns = append(h.turns, viewer, presenter)
	if over := len(h.turns) - 2*h.pairs; over > 0 {
		h.turns = append(h.turns[:0], h.turns[over:]...)
	}
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns...)
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Messages converts the history into backend messages.
func (h *History) Messages() []llm.Message {
	turns := h.Turns()
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		m := llm.Message{Role: llm.RoleUser, Content: t.Text, Name: t.Name}
		if t.Role == RolePresenter {
			m = llm.Message{Role: llm.RoleAssistant, Content: t.Text}
		}
		out = append(out, m)
	}
	return out
}
