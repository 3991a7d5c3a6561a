package chat

import (
	"testing"

	"github.com/MrWong99/noxcast/pkg/provider/llm"
)

func TestHistory_EvictsOldestPair(t *testing.T) {
	h := NewHistory(2)
	h.Append(Turn{Name: "a", Text: "q1"}, Turn{Text: "r1"})
	h.Append(Turn{Name: "b", Text: "q2"}, Turn{Text: "r2"})
	h.Append(Turn{Name: "c", Text: "q3"}, Turn{Text: "r3"})

	turns := h.Turns()
	if len(turns) != 4 {
		t.Fatalf("len = %d, want 4", len(turns))
	}
	if turns[0].Text != "q2" || turns[3].Text != "r3" {
		t.Errorf("turns = %+v", turns)
	}
	if turns[0].Role != RoleViewer || turns[1].Role != RolePresenter {
		t.Errorf("roles = %q, %q", turns[0].Role, turns[1].Role)
	}
}

func TestHistory_Messages(t *testing.T) {
	h := NewHistory(5)
	h.Append(Turn{Name: "viewer1", Text: "hi"}, Turn{Text: "hello!"})

	msgs := h.Messages()
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "hi", Name: "viewer1"},
		{Role: llm.RoleAssistant, Content: "hello!"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d", len(msgs))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestHistory_ZeroKeepsNothing(t *testing.T) {
	h := NewHistory(0)
	h.Append(Turn{Text: "q"}, Turn{Text: "r"})
	if h.Len() != 0 {
		t.Errorf("Len() = %d", h.Len())
	}
}
