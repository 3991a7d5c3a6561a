package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/noxcast/pkg/event"
	"github.com/MrWong99/noxcast/pkg/provider/llm"
	"github.com/MrWong99/noxcast/pkg/provider/llm/mock"
)

type fakeOrigin struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (o *fakeOrigin) Identity() string { return o.id }

func (o *fakeOrigin) Send(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, frame)
	return true
}

func (o *fakeOrigin) lastError(t *testing.T) (code, message string) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		t.Fatal("no frame sent to origin")
	}
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(o.frames[len(o.frames)-1], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "error" {
		t.Fatalf("frame type = %q, want error", env.Type)
	}
	return env.Payload.Code, env.Payload.Message
}

type recordingHub struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *recordingHub) Broadcast(_ context.Context, e event.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return 1
}

func (h *recordingHub) all() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.Event(nil), h.events...)
}

type chatObserver struct {
	mu    sync.Mutex
	texts []string
}

func (o *chatObserver) ObserveChat(_ context.Context, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
}

type forwarder struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *forwarder) Forward(_ context.Context, e event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func defaultConfig() Config {
	return Config{MaxLength: 280, RateLimit: 3, RateWindow: 10 * time.Second}
}

func msg(username, text any) map[string]any {
	return map[string]any{"username": username, "text": text}
}

func TestManager_AdmitsMessage(t *testing.T) {
	hub := &recordingHub{}
	obs := &chatObserver{}
	fwd := &forwarder{}
	m := NewManager(defaultConfig(), hub, WithObserver(obs), WithForwarder(fwd))
	o := &fakeOrigin{id: "10.0.0.1"}

	if err := m.HandleMessage(context.Background(), o, msg("  ann  ", "hi <3")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	got := hub.all()
	if len(got) != 1 || got[0].Kind != event.ChatMessage {
		t.Fatalf("broadcast = %v", got)
	}
	p := got[0].Payload
	if p["username"] != "ann" || p["sender"] != "ann" || p["text"] != "hi &lt;3" {
		t.Errorf("payload = %v", p)
	}
	if _, err := uuid.Parse(p["id"].(string)); err != nil {
		t.Errorf("id %v is not a uuid: %v", p["id"], err)
	}
	if len(obs.texts) != 1 || obs.texts[0] != "hi <3" {
		t.Errorf("observer texts = %v", obs.texts)
	}
	if len(fwd.events) != 1 || fwd.events[0].Payload["id"] != p["id"] {
		t.Errorf("forwarded = %v", fwd.events)
	}
	if len(o.frames) != 0 {
		t.Errorf("origin got %d frames, want none", len(o.frames))
	}
}

func TestManager_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		want     *RejectError
		wantText string
	}{
		{"missing username", map[string]any{"text": "hi"}, ErrInvalidUsername, "Invalid username"},
		{"non-string username", msg(42, "hi"), ErrInvalidUsername, "Invalid username"},
		{"blank username", msg(" \x00 ", "hi"), ErrInvalidUsername, "Invalid username"},
		{"missing text", map[string]any{"username": "ann"}, ErrInvalidText, "Invalid text"},
		{"blank text", msg("ann", "   "), ErrInvalidText, "Invalid text"},
		{"too long", msg("ann", strings.Repeat("x", 281)), ErrTooLong, "Message too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &recordingHub{}
			m := NewManager(defaultConfig(), hub)
			o := &fakeOrigin{id: "10.0.0.1"}

			err := m.HandleMessage(context.Background(), o, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			code, message := o.lastError(t)
			if code != tt.want.Code || message != tt.wantText {
				t.Errorf("error frame = %q/%q", code, message)
			}
			if n := len(hub.all()); n != 0 {
				t.Errorf("rejected message broadcast %d times", n)
			}
		})
	}
}

func TestManager_LengthCountsRunesBeforeEscaping(t *testing.T) {
	m := NewManager(Config{MaxLength: 5, RateLimit: 10, RateWindow: time.Second}, &recordingHub{})
	o := &fakeOrigin{id: "x"}
	if err := m.HandleMessage(context.Background(), o, msg("ann", "<<<<<")); err != nil {
		t.Errorf("5 runes rejected: %v", err)
	}
	if err := m.HandleMessage(context.Background(), o, msg("ann", "ééééé")); err != nil {
		t.Errorf("5 multibyte runes rejected: %v", err)
	}
}

func TestManager_RateLimitPerIdentity(t *testing.T) {
	hub := &recordingHub{}
	now := t0
	m := NewManager(defaultConfig(), hub, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	a := &fakeOrigin{id: "10.0.0.1"}
	b := &fakeOrigin{id: "10.0.0.2"}

	for i := range 3 {
		if err := m.HandleMessage(ctx, a, msg("ann", "hi")); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}
	if err := m.HandleMessage(ctx, a, msg("ann", "hi")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th message error = %v, want rate limited", err)
	}
	if code, message := a.lastError(t); code != "rate_limited" || message != "Rate limit exceeded" {
		t.Errorf("frame = %q/%q", code, message)
	}
	if err := m.HandleMessage(ctx, b, msg("bob", "hi")); err != nil {
		t.Errorf("other identity: %v", err)
	}

	now = t0.Add(10 * time.Second)
	if err := m.HandleMessage(ctx, a, msg("ann", "back")); err != nil {
		t.Errorf("after window: %v", err)
	}
	if n := len(hub.all()); n != 5 {
		t.Errorf("broadcasts = %d, want 5", n)
	}
}

func TestManager_RateLimitBeforeLength(t *testing.T) {
	m := NewManager(Config{MaxLength: 3, RateLimit: 1, RateWindow: time.Minute}, &recordingHub{})
	o := &fakeOrigin{id: "x"}
	ctx := context.Background()

	if err := m.HandleMessage(ctx, o, msg("ann", "toolong")); !errors.Is(err, ErrTooLong) {
		t.Fatalf("first = %v, want too long", err)
	}
	if err := m.HandleMessage(ctx, o, msg("ann", "ok")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second = %v, want rate limited", err)
	}
}

func TestManager_SetLimits(t *testing.T) {
	m := NewManager(Config{MaxLength: 3, RateLimit: 10, RateWindow: time.Minute}, &recordingHub{})
	o := &fakeOrigin{id: "x"}
	ctx := context.Background()

	if err := m.HandleMessage(ctx, o, msg("ann", "four")); !errors.Is(err, ErrTooLong) {
		t.Fatalf("error = %v, want too long", err)
	}
	m.SetLimits(Config{MaxLength: 10, RateLimit: 10, RateWindow: time.Minute})
	if err := m.HandleMessage(ctx, o, msg("ann", "four")); err != nil {
		t.Fatalf("after SetLimits: %v", err)
	}
}

func TestManager_RespondsThroughSink(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "welcome!"}}
	sink := &recordingSink{}
	resp := NewResponder(p, NewHistory(10), sink, ResponderConfig{})
	hub := &recordingHub{}
	m := NewManager(defaultConfig(), hub, WithResponder(resp))

	if err := m.HandleMessage(context.Background(), &fakeOrigin{id: "x"}, msg("ann", "hello")); err != nil {
		t.Fatal(err)
	}
	resp.Wait()

	id := hub.all()[0].Payload["id"]
	replies := sink.kind(event.ChatResponse)
	if len(replies) != 1 || replies[0].Payload["inReplyTo"] != id || replies[0].Payload["replyTo"] != "ann" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestManager_BackendSeesUnescapedText(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "aw, thanks"}}
	resp := NewResponder(p, NewHistory(10), &recordingSink{}, ResponderConfig{})
	m := NewManager(defaultConfig(), &recordingHub{}, WithResponder(resp))

	if err := m.HandleMessage(context.Background(), &fakeOrigin{id: "x"}, msg("ann", "you rock <3 & more")); err != nil {
		t.Fatal(err)
	}
	resp.Wait()

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(calls))
	}
	msgs := calls[0].Req.Messages
	if last := msgs[len(msgs)-1]; last.Content != "you rock <3 & more" {
		t.Errorf("backend content = %q, want the unescaped text", last.Content)
	}
	if turns := resp.History().Turns(); len(turns) == 0 || turns[0].Text != "you rock <3 & more" {
		t.Errorf("history turns = %+v", turns)
	}
}
