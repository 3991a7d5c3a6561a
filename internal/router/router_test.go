package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/noxcast/internal/synth"
	"github.com/MrWong99/noxcast/pkg/event"
	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

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

type fakeSynth struct {
	mu     sync.Mutex
	result synth.Result
	texts  []string
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) synth.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.result
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []event.Kind
	seen  []map[string]any
}

func (o *recordingObserver) Observe(_ context.Context, e event.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, e.Kind)
	o.seen = append(o.seen, e.Payload)
}

func TestRoute_UnknownKindDropped(t *testing.T) {
	hub := &recordingHub{}
	obs := &recordingObserver{}
	r := New(&fakeSynth{}, hub, WithObserver(obs))

	r.Route(context.Background(), event.Event{Kind: "dance", Timestamp: time.Now()})
	r.Route(context.Background(), event.Event{Kind: "", Timestamp: time.Now()})

	if n := len(hub.all()); n != 0 {
		t.Fatalf("broadcasts = %d, want 0", n)
	}
	if len(obs.kinds) != 0 {
		t.Errorf("observers notified for invalid events: %v", obs.kinds)
	}
}

func TestRoute_ZeroTimestampDropped(t *testing.T) {
	hub := &recordingHub{}
	New(nil, hub).Route(context.Background(), event.Event{Kind: event.Idle})
	if n := len(hub.all()); n != 0 {
		t.Fatalf("broadcasts = %d, want 0", n)
	}
}

func TestRoute_PassThroughKinds(t *testing.T) {
	hub := &recordingHub{}
	syn := &fakeSynth{}
	r := New(syn, hub)
	for _, k := range []event.Kind{event.Thinking, event.Executing, event.ToolResult, event.Mood, event.Idle} {
		r.Route(context.Background(), event.New(k, map[string]any{"text": "not spoken"}))
	}
	if n := len(hub.all()); n != 5 {
		t.Fatalf("broadcasts = %d, want 5", n)
	}
	if len(syn.texts) != 0 {
		t.Errorf("synthesized non-speech kinds: %v", syn.texts)
	}
}

func TestRoute_EnrichesSpeaking(t *testing.T) {
	hub := &recordingHub{}
	track := []tts.Phoneme{{Symbol: "HH", Start: 0.05, End: 0.2}}
	syn := &fakeSynth{result: synth.Result{AudioURL: "/audio/x.wav", Phonemes: track, Duration: 1.5}}
	obs := &recordingObserver{}
	r := New(syn, hub, WithObserver(obs))

	original := map[string]any{"text": "hello"}
	r.Route(context.Background(), event.New(event.Speaking, original))

	got := hub.all()
	if len(got) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(got))
	}
	p := got[0].Payload
	if p[event.KeyAudioURL] != "/audio/x.wav" || p[event.KeyDuration] != 1.5 {
		t.Errorf("payload = %v", p)
	}
	if ph, ok := p[event.KeyPhonemes].([]tts.Phoneme); !ok || len(ph) != 1 {
		t.Errorf("phonemes = %#v", p[event.KeyPhonemes])
	}
	if _, mutated := original[event.KeyAudioURL]; mutated {
		t.Error("caller payload was mutated")
	}
	if _, enrichedBeforeObserve := obs.seen[0][event.KeyAudioURL]; enrichedBeforeObserve {
		t.Error("observer saw enriched payload; should see it before enrichment")
	}
}

func TestRoute_EmptySynthesisStillBroadcasts(t *testing.T) {
	hub := &recordingHub{}
	r := New(&fakeSynth{result: synth.Empty()}, hub)
	r.Route(context.Background(), event.New(event.Narrate, map[string]any{"text": "quiet"}))

	got := hub.all()
	if len(got) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(got))
	}
	p := got[0].Payload
	if p[event.KeyAudioURL] != "" || p[event.KeyDuration] != 0.0 {
		t.Errorf("payload = %v, want empty audio fields", p)
	}
	if ph := p[event.KeyPhonemes].([]tts.Phoneme); ph == nil || len(ph) != 0 {
		t.Errorf("phonemes = %#v, want empty non-nil", ph)
	}
}

func TestRoute_SpeakingWithoutTextSkipsSynthesis(t *testing.T) {
	hub := &recordingHub{}
	syn := &fakeSynth{}
	New(syn, hub).Route(context.Background(), event.New(event.Speaking, nil))

	if len(syn.texts) != 0 {
		t.Errorf("synthesized %v", syn.texts)
	}
	if _, ok := hub.all()[0].Payload[event.KeyAudioURL]; ok {
		t.Error("unexpected audio field without text")
	}
}

func TestRoute_NilSynthesizer(t *testing.T) {
	hub := &recordingHub{}
	New(nil, hub).Route(context.Background(), event.New(event.Speaking, map[string]any{"text": "hi"}))
	if got := hub.all(); len(got) != 1 || got[0].Payload[event.KeyAudioURL] != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestRouteAsync_SurvivesCallerCancel(t *testing.T) {
	hub := &recordingHub{}
	r := New(&fakeSynth{}, hub)
	ctx, cancel := context.WithCancel(context.Background())
	r.AddObserver(&recordingObserver{})
	r.RouteAsync(ctx, event.New(event.Narrate, map[string]any{"text": "later"}))
	cancel()
	r.Wait()

	if n := len(hub.all()); n != 1 {
		t.Fatalf("broadcasts = %d, want 1", n)
	}
}
