// Package event defines the closed event vocabulary shared by the agent
// bridge, the server pipeline and the presentation clients, together with the
// JSON envelope every event travels in:
//
//	{"type": "speaking", "ts": 1718000000000, "payload": {"text": "hi"}}
//
// ts is wall-clock epoch milliseconds.
package event

import (
	"maps"
	"time"
)

// Kind names an event category.
type Kind string

// Agent bridge lifecycle kinds.
const (
	Thinking   Kind = "thinking"
	Typing     Kind = "typing"
	Speaking   Kind = "speaking"
	Executing  Kind = "executing"
	ToolResult Kind = "tool_result"
	Idle       Kind = "idle"
	Narrate    Kind = "narrate"
	Mood       Kind = "mood"
	Task       Kind = "task"
)

// Pipeline kinds.
const (
	ChatMessage  Kind = "chat_message"
	ChatResponse Kind = "chat_response"
	Connected    Kind = "connected"

	// Error is sent to a single client when its input was rejected. It is
	// never broadcast and never accepted inbound.
	Error Kind = "error"
)

var (
	agentKinds = map[Kind]struct{}{
		Thinking: {}, Typing: {}, Speaking: {}, Executing: {}, ToolResult: {},
		Idle: {}, Narrate: {}, Mood: {}, Task: {},
	}
	pipelineKinds = map[Kind]struct{}{
		ChatMessage: {}, ChatResponse: {}, Connected: {},
	}
)

// Valid reports whether k is part of the routable vocabulary.
func (k Kind) Valid() bool {
	if _, ok := agentKinds[k]; ok {
		return true
	}
	_, ok := pipelineKinds[k]
	return ok
}

// FromAgent reports whether the agent bridge may emit k.
func (k Kind) FromAgent() bool {
	_, ok := agentKinds[k]
	return ok
}

// Enriched reports whether events of kind k carry synthesized speech.
func (k Kind) Enriched() bool {
	return k == Speaking || k == Narrate
}

// Payload keys written by enrichment.
const (
	KeyText     = "text"
	KeyAudioURL = "audioUrl"
	KeyPhonemes = "phonemes"
	KeyDuration = "duration"
)

// Event is a single timestamped occurrence in the presenter's world.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   map[string]any
}

// New returns an event of kind k stamped with the current time. A nil
// payload becomes an empty map.
func New(k Kind, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Kind: k, Timestamp: time.Now(), Payload: payload}
}

// Text returns payload.text when it is a non-empty string.
func (e Event) Text() string {
	s, _ := e.Payload[KeyText].(string)
	return s
}

// String returns the string value of a payload key, or "".
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Clone returns a copy of e whose top-level payload map can be mutated
// without affecting the original.
func (e Event) Clone() Event {
	out := e
	out.Payload = make(map[string]any, len(e.Payload)+3)
	maps.Copy(out.Payload, e.Payload)
	return out
}
