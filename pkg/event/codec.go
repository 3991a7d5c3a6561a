package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("event: malformed envelope")

	// ErrUnknownKind is returned when type is missing or not in the vocabulary.
	ErrUnknownKind = errors.New("event: unknown kind")

	// ErrBadTimestamp is returned when ts is missing or not a number.
	ErrBadTimestamp = errors.New("event: timestamp must be a number")
)

type envelope struct {
	Type    Kind            `json:"type"`
	TS      json.RawMessage `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outEnvelope struct {
	Type    Kind           `json:"type"`
	TS      int64          `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// Decode parses one wire frame. The kind must be in the routable vocabulary
// and ts must be a JSON number. A missing, null or non-object payload
// decodes as an empty map.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	ts, err := decodeTimestamp(env.TS)
	if err != nil {
		return Event{}, err
	}

	payload := map[string]any{}
	if p := bytes.TrimSpace(env.Payload); len(p) > 0 && p[0] == '{' {
		if err := json.Unmarshal(p, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
	}
	return Event{Kind: env.Type, Timestamp: ts, Payload: payload}, nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	// json.Number would also accept a quoted number.
	if len(raw) == 0 || raw[0] == '"' {
		return time.Time{}, ErrBadTimestamp
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return time.Time{}, ErrBadTimestamp
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, ErrBadTimestamp
	}
	return time.UnixMilli(int64(f)), nil
}

// Encode renders e as a wire frame.
func Encode(e Event) ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(outEnvelope{
		Type:    e.Kind,
		TS:      e.Timestamp.UnixMilli(),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.Kind, err)
	}
	return data, nil
}

// Rejection builds the error frame sent to a client whose input was refused.
func Rejection(code, message string) Event {
	return New(Error, map[string]any{"code": code, "message": message})
}
