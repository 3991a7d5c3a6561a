// Package tts defines the capability contract every speech synthesis backend
// fulfils.
//
// A provider turns one piece of text into one finished audio artifact. Some
// backends (Kokoro) also return a phoneme alignment track; others return bare
// audio and leave alignment and duration to the synthesis manager.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation promptly, since the manager bounds every attempt with a
// deadline.
package tts

import "context"

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders text into a single audio artifact. A nil error
	// guarantees a non-nil Audio with non-empty Data.
	Synthesize(ctx context.Context, text string) (*Audio, error)

	// IsAvailable reports whether the backend is configured and reachable.
	// It must not block past ctx's deadline. Transport errors collapse to
	// false.
	IsAvailable(ctx context.Context) bool
}
