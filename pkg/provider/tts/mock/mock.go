// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Available: true,
//	    Audio:     &tts.Audio{Data: []byte("RIFF..."), Format: tts.FormatWAV},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when Err is nil.
	Audio *tts.Audio

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Available is returned by IsAvailable.
	Available bool

	// Gate, if non-nil, makes Synthesize block until a value is received or
	// ctx is done.
	Gate chan struct{}

	// SynthesizeCalls records the text of every Synthesize call.
	SynthesizeCalls []string

	// AvailabilityCalls counts IsAvailable invocations.
	AvailabilityCalls int
}

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, text)
	gate, audio, err := p.Gate, p.Audio, p.Err
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		return &tts.Audio{Data: []byte("mock-audio"), Format: tts.FormatMP3}, nil
	}
	cp := *audio
	return &cp, nil
}

// IsAvailable records the call and returns Available.
func (p *Provider) IsAvailable(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AvailabilityCalls++
	return p.Available
}

// Calls returns a snapshot of the texts passed to Synthesize.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// AvailabilityCount returns how many times IsAvailable ran.
func (p *Provider) AvailabilityCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AvailabilityCalls
}

var _ tts.Provider = (*Provider)(nil)
