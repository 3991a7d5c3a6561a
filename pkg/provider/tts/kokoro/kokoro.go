// Package kokoro provides a synthesis provider for a self-hosted Kokoro TTS
// server. Kokoro is the preferred backend: it is free to run and returns a
// real phoneme alignment alongside the audio.
//
// The server exposes POST /synthesize taking a JSON body and answering with
// base64 WAV audio plus a timed phoneme list.
package kokoro

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

const (
	defaultVoice   = "af_heart"
	defaultSpeed   = 1.0
	defaultTimeout = 30 * time.Second

	// secondsPerChar approximates speech length when the server returns no
	// phonemes.
	secondsPerChar = 0.06
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Kokoro Provider.
type Option func(*Provider)

// WithVoice selects the Kokoro voice pack.
func WithVoice(v string) Option {
	return func(p *Provider) { p.voice = v }
}

// WithSpeed sets the speaking rate (1.0 = normal).
func WithSpeed(s float64) Option {
	return func(p *Provider) { p.speed = s }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider against a Kokoro server.
type Provider struct {
	serverURL  string
	voice      string
	speed      float64
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		voice:      defaultVoice,
		speed:      defaultSpeed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthesizeRequest struct {
	Text           string  `json:"text"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ReturnPhonemes bool    `json:"return_phonemes"`
}

type synthesizeResponse struct {
	Audio    string        `json:"audio"`
	Phonemes []tts.Phoneme `json:"phonemes"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:           text,
		Voice:          p.voice,
		Speed:          p.speed,
		ReturnPhonemes: true,
	})
	if err != nil {
		return nil, fmt.Errorf("kokoro: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kokoro: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: POST /synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("kokoro: POST /synthesize returned status %d", resp.StatusCode)
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kokoro: decode response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return nil, fmt.Errorf("kokoro: decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("kokoro: empty audio")
	}

	phonemes := validPhonemes(out.Phonemes)
	return &tts.Audio{
		Data:     data,
		Format:   tts.FormatWAV,
		Phonemes: phonemes,
		Duration: duration(phonemes, text),
	}, nil
}

// IsAvailable implements tts.Provider. Any HTTP answer from the server root
// counts as reachable.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// validPhonemes drops entries that violate Start < End and returns nil when
// nothing usable remains.
func validPhonemes(in []tts.Phoneme) []tts.Phoneme {
	var out []tts.Phoneme
	for _, ph := range in {
		if ph.Symbol == "" || ph.End <= ph.Start {
			continue
		}
		out = append(out, ph)
	}
	return out
}

func duration(phonemes []tts.Phoneme, text string) float64 {
	if n := len(phonemes); n > 0 {
		return phonemes[n-1].End
	}
	return float64(len([]rune(text))) * secondsPerChar
}
