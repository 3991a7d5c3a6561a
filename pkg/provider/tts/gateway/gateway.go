// Package gateway provides the always-on fallback synthesis provider. It
// invokes the "tts" tool on the agent gateway, which renders audio to a
// temporary file on the shared host and answers with its path.
//
// The gateway deletes its temp files on its own schedule, so the provider
// reads the artifact immediately and hands the bytes to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

const defaultTimeout = 15 * time.Second

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a gateway Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

// WithReadFile overrides how the returned audio path is read. Tests use it to
// avoid touching the filesystem.
func WithReadFile(fn func(path string) ([]byte, error)) Option {
	return func(p *Provider) { p.readFile = fn }
}

// Provider implements tts.Provider on top of the gateway tool endpoint.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
	readFile   func(string) ([]byte, error)
}

// New creates a Provider for the gateway at baseURL. token may be empty when
// the gateway runs without auth.
func New(baseURL, token string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		readFile:   os.ReadFile,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type invokeRequest struct {
	Tool string     `json:"tool"`
	Args invokeArgs `json:"args"`
}

type invokeArgs struct {
	Text string `json:"text"`
}

type invokeResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result struct {
		Details struct {
			AudioPath string `json:"audioPath"`
		} `json:"details"`
	} `json:"result"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	path, err := p.invoke(ctx, text)
	if err != nil {
		return nil, err
	}
	data, err := p.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("gateway: read artifact %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("gateway: artifact %s is empty", path)
	}
	return &tts.Audio{Data: data, Format: formatFromPath(path)}, nil
}

// IsAvailable implements tts.Provider by running one throwaway synthesis.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	path, err := p.invoke(ctx, "test")
	return err == nil && path != ""
}

func (p *Provider) invoke(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(invokeRequest{Tool: "tts", Args: invokeArgs{Text: text}})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tools/invoke", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: POST /tools/invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("gateway: POST /tools/invoke returned status %d", resp.StatusCode)
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway: decode response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("gateway: tool failed: %s", out.Error)
	}
	path := out.Result.Details.AudioPath
	if path == "" {
		return "", errors.New("gateway: response has no audioPath")
	}
	return path, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case tts.FormatWAV:
		return tts.FormatWAV
	default:
		return tts.FormatMP3
	}
}
