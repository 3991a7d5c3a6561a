package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/noxcast/internal/app"
	"github.com/MrWong99/noxcast/internal/config"
	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/provider/llm"
	llmmock "github.com/MrWong99/noxcast/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/noxcast/pkg/provider/tts/mock"
)

// testConfig returns a config rooted in a temp cache dir with narration off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Synthesis.CacheDir = t.TempDir()
	cfg.Providers = config.ProvidersConfig{}
	cfg.Narration.Disabled = true
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type harness struct {
	app *app.App
	url string
}

func newHarness(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *harness {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return &harness{app: a, url: ts.URL}
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.url, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

type frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// readUntil reads frames until one of kind arrives, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v", kind, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if f.Type == kind {
			return f
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_HealthAndReadiness(t *testing.T) {
	h := newHarness(t, testConfig(t), &app.Providers{
		TTS: []app.NamedTTS{{Name: "kokoro", Provider: &ttsmock.Provider{Available: true}}},
	})

	if code, _ := get(t, h.url+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	code, body := get(t, h.url+"/readyz")
	if code != http.StatusOK {
		t.Errorf("/readyz = %d (%s), want 200", code, body)
	}
	if code, _ := get(t, h.url+"/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", code)
	}
}

func TestApp_NotReadyWithoutSynthesis(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	code, body := get(t, h.url+"/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503", code)
	}
	if !strings.Contains(body, "synthesis") {
		t.Errorf("body %s does not name the failing check", body)
	}
}

func TestApp_SpeakingReachesClientsWithAudio(t *testing.T) {
	h := newHarness(t, testConfig(t), &app.Providers{
		TTS: []app.NamedTTS{{Name: "kokoro", Provider: &ttsmock.Provider{Available: true}}},
	})

	client := h.dial(t, "/ws/stream")
	readUntil(t, client, "connected")
	waitFor(t, "client registration", func() bool { return h.app.Hub().Len() == 1 })

	agent := h.dial(t, "/ws/agent")
	readUntil(t, agent, "connected")
	write(t, agent, `{"type":"speaking","ts":1718000000000,"payload":{"text":"Shipping the build now."}}`)

	got := readUntil(t, client, "speaking")
	url, _ := got.Payload["audioUrl"].(string)
	if !strings.HasPrefix(url, "/audio/") || !strings.HasSuffix(url, ".mp3") {
		t.Fatalf("audioUrl = %q", url)
	}
	if _, ok := got.Payload["phonemes"].([]any); !ok {
		t.Errorf("phonemes missing: %+v", got.Payload)
	}

	code, body := get(t, h.url+url)
	if code != http.StatusOK || body != "mock-audio" {
		t.Errorf("GET %s = %d %q", url, code, body)
	}
}

func TestApp_AudioRouteRejectsSidecars(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.Synthesis.CacheDir, "abc.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, cfg, nil)

	for _, path := range []string{"/audio/abc.json", "/audio/", "/audio/missing.mp3"} {
		if code, _ := get(t, h.url+path); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestApp_PublicDirFallsBackToIndex(t *testing.T) {
	cfg := testConfig(t)
	pub := t.TempDir()
	if err := os.WriteFile(filepath.Join(pub, "index.html"), []byte("<html>nox</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Server.PublicDir = pub
	h := newHarness(t, cfg, nil)

	for _, path := range []string{"/", "/overlay"} {
		if code, body := get(t, h.url+path); code != http.StatusOK || !strings.Contains(body, "nox") {
			t.Errorf("GET %s = %d %q", path, code, body)
		}
	}
	if code, _ := get(t, h.url+"/missing.js"); code != http.StatusNotFound {
		t.Errorf("GET /missing.js = %d, want 404", code)
	}
}

func TestApp_ChatRoundTrip(t *testing.T) {
	backend := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hey ann, welcome in!"}}
	h := newHarness(t, testConfig(t), &app.Providers{
		TTS: []app.NamedTTS{{Name: "kokoro", Provider: &ttsmock.Provider{Available: true}}},
		LLM: []app.NamedLLM{{Name: "openai", Provider: backend}},
	})

	agent := h.dial(t, "/ws/agent")
	readUntil(t, agent, "connected")
	client := h.dial(t, "/ws/stream")
	readUntil(t, client, "connected")
	waitFor(t, "client registration", func() bool { return h.app.Hub().Len() == 1 })

	write(t, client, `{"type":"chat_message","payload":{"username":"ann","text":"hi <b>nox</b>"}}`)

	msg := readUntil(t, client, "chat_message")
	if msg.Payload["username"] != "ann" || msg.Payload["text"] != "hi &lt;b&gt;nox&lt;/b&gt;" {
		t.Fatalf("chat_message = %+v", msg.Payload)
	}
	reply := readUntil(t, client, "chat_response")
	if reply.Payload["text"] != "Hey ann, welcome in!" {
		t.Errorf("chat_response = %+v", reply.Payload)
	}
	spoken := readUntil(t, client, "narrate")
	if spoken.Payload["source"] != "chat" || spoken.Payload["audioUrl"] == "" {
		t.Errorf("narrate = %+v", spoken.Payload)
	}

	fwd := readUntil(t, agent, "chat_message")
	if fwd.Payload["username"] != "ann" {
		t.Errorf("forwarded = %+v", fwd.Payload)
	}
	if n := len(backend.Calls()); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	var level slog.LevelVar
	h := newHarness(t, cfg, nil, app.WithLevelVar(&level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Chat.MaxLength = 5
	h.app.ApplyConfig(cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	client := h.dial(t, "/ws/stream")
	readUntil(t, client, "connected")
	write(t, client, `{"type":"chat_message","payload":{"username":"ann","text":"far too long"}}`)
	got := readUntil(t, client, "error")
	if got.Payload["code"] != "too_long" {
		t.Errorf("error = %+v, want too_long", got.Payload)
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	waitFor(t, "server up", func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
