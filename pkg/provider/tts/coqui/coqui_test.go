package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// buildTestWAV creates a mono 16-bit PCM WAV holding n samples.
func buildTestWAV(sampleRate, n int) []byte {
	var b []byte
	le32 := func(v int) { b = binary.LittleEndian.AppendUint32(b, uint32(v)) }
	le16 := func(v int) { b = binary.LittleEndian.AppendUint16(b, uint16(v)) }
	b = append(b, "RIFF"...)
	le32(36 + n*2)
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	le32(16)
	le16(1)
	le16(1)
	le32(sampleRate)
	le32(sampleRate * 2)
	le16(2)
	le16(16)
	b = append(b, "data"...)
	le32(n * 2)
	return append(b, make([]byte, n*2)...)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
	}{
		{"defaults", "http://localhost:5002", nil, false},
		{"empty url", "", nil, true},
		{"xtts without speaker", "http://x", []Option{WithAPIMode(APIModeXTTS)}, true},
		{"xtts with speaker", "http://x", []Option{WithAPIMode(APIModeXTTS), WithSpeaker("Ana Florence")}, false},
		{"bad mode", "http://x", []Option{WithAPIMode("grpc")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.url, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.name == "defaults" {
				if p.apiMode != APIModeStandard || p.language != defaultLanguage {
					t.Errorf("defaults = mode %q lang %q", p.apiMode, p.language)
				}
			}
		})
	}
}

func TestSynthesize_StandardAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("text") != "hello" || q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		_, _ = w.Write(buildTestWAV(22050, 22050))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithSpeaker("p225"), WithTimeout(5*time.Second))
	audio, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.Format != "wav" {
		t.Errorf("Format = %q, want wav", audio.Format)
	}
	if math.Abs(audio.Duration-1.0) > 1e-9 {
		t.Errorf("Duration = %v, want 1.0", audio.Duration)
	}
}

func TestSynthesize_XTTSAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		var body xttsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SpeakerWav != "Ana" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(buildTestWAV(24000, 12000))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("Ana"))
	audio, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if math.Abs(audio.Duration-0.5) > 1e-9 {
		t.Errorf("Duration = %v, want 0.5", audio.Duration)
	}
}

func TestSynthesize_InvalidWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not a wav"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("expected error for non-WAV body")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == detailsEndpoint {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	std, _ := New(srv.URL)
	if !std.IsAvailable(context.Background()) {
		t.Error("standard IsAvailable() = false")
	}
	xtts, _ := New(srv.URL, WithAPIMode(APIModeXTTS), WithSpeaker("Ana"))
	if xtts.IsAvailable(context.Background()) {
		t.Error("xtts IsAvailable() = true without /studio_speakers")
	}
}
