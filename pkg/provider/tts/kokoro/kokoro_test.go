package kokoro

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

func newKokoroServer(t *testing.T, phonemes []tts.Phoneme) (*httptest.Server, *synthesizeRequest) {
	t.Helper()
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusNotFound)
		case "/synthesize":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(synthesizeResponse{
				Audio:    base64.StdEncoding.EncodeToString([]byte("RIFFfakewav")),
				Phonemes: phonemes,
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSynthesize_WithPhonemes(t *testing.T) {
	srv, got := newKokoroServer(t, []tts.Phoneme{
		{Symbol: "HH", Start: 0.05, End: 0.12},
		{Symbol: "AY", Start: 0.12, End: 0.31},
		{Symbol: "X", Start: 0.4, End: 0.4}, // zero-length, dropped
	})

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got.Voice != "af_heart" || !got.ReturnPhonemes || got.Speed != 1.0 {
		t.Errorf("request = %+v", *got)
	}
	if string(audio.Data) != "RIFFfakewav" {
		t.Errorf("Data = %q", audio.Data)
	}
	if audio.Format != tts.FormatWAV {
		t.Errorf("Format = %q, want wav", audio.Format)
	}
	if len(audio.Phonemes) != 2 {
		t.Fatalf("len(Phonemes) = %d, want 2", len(audio.Phonemes))
	}
	if audio.Duration != 0.31 {
		t.Errorf("Duration = %v, want last phoneme end 0.31", audio.Duration)
	}
}

func TestSynthesize_NoPhonemesEstimatesDuration(t *testing.T) {
	srv, _ := newKokoroServer(t, nil)
	p, _ := New(srv.URL, WithVoice("am_adam"))

	audio, err := p.Synthesize(context.Background(), "0123456789")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.Phonemes != nil {
		t.Errorf("Phonemes = %v, want nil", audio.Phonemes)
	}
	if math.Abs(audio.Duration-0.6) > 1e-9 {
		t.Errorf("Duration = %v, want 0.6", audio.Duration)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestIsAvailable(t *testing.T) {
	srv, _ := newKokoroServer(t, nil)
	p, _ := New(srv.URL)
	if !p.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = false for reachable server")
	}

	down, _ := New("http://127.0.0.1:1")
	if down.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = true for unreachable server")
	}
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
