package synth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

func TestCache_PutGet(t *testing.T) {
	c, err := NewCache(t.TempDir(), "/audio")
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	digest := Digest("hello")

	if _, ok := c.Get(digest, "hello"); ok {
		t.Fatal("Get on empty cache reported a hit")
	}
	put, err := c.Put(digest, "hello", "kokoro", &tts.Audio{Data: []byte("abc"), Format: tts.FormatMP3})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if put.AudioURL != "/audio/"+digest+".mp3" {
		t.Errorf("AudioURL = %q", put.AudioURL)
	}

	got, ok := c.Get(digest, "hello")
	if !ok {
		t.Fatal("Get after Put missed")
	}
	if got.AudioURL != put.AudioURL || got.Provider != "kokoro" || got.Duration != put.Duration {
		t.Errorf("Get = %+v, want %+v", got, put)
	}
	if len(got.Phonemes) != len(put.Phonemes) {
		t.Errorf("phonemes = %d, want %d", len(got.Phonemes), len(put.Phonemes))
	}
}

func TestCache_PutRejectsEmptyAudio(t *testing.T) {
	c, _ := NewCache(t.TempDir(), "/audio/")
	if _, err := c.Put(Digest("x"), "x", "p", &tts.Audio{}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestCache_LegacyEntryWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCache(dir, "/audio/")
	digest := Digest("old entry")
	if err := os.WriteFile(filepath.Join(dir, digest+".mp3"), make([]byte, 4000), 0o644); err != nil {
		t.Fatal(err)
	}

	res, ok := c.Get(digest, "old entry")
	if !ok {
		t.Fatal("legacy entry not served")
	}
	if res.Duration != 1 {
		t.Errorf("duration = %v, want 1", res.Duration)
	}
	if len(res.Phonemes) == 0 {
		t.Error("legacy entry should get heuristic phonemes")
	}
}

func TestCache_SidecarWithoutAudioIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCache(dir, "/audio/")
	digest := Digest("gone")
	if _, err := c.Put(digest, "gone", "p", &tts.Audio{Data: []byte("abc"), Format: tts.FormatMP3}); err != nil {
		t.Fatal(err)
	}
	os.Remove(filepath.Join(dir, digest+".mp3"))

	if _, ok := c.Get(digest, "gone"); ok {
		t.Fatal("Get hit although audio file is gone")
	}
}

func TestCache_Prune(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewCache(dir, "/audio/")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ages := map[string]time.Duration{"a": time.Hour, "b": 2 * time.Hour, "c": 3 * time.Hour, "d": 30 * 24 * time.Hour}
	for text, age := range ages {
		d := Digest(text)
		if _, err := c.Put(d, text, "p", &tts.Audio{Data: []byte("abc"), Format: tts.FormatMP3}); err != nil {
			t.Fatal(err)
		}
		at := now.Add(-age)
		for _, name := range []string{d + ".mp3", d + ".json"} {
			if err := os.Chtimes(filepath.Join(dir, name), at, at); err != nil {
				t.Fatal(err)
			}
		}
	}

	removed, err := c.Prune(7*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for text, want := range map[string]bool{"a": true, "b": true, "c": false, "d": false} {
		if _, ok := c.Get(Digest(text), text); ok != want {
			t.Errorf("entry %q present = %v, want %v", text, ok, want)
		}
	}
}

func TestCache_Writable(t *testing.T) {
	c, _ := NewCache(t.TempDir(), "/audio/")
	if err := c.Writable(); err != nil {
		t.Fatalf("Writable: %v", err)
	}
}
