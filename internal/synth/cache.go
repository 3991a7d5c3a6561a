package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

const sidecarExt = ".json"

// Cache is the content-addressed artifact store. Each entry is an audio file
// named <digest>.<format> plus a <digest>.json sidecar carrying the phoneme
// track and duration. Entries written before sidecars existed are still
// served, with estimated alignment.
//
// Cache is safe for concurrent use: writes go through a temp file and an
// atomic rename, so readers never observe a partial artifact.
type Cache struct {
	dir    string
	prefix string
	now    func() time.Time
}

type entryMeta struct {
	Format    string        `json:"format"`
	Phonemes  []tts.Phoneme `json:"phonemes"`
	Duration  float64       `json:"duration"`
	Provider  string        `json:"provider"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewCache opens (creating if needed) the cache directory. urlPrefix is
// prepended to artifact file names to form public URLs, e.g. "/audio/".
func NewCache(dir, urlPrefix string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("synth: cache dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("synth: create cache dir: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Cache{dir: dir, prefix: urlPrefix, now: time.Now}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// URLPrefix returns the public URL prefix, always ending in "/".
func (c *Cache) URLPrefix() string { return c.prefix }

// Get returns the cached result for digest. text is only used to estimate a
// phoneme track for legacy entries.
func (c *Cache) Get(digest, text string) (Result, bool) {
	meta, err := c.readMeta(digest)
	if err == nil {
		file := digest + "." + meta.Format
		if _, err := os.Stat(filepath.Join(c.dir, file)); err != nil {
			return Result{}, false
		}
		return c.result(file, meta.Phonemes, meta.Duration, meta.Provider, true), true
	}

	for _, format := range []string{tts.FormatMP3, tts.FormatWAV} {
		file := digest + "." + format
		data, err := os.ReadFile(filepath.Join(c.dir, file))
		if err != nil || len(data) == 0 {
			continue
		}
		d := EstimateDuration(data, format, text)
		return c.result(file, EstimatePhonemes(text, d), d, "", true), true
	}
	return Result{}, false
}

// Put stores audio under digest and returns the public result. Missing
// duration or phonemes are estimated before writing so later hits carry the
// same values.
func (c *Cache) Put(digest, text, provider string, audio *tts.Audio) (Result, error) {
	if audio == nil || len(audio.Data) == 0 {
		return Result{}, errors.New("synth: refusing to cache empty audio")
	}
	format := audio.Format
	if format == "" {
		format = tts.FormatMP3
	}

	duration := audio.Duration
	if duration <= 0 {
		duration = EstimateDuration(audio.Data, format, text)
	}
	phonemes := audio.Phonemes
	if len(phonemes) == 0 {
		phonemes = EstimatePhonemes(text, duration)
	}

	file := digest + "." + format
	if err := c.writeAtomic(file, audio.Data); err != nil {
		return Result{}, err
	}
	meta, err := json.Marshal(entryMeta{
		Format:    format,
		Phonemes:  phonemes,
		Duration:  duration,
		Provider:  provider,
		CreatedAt: c.now().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("synth: encode sidecar: %w", err)
	}
	if err := c.writeAtomic(digest+sidecarExt, meta); err != nil {
		return Result{}, err
	}
	return c.result(file, phonemes, duration, provider, false), nil
}

// Prune removes entries older than maxAge (0 disables) and then the oldest
// entries beyond maxEntries (0 disables). It returns how many entries were
// removed.
func (c *Cache) Prune(maxAge time.Duration, maxEntries int) (int, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("synth: list cache dir: %w", err)
	}

	type entry struct {
		digest string
		files  []string
		newest time.Time
	}
	byDigest := map[string]*entry{}
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		digest := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
		e := byDigest[digest]
		if e == nil {
			e = &entry{digest: digest}
			byDigest[digest] = e
		}
		e.files = append(e.files, f.Name())
		if info.ModTime().After(e.newest) {
			e.newest = info.ModTime()
		}
	}

	entries := make([]*entry, 0, len(byDigest))
	for _, e := range byDigest {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int { return b.newest.Compare(a.newest) })

	now := c.now()
	var removed int
	var errs []error
	for i, e := range entries {
		expired := maxAge > 0 && now.Sub(e.newest) > maxAge
		overflow := maxEntries > 0 && i >= maxEntries
		if !expired && !overflow {
			continue
		}
		for _, name := range e.files {
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Writable reports whether new artifacts can be stored.
func (c *Cache) Writable() error {
	f, err := os.CreateTemp(c.dir, ".writecheck-*")
	if err != nil {
		return fmt.Errorf("synth: cache dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (c *Cache) readMeta(digest string) (entryMeta, error) {
	raw, err := os.ReadFile(filepath.Join(c.dir, digest+sidecarExt))
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, err
	}
	if meta.Format == "" {
		return entryMeta{}, errors.New("sidecar without format")
	}
	return meta, nil
}

func (c *Cache) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("synth: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("synth: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("synth: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return fmt.Errorf("synth: commit %s: %w", name, err)
	}
	return nil
}

func (c *Cache) result(file string, phonemes []tts.Phoneme, duration float64, provider string, cached bool) Result {
	if phonemes == nil {
		phonemes = []tts.Phoneme{}
	}
	return Result{
		AudioURL:  c.prefix + file,
		AudioPath: filepath.Join(c.dir, file),
		Phonemes:  phonemes,
		Duration:  duration,
		Provider:  provider,
		Cached:    cached,
	}
}

// RunPrune calls [Cache.Prune] every interval until ctx is done.
func (c *Cache) RunPrune(ctx context.Context, interval, maxAge time.Duration, maxEntries int) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.Prune(maxAge, maxEntries)
			if err != nil {
				slog.Warn("synthesis cache prune incomplete", "removed", n, "err", err)
			} else if n > 0 {
				slog.Info("synthesis cache pruned", "removed", n)
			}
		}
	}
}
