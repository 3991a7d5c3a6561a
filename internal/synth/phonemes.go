package synth

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"

	"github.com/MrWong99/noxcast/pkg/provider/tts"
)

const (
	// leadIn is where the first estimated phoneme starts.
	leadIn = 0.05

	// mp3BytesPerSecond approximates a 32 kbps MP3 stream.
	mp3BytesPerSecond = 4000

	// minEstimatedDuration is the floor for size-based estimates.
	minEstimatedDuration = 0.5

	// secondsPerRune approximates speech length from text alone.
	secondsPerRune = 0.06
)

var (
	vowelPool     = []string{"AA", "AE", "AH", "AO", "AW", "AY", "EH", "EY", "IH", "IY", "OW", "OY", "UH", "UW"}
	consonantPool = []string{"B", "CH", "D", "DH", "F", "G", "HH", "JH", "K", "L", "M", "N", "NG", "P", "R", "S", "SH", "T", "TH", "V", "W", "Y", "Z", "ZH"}
)

// Normalize trims text and collapses internal whitespace runs to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Digest returns the content address of text: hex BLAKE3-256 of its
// normalized form. It does not depend on which provider rendered the audio.
func Digest(text string) string {
	sum := blake3.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// EstimatePhonemes builds a plausible lip-sync track for text spread over
// duration seconds. Every character gets an equal time slot, words are
// separated by half a slot of silence, and each letter maps to a fixed vowel
// or consonant code so the same text always yields the same track.
//
// The result is nil when text is empty or duration is not positive. Entries
// are ordered, satisfy Start < End, and never run past duration.
func EstimatePhonemes(text string, duration float64) []tts.Phoneme {
	text = Normalize(text)
	n := len([]rune(text))
	if n == 0 || duration <= 0 {
		return nil
	}

	slot := duration / float64(n)
	t := leadIn
	var out []tts.Phoneme
	for _, word := range strings.Fields(text) {
		for _, r := range word {
			if t >= duration {
				return out
			}
			end := min(t+slot, duration)
			if sym := symbolFor(r); sym != "" && end > t {
				out = append(out, tts.Phoneme{Symbol: sym, Start: t, End: end})
			}
			t += slot
		}
		t += slot * 0.5
	}
	return out
}

func symbolFor(r rune) string {
	r = unicode.ToLower(r)
	switch {
	case strings.ContainsRune("aeiou", r):
		return vowelPool[int(r)%len(vowelPool)]
	case unicode.IsLetter(r) || unicode.IsDigit(r):
		return consonantPool[int(r)%len(consonantPool)]
	default:
		return ""
	}
}

// EstimateDuration returns the playback length of an artifact in seconds.
// WAV headers give an exact value. Otherwise the byte count is read as a
// 32 kbps stream, and with no artifact at all the text length decides.
func EstimateDuration(data []byte, format, text string) float64 {
	if format == tts.FormatWAV {
		if info, err := tts.ParseWAV(data); err == nil {
			if d := info.Duration(); d > 0 {
				return d
			}
		}
	}
	if len(data) > 0 {
		return max(minEstimatedDuration, float64(len(data))/mp3BytesPerSecond)
	}
	return float64(len([]rune(Normalize(text)))) * secondsPerRune
}
