package tts

// Audio formats produced by the bundled providers. The value doubles as the
// cache file extension.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Phoneme is one timed unit of the lip-sync track.
type Phoneme struct {
	// Symbol is an ARPAbet-style phoneme code, e.g. "AH" or "K".
	Symbol string `json:"phoneme"`

	// Start and End are offsets in seconds from the start of the audio.
	// Start < End holds for every entry.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Audio is a finished synthesis artifact.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Format is the container format, see [FormatWAV] and [FormatMP3].
	Format string

	// Phonemes is the alignment track when the backend produced one.
	Phonemes []Phoneme

	// Duration in seconds when the backend reported it. Zero means unknown.
	Duration float64
}
