package tts

import (
	"encoding/binary"
	"errors"
)

// WAVInfo describes the stream inside a RIFF/WAVE container.
type WAVInfo struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int
	// DataSize is the declared length of the data chunk, clamped to the
	// bytes actually present.
	DataSize int
}

// Duration returns the playback length in seconds, or 0 when the header is
// incomplete.
func (w WAVInfo) Duration() float64 {
	frame := w.Channels * w.BitsPerSample / 8
	if frame <= 0 || w.SampleRate <= 0 {
		return 0
	}
	return float64(w.DataSize) / float64(frame*w.SampleRate)
}

// ParseWAV walks the RIFF chunks of wav and returns the format and data
// chunk location.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("tts: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("tts: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("tts: WAV missing WAVE identifier")
	}

	var info WAVInfo
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				f := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("tts: WAV missing data chunk")
}
