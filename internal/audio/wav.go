package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// SamplesForDuration returns how many samples ms milliseconds hold at sampleRate Hz.
func SamplesForDuration(ms, sampleRate int) int {
	return ms * sampleRate / 1000
}

// Duration returns the playback length of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// ToPCM16 converts float32 samples in [-1, 1] to little-endian signed 16-bit
// PCM. Out-of-range samples are clipped.
func ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// EncodeWAV wraps float32 samples into a mono 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	var buf bytes.Buffer

	const channels = 1
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	const blockAlign = channels * bitsPerSample / 8

	pcm := ToPCM16(samples)
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	// WAV header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))            // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))             // PCM format
	binary.Write(&buf, binary.LittleEndian, uint16(channels))      // number of channels
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))    // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))      // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))    // block align
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample)) // bits per sample

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes()
}
