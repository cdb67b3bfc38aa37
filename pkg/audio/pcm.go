package audio

import "encoding/binary"

// The detectors only run at 16kHz mono, so millisecond settings convert to
// sample counts at a fixed rate.
const (
	SampleRate   = 16000
	SamplesPerMs = SampleRate / 1000
)

// int16Scale maps int16 PCM onto [-1, 1).
const int16Scale = 32768.0

// DecodePCM16LE interprets data as little-endian signed 16-bit samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Normalize converts int16 PCM to float32 samples by dividing by 32768.
func Normalize(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / int16Scale
	}
	return out
}

// MsToSamples converts a duration in milliseconds to a sample count at 16kHz.
func MsToSamples(ms int) int {
	return ms * SamplesPerMs
}
