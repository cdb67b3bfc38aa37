package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(i*37 - 9000)
	}
	return pcm
}

func TestDecodeFrame_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 128, 512, 3200} {
		for _, strict := range []bool{true, false} {
			in := NewFrame(uint32(n)+7, pcmOf(n))

			out, err := DecodeFrame(EncodeFrame(in), DecodeOptions{Strict: strict})
			require.NoError(t, err)

			assert.Equal(t, in.Sequence, out.Sequence)
			assert.Equal(t, uint32(16000), out.SampleRate)
			assert.Equal(t, uint16(1), out.Channels)
			assert.Equal(t, uint16(n), out.SampleCount)
			assert.Len(t, out.PCM, n)
			if n > 0 {
				assert.Equal(t, in.PCM, out.PCM)
			}
		}
	}
}

func TestDecodeFrame_SampleCountFollowsPayload(t *testing.T) {
	// Permissive mode takes (len-16)/2 samples regardless of the header.
	f := NewFrame(3, pcmOf(100))
	f.SampleCount = 512
	data := EncodeFrame(f)

	out, err := DecodeFrame(data, DecodeOptions{})
	require.NoError(t, err)
	assert.Len(t, out.PCM, (len(data)-HeaderSize)/2)
	assert.Equal(t, uint16(512), out.SampleCount)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	valid := EncodeFrame(NewFrame(1, pcmOf(8)))

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "VAD2")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortFrame},
		{"15 bytes", valid[:15], ErrShortFrame},
		{"bad magic", badMagic, ErrBadMagic},
	}

	for _, tt := range tests {
		for _, strict := range []bool{true, false} {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeFrame(tt.data, DecodeOptions{Strict: strict})
				assert.ErrorIs(t, err, tt.want)
			})
		}
	}
}

func TestDecodeFrame_StrictMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Frame)
		data   func(b []byte) []byte
	}{
		{
			name:   "sample rate",
			mutate: func(f *Frame) { f.SampleRate = 48000 },
		},
		{
			name:   "stereo",
			mutate: func(f *Frame) { f.Channels = 2 },
		},
		{
			name:   "declared count larger than payload",
			mutate: func(f *Frame) { f.SampleCount = 9 },
		},
		{
			name: "odd payload",
			data: func(b []byte) []byte { return append(b, 0x01) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFrame(5, pcmOf(8))
			if tt.mutate != nil {
				tt.mutate(&f)
			}
			data := EncodeFrame(f)
			if tt.data != nil {
				data = tt.data(data)
			}

			_, err := DecodeFrame(data, DecodeOptions{Strict: true})
			assert.ErrorIs(t, err, ErrFrameMismatch)

			// Permissive mode tolerates the same frame.
			_, err = DecodeFrame(data, DecodeOptions{Strict: false})
			assert.NoError(t, err)
		})
	}
}

func TestDecodeFrame_HeaderOnly(t *testing.T) {
	data := make([]byte, HeaderSize)
	copy(data, Magic)
	binary.LittleEndian.PutUint32(data[4:], 1)
	binary.LittleEndian.PutUint32(data[8:], 16000)
	binary.LittleEndian.PutUint16(data[12:], 1)
	binary.LittleEndian.PutUint16(data[14:], 0)

	f, err := DecodeFrame(data, DecodeOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f.Sequence)
	assert.Empty(t, f.PCM)
}
