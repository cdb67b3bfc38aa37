// Package protocol implements the client wire format: the binary audio frame
// envelope and the JSON control and result messages.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/realtime-ai/dualvad/pkg/audio"
)

// Frame envelope layout (little-endian):
//
//	[0:4]   magic "VAD1"
//	[4:8]   sequence     uint32
//	[8:12]  sample rate  uint32
//	[12:14] channels     uint16
//	[14:16] sample count uint16
//	[16:]   pcm          int16 * sample count
const (
	HeaderSize = 16
	Magic      = "VAD1"

	ExpectedSampleRate = audio.SampleRate
	ExpectedChannels   = 1
)

var (
	// ErrShortFrame is returned for envelopes shorter than the header.
	ErrShortFrame = errors.New("frame shorter than header")
	// ErrBadMagic is returned when the magic tag does not match.
	ErrBadMagic = errors.New("bad frame magic")
	// ErrFrameMismatch is returned in strict mode when header fields disagree
	// with the payload or with the 16kHz mono format the detectors expect.
	ErrFrameMismatch = errors.New("frame header mismatch")
)

// Frame is one decoded client audio frame.
type Frame struct {
	Sequence    uint32
	SampleRate  uint32
	Channels    uint16
	SampleCount uint16
	PCM         []int16
}

// DecodeOptions controls header validation.
type DecodeOptions struct {
	// Strict rejects frames whose sample rate, channel count or sample count
	// disagree with the payload or with 16kHz mono.
	Strict bool
}

// DecodeFrame parses a binary envelope. Any returned error means the frame
// should be dropped; none of them is fatal to the connection.
func DecodeFrame(data []byte, opts DecodeOptions) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, ErrShortFrame
	}
	if string(data[0:4]) != Magic {
		return Frame{}, ErrBadMagic
	}

	f := Frame{
		Sequence:    binary.LittleEndian.Uint32(data[4:8]),
		SampleRate:  binary.LittleEndian.Uint32(data[8:12]),
		Channels:    binary.LittleEndian.Uint16(data[12:14]),
		SampleCount: binary.LittleEndian.Uint16(data[14:16]),
	}
	payload := data[HeaderSize:]

	if opts.Strict {
		if err := f.validate(len(payload)); err != nil {
			return Frame{}, err
		}
	}

	f.PCM = audio.DecodePCM16LE(payload)
	return f, nil
}

func (f Frame) validate(payloadLen int) error {
	switch {
	case f.SampleRate != ExpectedSampleRate:
		return fmt.Errorf("%w: sample rate %d, want %d", ErrFrameMismatch, f.SampleRate, ExpectedSampleRate)
	case f.Channels != ExpectedChannels:
		return fmt.Errorf("%w: %d channels, want %d", ErrFrameMismatch, f.Channels, ExpectedChannels)
	case payloadLen%2 != 0:
		return fmt.Errorf("%w: odd payload length %d", ErrFrameMismatch, payloadLen)
	case payloadLen/2 != int(f.SampleCount):
		return fmt.Errorf("%w: header declares %d samples, payload carries %d", ErrFrameMismatch, f.SampleCount, payloadLen/2)
	}
	return nil
}

// EncodeFrame builds the binary envelope for f. SampleCount is written as
// given; callers building well-formed frames should set it to len(PCM).
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(f.PCM)*2)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], f.Sequence)
	binary.LittleEndian.PutUint32(buf[8:12], f.SampleRate)
	binary.LittleEndian.PutUint16(buf[12:14], f.Channels)
	binary.LittleEndian.PutUint16(buf[14:16], f.SampleCount)
	return append(buf, audio.EncodePCM16LE(f.PCM)...)
}

// NewFrame returns a well-formed 16kHz mono frame carrying pcm.
func NewFrame(seq uint32, pcm []int16) Frame {
	return Frame{
		Sequence:    seq,
		SampleRate:  ExpectedSampleRate,
		Channels:    ExpectedChannels,
		SampleCount: uint16(len(pcm)),
		PCM:         pcm,
	}
}
