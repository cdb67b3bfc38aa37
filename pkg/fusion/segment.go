package fusion

import (
	"fmt"

	"github.com/realtime-ai/dualvad/pkg/audio"
	"github.com/realtime-ai/dualvad/pkg/vad"
)

// DefaultChunkMs is the chunk duration the segment model expects.
const DefaultChunkMs = 200

// SegmentAdapter feeds a chunk-oriented segment model. Incoming samples are
// queued and handed to the model one whole chunk at a time, oldest first; a
// partial chunk waits for the next frame.
//
// The model's own hysteresis already smooths its output, so the instant and
// confirmed decisions are the same in-speech flag and no events are emitted.
type SegmentAdapter struct {
	model   vad.SegmentModel
	chunkMs int
	buf     *audio.ChunkBuffer

	// cache is created on the first chunk and dropped by Reset.
	cache    vad.SegmentCache
	inSpeech bool
	chunks   int64
}

// NewSegmentAdapter wraps model with chunks of chunkMs milliseconds
// (DefaultChunkMs when chunkMs is not positive).
func NewSegmentAdapter(model vad.SegmentModel, chunkMs int) *SegmentAdapter {
	if chunkMs <= 0 {
		chunkMs = DefaultChunkMs
	}
	return &SegmentAdapter{
		model:   model,
		chunkMs: chunkMs,
		buf:     audio.NewChunkBuffer(audio.MsToSamples(chunkMs)),
	}
}

func (a *SegmentAdapter) Process(samples []float32) (DetectorResult, error) {
	a.buf.Write(samples)

	for a.buf.Ready() {
		chunk := a.buf.Next()

		if a.cache == nil {
			cache, err := a.model.NewCache()
			if err != nil {
				return DetectorResult{}, fmt.Errorf("segment model cache: %w", err)
			}
			a.cache = cache
		}

		boundaries, err := a.model.DetectChunk(chunk, a.cache, false, a.chunkMs)
		a.chunks++
		if err != nil {
			return DetectorResult{}, fmt.Errorf("segment model: %w", err)
		}

		for _, b := range boundaries {
			switch {
			case b.Start != vad.NoBoundary && b.End == vad.NoBoundary:
				a.inSpeech = true
			case b.Start == vad.NoBoundary && b.End != vad.NoBoundary:
				a.inSpeech = false
			}
		}
	}

	prob := float32(0)
	if a.inSpeech {
		prob = 1
	}
	return DetectorResult{
		Probability:       prob,
		IsSpeechInstant:   a.inSpeech,
		IsSpeechConfirmed: a.inSpeech,
	}, nil
}

// UpdateConfig is a no-op: the segment model has no tunable parameters.
func (a *SegmentAdapter) UpdateConfig(ConfigUpdate) {}

// Reset drops the cache and any queued samples and leaves speech.
func (a *SegmentAdapter) Reset() error {
	var err error
	if a.cache != nil {
		err = a.cache.Close()
		a.cache = nil
	}
	a.buf.Clear()
	a.inSpeech = false
	if err != nil {
		return fmt.Errorf("segment cache close: %w", err)
	}
	return nil
}

// Close releases the cache.
func (a *SegmentAdapter) Close() error {
	return a.Reset()
}

// Chunks returns the number of model evaluations so far, including failed ones.
func (a *SegmentAdapter) Chunks() int64 { return a.chunks }

// Buffered returns the number of samples waiting for a full chunk.
func (a *SegmentAdapter) Buffered() int { return a.buf.Len() }

func (a *SegmentAdapter) InSpeech() bool { return a.inSpeech }
