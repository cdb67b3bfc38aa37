//go:build vad

package vad

import (
	"errors"
	"fmt"
	"strings"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroSegmenterConfig configures a SileroSegmenter.
type SileroSegmenterConfig struct {
	ModelPath    string
	SampleRate   int
	Threshold    float32
	MinSilenceMs int
	SpeechPadMs  int
}

// SileroSegmenter reports speech regions using the iterator built into
// silero-vad-go. Every cache owns its own speech.Detector, so the model's
// triggering state stays with the stream.
type SileroSegmenter struct {
	cfg SileroSegmenterConfig
}

// NewSileroSegmenter checks cfg and fills in defaults.
func NewSileroSegmenter(cfg SileroSegmenterConfig) (*SileroSegmenter, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilenceMs == 0 {
		cfg.MinSilenceMs = 100
	}
	if cfg.SpeechPadMs == 0 {
		cfg.SpeechPadMs = 30
	}
	return &SileroSegmenter{cfg: cfg}, nil
}

type sileroCache struct {
	detector *speech.Detector
	// samples fed so far, used to place an offset the library reports
	// without a timestamp.
	position int64
}

func (c *sileroCache) Close() error {
	if c.detector == nil {
		return nil
	}
	err := c.detector.Destroy()
	c.detector = nil
	return err
}

func (s *SileroSegmenter) NewCache() (SegmentCache, error) {
	d, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            s.cfg.ModelPath,
		SampleRate:           s.cfg.SampleRate,
		Threshold:            s.cfg.Threshold,
		MinSilenceDurationMs: s.cfg.MinSilenceMs,
		SpeechPadMs:          s.cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create silero segment detector: %w", err)
	}
	return &sileroCache{detector: d}, nil
}

// DetectChunk feeds one chunk to the cache's detector. isFinal is accepted for
// interface parity; the library has no flush step.
func (s *SileroSegmenter) DetectChunk(chunk []float32, cache SegmentCache, isFinal bool, chunkMs int) ([]Boundary, error) {
	c, ok := cache.(*sileroCache)
	if !ok || c.detector == nil {
		return nil, errors.New("silero segmenter: invalid cache")
	}

	c.position += int64(len(chunk))
	chunkEndMs := c.position * 1000 / int64(s.cfg.SampleRate)

	segments, err := c.detector.Detect(chunk)
	if err != nil {
		// The detector closes a region opened by an earlier call with this
		// error; its own state is already back to silence.
		if strings.Contains(err.Error(), "unexpected speech end") {
			return []Boundary{{Start: NoBoundary, End: chunkEndMs}}, nil
		}
		return nil, fmt.Errorf("silero segment detection failed: %w", err)
	}

	var out []Boundary
	for _, seg := range segments {
		out = append(out, Boundary{Start: secondsToMs(seg.SpeechStartAt), End: NoBoundary})
		if seg.SpeechEndAt > 0 {
			out = append(out, Boundary{Start: NoBoundary, End: secondsToMs(seg.SpeechEndAt)})
		}
	}
	return out, nil
}

func secondsToMs(s float64) int64 {
	return int64(s * 1000)
}

var _ SegmentModel = (*SileroSegmenter)(nil)
