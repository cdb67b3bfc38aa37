package vad

import (
	"errors"
	"math"
)

// rms returns the root mean square of normalized samples.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// EnergyModel is a pure-Go ProbabilityModel. It maps the RMS level of each
// window, in dBFS, through a logistic curve centred on MidpointDB.
type EnergyModel struct {
	MidpointDB float64
	SlopeDB    float64
}

// NewEnergyModel returns an EnergyModel tuned for close-talk 16kHz speech.
func NewEnergyModel() *EnergyModel {
	return &EnergyModel{MidpointDB: -35, SlopeDB: 3}
}

func (m *EnergyModel) Infer(samples []float32) (float32, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	db := 20 * math.Log10(rms(samples)+1e-10)
	return float32(1 / (1 + math.Exp(-(db-m.MidpointDB)/m.SlopeDB))), nil
}

// Reset is a no-op; the model is stateless.
func (m *EnergyModel) Reset() error { return nil }

func (m *EnergyModel) Destroy() error { return nil }

// EnergySegmenterConfig configures an EnergySegmenter.
type EnergySegmenterConfig struct {
	SampleRate int
	// WindowMs is the analysis window inside a chunk.
	WindowMs int
	// SpeechRMS starts speech, SilenceRMS ends it.
	SpeechRMS  float64
	SilenceRMS float64
	// SpeechWindows consecutive loud windows open a region, SilenceWindows
	// consecutive quiet windows close it.
	SpeechWindows  int
	SilenceWindows int
}

// DefaultEnergySegmenterConfig returns settings for 16kHz audio in 20ms windows.
func DefaultEnergySegmenterConfig() EnergySegmenterConfig {
	return EnergySegmenterConfig{
		SampleRate:     16000,
		WindowMs:       20,
		SpeechRMS:      0.015,
		SilenceRMS:     0.008,
		SpeechWindows:  3,  // 60ms to start
		SilenceWindows: 30, // 600ms to end
	}
}

// EnergySegmenter is a pure-Go SegmentModel using RMS hysteresis. All state
// lives in the cache.
type EnergySegmenter struct {
	cfg EnergySegmenterConfig
}

// NewEnergySegmenter validates cfg.
func NewEnergySegmenter(cfg EnergySegmenterConfig) (*EnergySegmenter, error) {
	if cfg.SampleRate <= 0 || cfg.WindowMs <= 0 {
		return nil, errors.New("sample rate and window must be positive")
	}
	if cfg.SilenceRMS > cfg.SpeechRMS {
		return nil, errors.New("silence level must not exceed speech level")
	}
	if cfg.SpeechWindows < 1 || cfg.SilenceWindows < 1 {
		return nil, errors.New("window counts must be at least 1")
	}
	return &EnergySegmenter{cfg: cfg}, nil
}

type energyCache struct {
	inSpeech     bool
	speechCount  int
	silenceCount int
	// position is the number of samples seen, runStart the sample where the
	// current loud or quiet run began.
	position int64
	runStart int64
	closed   bool
}

func (c *energyCache) Close() error {
	c.closed = true
	return nil
}

func (s *EnergySegmenter) NewCache() (SegmentCache, error) {
	return &energyCache{}, nil
}

func (s *EnergySegmenter) DetectChunk(chunk []float32, cache SegmentCache, isFinal bool, chunkMs int) ([]Boundary, error) {
	c, ok := cache.(*energyCache)
	if !ok || c.closed {
		return nil, errors.New("energy segmenter: invalid cache")
	}

	window := s.cfg.SampleRate * s.cfg.WindowMs / 1000
	var out []Boundary

	for off := 0; off < len(chunk); off += window {
		end := min(off+window, len(chunk))
		level := rms(chunk[off:end])
		start := c.position
		c.position += int64(end - off)

		if c.inSpeech {
			if level >= s.cfg.SilenceRMS {
				c.silenceCount = 0
				continue
			}
			if c.silenceCount == 0 {
				c.runStart = start
			}
			c.silenceCount++
			if c.silenceCount >= s.cfg.SilenceWindows {
				c.inSpeech = false
				c.silenceCount = 0
				out = append(out, Boundary{Start: NoBoundary, End: s.toMs(c.runStart)})
			}
			continue
		}

		if level < s.cfg.SpeechRMS {
			c.speechCount = 0
			continue
		}
		if c.speechCount == 0 {
			c.runStart = start
		}
		c.speechCount++
		if c.speechCount >= s.cfg.SpeechWindows {
			c.inSpeech = true
			c.speechCount = 0
			out = append(out, Boundary{Start: s.toMs(c.runStart), End: NoBoundary})
		}
	}

	if isFinal && c.inSpeech {
		c.inSpeech = false
		c.silenceCount = 0
		out = append(out, Boundary{Start: NoBoundary, End: s.toMs(c.position)})
	}
	return out, nil
}

func (s *EnergySegmenter) toMs(sample int64) int64 {
	return sample * 1000 / int64(s.cfg.SampleRate)
}

var (
	_ ProbabilityModel = (*EnergyModel)(nil)
	_ SegmentModel     = (*EnergySegmenter)(nil)
)
