package fusion

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/realtime-ai/dualvad/pkg/audio"
	"github.com/realtime-ai/dualvad/pkg/protocol"
	"github.com/realtime-ai/dualvad/pkg/trace"
	"github.com/realtime-ai/dualvad/pkg/vad"
)

// Detector names used on spans and metrics.
const (
	ProbabilityDetector = "probability"
	SegmentDetector     = "segment"
)

// Config holds the initial settings of a new Engine.
type Config struct {
	Probability ProbabilityConfig
	ChunkMs     int
}

// DefaultConfig returns the default probability settings and 200ms chunks.
func DefaultConfig() Config {
	return Config{
		Probability: DefaultProbabilityConfig(),
		ChunkMs:     DefaultChunkMs,
	}
}

// Engine is the per-session fusion state: a fixed pair of detectors.
type Engine struct {
	probability Detector
	segment     Detector
}

// NewEngine pairs two detectors. The engine owns them; Close releases those
// that implement io.Closer.
func NewEngine(probability, segment Detector) *Engine {
	return &Engine{probability: probability, segment: segment}
}

// New builds an Engine with fresh models from backend.
func New(backend vad.Backend, cfg Config) (*Engine, error) {
	pm, err := backend.NewProbabilityModel()
	if err != nil {
		return nil, fmt.Errorf("create probability model: %w", err)
	}
	sm, err := backend.NewSegmentModel()
	if err != nil {
		pm.Destroy()
		return nil, fmt.Errorf("create segment model: %w", err)
	}
	return NewEngine(
		NewProbabilityAdapter(pm, cfg.Probability),
		NewSegmentAdapter(sm, cfg.ChunkMs),
	), nil
}

// ProcessFrame normalizes the frame once and runs both detectors on it. If
// either detector fails, the joined error is returned and no result.
func (e *Engine) ProcessFrame(ctx context.Context, frame protocol.Frame) (Result, error) {
	_, span := trace.InstrumentFrame(ctx, frame.Sequence, len(frame.PCM), int(frame.SampleRate), int(frame.Channels))
	defer span.End()

	samples := audio.Normalize(frame.PCM)

	p, perr := e.probability.Process(samples)
	s, serr := e.segment.Process(samples)
	if err := errors.Join(perr, serr); err != nil {
		trace.RecordError(span, err)
		return Result{}, err
	}

	if p.Event != nil {
		trace.AddSpeechEvent(span, ProbabilityDetector, string(p.Event.Kind), p.Event.Seconds)
	}

	return Result{
		Sequence:    frame.Sequence,
		Probability: p,
		Segment:     s,
	}, nil
}

// ApplyConfig forwards u to both detectors.
func (e *Engine) ApplyConfig(u ConfigUpdate) {
	e.probability.UpdateConfig(u)
	e.segment.UpdateConfig(u)
}

// Reset resets both detectors, even if the first one fails.
func (e *Engine) Reset() error {
	return errors.Join(e.probability.Reset(), e.segment.Reset())
}

// Close releases detector resources. Call Reset first if state matters.
func (e *Engine) Close() error {
	var errs []error
	for _, d := range []Detector{e.probability, e.segment} {
		if c, ok := d.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// SegmentChunks returns the segment model evaluations so far, or 0 when the
// segment detector does not count them.
func (e *Engine) SegmentChunks() int64 {
	if s, ok := e.segment.(*SegmentAdapter); ok {
		return s.Chunks()
	}
	return 0
}
