package fusion

import (
	"fmt"
	"math"

	"github.com/realtime-ai/dualvad/pkg/audio"
	"github.com/realtime-ai/dualvad/pkg/vad"
)

// negativeMargin is how far below the threshold a probability must fall to
// count towards silence.
const negativeMargin = 0.15

// ProbabilityConfig holds the smoothing parameters of a ProbabilityAdapter.
type ProbabilityConfig struct {
	Threshold    float32
	MinSilenceMs int
	SpeechPadMs  int
}

// DefaultProbabilityConfig returns threshold 0.5, 100ms minimum silence and
// 30ms padding.
func DefaultProbabilityConfig() ProbabilityConfig {
	return ProbabilityConfig{
		Threshold:    0.5,
		MinSilenceMs: 100,
		SpeechPadMs:  30,
	}
}

// ProbabilityAdapter turns per-frame probabilities into a confirmed
// speech/silence state with padded onset and offset times.
//
// Onset fires on the first frame at or above the threshold. Offset fires once
// the probability has stayed below threshold-0.15 for MinSilenceMs, measured
// from the first quiet frame; a frame back at the threshold cancels the
// pending offset.
type ProbabilityAdapter struct {
	model vad.ProbabilityModel

	threshold         float32
	minSilenceSamples int
	speechPadSamples  int

	triggered bool
	// tempEnd is the sample position of the first quiet frame of a pending
	// offset, 0 when none is pending.
	tempEnd       int
	currentSample int
}

// NewProbabilityAdapter wraps model. The adapter owns the model from here on.
func NewProbabilityAdapter(model vad.ProbabilityModel, cfg ProbabilityConfig) *ProbabilityAdapter {
	return &ProbabilityAdapter{
		model:             model,
		threshold:         cfg.Threshold,
		minSilenceSamples: audio.MsToSamples(cfg.MinSilenceMs),
		speechPadSamples:  audio.MsToSamples(cfg.SpeechPadMs),
	}
}

// Process runs the model once on samples and advances the hysteresis.
// An empty frame does not reach the model and leaves all state untouched.
func (a *ProbabilityAdapter) Process(samples []float32) (DetectorResult, error) {
	if len(samples) == 0 {
		return DetectorResult{IsSpeechConfirmed: a.triggered}, nil
	}

	prob, err := a.model.Infer(samples)
	if err != nil {
		return DetectorResult{}, fmt.Errorf("probability model: %w", err)
	}

	window := len(samples)
	a.currentSample += window

	res := DetectorResult{
		Probability:     prob,
		IsSpeechInstant: prob > a.threshold,
	}

	if prob >= a.threshold && a.tempEnd != 0 {
		a.tempEnd = 0
	}

	switch {
	case prob >= a.threshold && !a.triggered:
		a.triggered = true
		start := max(0, a.currentSample-a.speechPadSamples-window)
		res.Event = &Event{Kind: EventOnset, Seconds: toSeconds(start)}

	case prob < a.threshold-negativeMargin && a.triggered:
		if a.tempEnd == 0 {
			a.tempEnd = a.currentSample
		}
		if a.currentSample-a.tempEnd >= a.minSilenceSamples {
			end := a.tempEnd + a.speechPadSamples - window
			a.tempEnd = 0
			a.triggered = false
			res.Event = &Event{Kind: EventOffset, Seconds: toSeconds(end)}
		}
	}

	res.IsSpeechConfirmed = a.triggered
	return res, nil
}

// UpdateConfig changes the threshold and durations without touching the
// triggered state or the pending offset.
func (a *ProbabilityAdapter) UpdateConfig(u ConfigUpdate) {
	if u.Threshold != nil {
		a.threshold = *u.Threshold
	}
	if u.MinSilenceMs != nil {
		a.minSilenceSamples = audio.MsToSamples(*u.MinSilenceMs)
	}
	if u.SpeechPadMs != nil {
		a.speechPadSamples = audio.MsToSamples(*u.SpeechPadMs)
	}
}

// Reset returns to silence at sample zero and resets the model.
func (a *ProbabilityAdapter) Reset() error {
	a.triggered = false
	a.tempEnd = 0
	a.currentSample = 0
	if err := a.model.Reset(); err != nil {
		return fmt.Errorf("probability model reset: %w", err)
	}
	return nil
}

// Close releases the model.
func (a *ProbabilityAdapter) Close() error {
	return a.model.Destroy()
}

func (a *ProbabilityAdapter) Threshold() float32     { return a.threshold }
func (a *ProbabilityAdapter) MinSilenceSamples() int { return a.minSilenceSamples }
func (a *ProbabilityAdapter) SpeechPadSamples() int  { return a.speechPadSamples }
func (a *ProbabilityAdapter) Triggered() bool        { return a.triggered }

func toSeconds(sample int) float64 {
	return math.Round(float64(sample)/audio.SampleRate*10) / 10
}
