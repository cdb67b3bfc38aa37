//go:build vad

package vad

import "fmt"

// OnnxBackend builds Silero models on ONNX Runtime.
type OnnxBackend struct {
	cfg       BackendConfig
	segmenter *SileroSegmenter
}

// NewBackend initializes the ONNX runtime and returns the Silero backend.
func NewBackend(cfg BackendConfig) (Backend, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if err := InitRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}
	seg, err := NewSileroSegmenter(SileroSegmenterConfig{
		ModelPath:  cfg.ModelPath,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}
	return &OnnxBackend{cfg: cfg, segmenter: seg}, nil
}

func (b *OnnxBackend) Name() string { return "onnx" }

func (b *OnnxBackend) NewProbabilityModel() (ProbabilityModel, error) {
	return NewSileroModel(SileroConfig{
		ModelPath:  b.cfg.ModelPath,
		SampleRate: b.cfg.SampleRate,
	})
}

// NewSegmentModel shares one segmenter; every session cache owns its own
// detector.
func (b *OnnxBackend) NewSegmentModel() (SegmentModel, error) {
	return b.segmenter, nil
}

// Close shuts the ONNX runtime down. Call it after every session has ended.
func (b *OnnxBackend) Close() error {
	return DestroyRuntime()
}
