//go:build !vad

package vad

// EnergyBackend builds the pure-Go models. It is the backend of builds
// without the "vad" tag.
type EnergyBackend struct {
	segmenter *EnergySegmenter
}

// NewBackend returns the energy backend. cfg.ModelPath is ignored.
func NewBackend(cfg BackendConfig) (Backend, error) {
	segCfg := DefaultEnergySegmenterConfig()
	if cfg.SampleRate > 0 {
		segCfg.SampleRate = cfg.SampleRate
	}
	seg, err := NewEnergySegmenter(segCfg)
	if err != nil {
		return nil, err
	}
	return &EnergyBackend{segmenter: seg}, nil
}

func (b *EnergyBackend) Name() string { return "energy" }

func (b *EnergyBackend) NewProbabilityModel() (ProbabilityModel, error) {
	return NewEnergyModel(), nil
}

// NewSegmentModel shares one segmenter; its state lives in per-session caches.
func (b *EnergyBackend) NewSegmentModel() (SegmentModel, error) {
	return b.segmenter, nil
}

func (b *EnergyBackend) Close() error { return nil }
