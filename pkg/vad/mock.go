package vad

import (
	"errors"
	"sync"
)

// MockProbabilityModel is a ProbabilityModel for tests.
// It allows customizing the behavior of Infer through the InferFunc field.
type MockProbabilityModel struct {
	// InferFunc is called when Infer is invoked.
	// If nil, returns 0.0 (no speech detected).
	InferFunc func(samples []float32) (float32, error)

	// InferCalls records all calls to Infer for verification.
	InferCalls [][]float32

	ResetCount   int
	DestroyCount int

	sequence []float32
	next     int

	mu sync.Mutex
}

// NewMockProbabilityModel creates a MockProbabilityModel that reports silence.
func NewMockProbabilityModel() *MockProbabilityModel {
	return &MockProbabilityModel{}
}

// NewMockProbabilityModelWithProb creates a mock that returns a fixed probability.
func NewMockProbabilityModelWithProb(prob float32) *MockProbabilityModel {
	return &MockProbabilityModel{
		InferFunc: func([]float32) (float32, error) {
			return prob, nil
		},
	}
}

// NewMockProbabilityModelWithSequence creates a mock that returns probabilities
// in sequence, cycling back to the beginning when exhausted. Reset rewinds it.
func NewMockProbabilityModelWithSequence(probs []float32) *MockProbabilityModel {
	return &MockProbabilityModel{sequence: probs}
}

func (m *MockProbabilityModel) Infer(samples []float32) (float32, error) {
	m.mu.Lock()
	m.InferCalls = append(m.InferCalls, append([]float32(nil), samples...))
	fn := m.InferFunc
	var prob float32
	if len(m.sequence) > 0 {
		prob = m.sequence[m.next]
		m.next = (m.next + 1) % len(m.sequence)
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(samples)
	}
	return prob, nil
}

// Reset clears recorded calls so the model looks freshly constructed.
func (m *MockProbabilityModel) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCount++
	m.InferCalls = nil
	m.next = 0
	return nil
}

func (m *MockProbabilityModel) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DestroyCount++
	return nil
}

// Resets returns ResetCount under the lock.
func (m *MockProbabilityModel) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResetCount
}

// Destroys returns DestroyCount under the lock.
func (m *MockProbabilityModel) Destroys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DestroyCount
}

// InferCallCount returns the number of Infer calls since the last Reset.
func (m *MockProbabilityModel) InferCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InferCalls)
}

// MockSegmentCache is the cache handed out by MockSegmentModel.
type MockSegmentCache struct {
	// Chunks counts DetectChunk calls made with this cache.
	Chunks int
	Closed bool
}

func (c *MockSegmentCache) Close() error {
	c.Closed = true
	return nil
}

// MockSegmentModel is a SegmentModel for tests. DetectFunc decides the
// boundaries for each chunk; the default reports none.
type MockSegmentModel struct {
	DetectFunc func(chunk []float32, cache *MockSegmentCache) ([]Boundary, error)

	// Caches records every cache created, in order.
	Caches []*MockSegmentCache
	// ChunkSizes records the length of every chunk passed to DetectChunk.
	ChunkSizes []int
	// ChunkMs records the chunkMs argument of every call.
	ChunkMs []int
	// FinalCalls counts calls with isFinal set.
	FinalCalls int

	mu sync.Mutex
}

// NewMockSegmentModel creates a MockSegmentModel that never reports a boundary.
func NewMockSegmentModel() *MockSegmentModel {
	return &MockSegmentModel{}
}

// NewMockSegmentModelWithScript returns a mock that replies to the nth chunk
// of a cache with script[n]. Chunks past the end of the script report nothing.
func NewMockSegmentModelWithScript(script ...[]Boundary) *MockSegmentModel {
	return &MockSegmentModel{
		DetectFunc: func(_ []float32, cache *MockSegmentCache) ([]Boundary, error) {
			n := cache.Chunks - 1
			if n < len(script) {
				return script[n], nil
			}
			return nil, nil
		},
	}
}

func (m *MockSegmentModel) NewCache() (SegmentCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &MockSegmentCache{}
	m.Caches = append(m.Caches, c)
	return c, nil
}

func (m *MockSegmentModel) DetectChunk(chunk []float32, cache SegmentCache, isFinal bool, chunkMs int) ([]Boundary, error) {
	c, ok := cache.(*MockSegmentCache)
	if !ok {
		return nil, errors.New("mock segment model: foreign cache")
	}
	if c.Closed {
		return nil, errors.New("mock segment model: cache closed")
	}

	m.mu.Lock()
	c.Chunks++
	m.ChunkSizes = append(m.ChunkSizes, len(chunk))
	m.ChunkMs = append(m.ChunkMs, chunkMs)
	if isFinal {
		m.FinalCalls++
	}
	fn := m.DetectFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(chunk, c)
	}
	return nil, nil
}

// ChunkCount returns the total number of DetectChunk calls.
func (m *MockSegmentModel) ChunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChunkSizes)
}

// MockBackend hands out fresh mock models. The optional constructors let
// tests script per-session behavior.
type MockBackend struct {
	NewProbability func() *MockProbabilityModel
	NewSegment     func() *MockSegmentModel
	// ProbabilityErr and SegmentErr fail model creation when set.
	ProbabilityErr error
	SegmentErr     error

	ProbabilityModels []*MockProbabilityModel
	SegmentModels     []*MockSegmentModel
	Closed            bool

	mu sync.Mutex
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) NewProbabilityModel() (ProbabilityModel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProbabilityErr != nil {
		return nil, b.ProbabilityErr
	}
	m := NewMockProbabilityModel()
	if b.NewProbability != nil {
		m = b.NewProbability()
	}
	b.ProbabilityModels = append(b.ProbabilityModels, m)
	return m, nil
}

func (b *MockBackend) NewSegmentModel() (SegmentModel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SegmentErr != nil {
		return nil, b.SegmentErr
	}
	m := NewMockSegmentModel()
	if b.NewSegment != nil {
		m = b.NewSegment()
	}
	b.SegmentModels = append(b.SegmentModels, m)
	return m, nil
}

// ProbabilityModel returns the i-th model handed out, or nil.
func (b *MockBackend) ProbabilityModel(i int) *MockProbabilityModel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.ProbabilityModels) {
		return nil
	}
	return b.ProbabilityModels[i]
}

func (b *MockBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

var (
	_ ProbabilityModel = (*MockProbabilityModel)(nil)
	_ SegmentModel     = (*MockSegmentModel)(nil)
	_ Backend          = (*MockBackend)(nil)
)
