package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/dualvad/pkg/protocol"
	"github.com/realtime-ai/dualvad/pkg/vad"
)

type testEngine struct {
	*Engine
	probModel *vad.MockProbabilityModel
	segModel  *vad.MockSegmentModel
	prob      *ProbabilityAdapter
	seg       *SegmentAdapter
}

func newTestEngine(probModel *vad.MockProbabilityModel, segModel *vad.MockSegmentModel) testEngine {
	prob := NewProbabilityAdapter(probModel, DefaultProbabilityConfig())
	seg := NewSegmentAdapter(segModel, DefaultChunkMs)
	return testEngine{
		Engine:    NewEngine(prob, seg),
		probModel: probModel,
		segModel:  segModel,
		prob:      prob,
		seg:       seg,
	}
}

func pcmFrame(seq uint32, n int, value int16) protocol.Frame {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = value
	}
	return protocol.NewFrame(seq, pcm)
}

func TestEngine_ProcessFrame(t *testing.T) {
	e := newTestEngine(
		vad.NewMockProbabilityModelWithProb(0.8),
		vad.NewMockSegmentModelWithScript([]vad.Boundary{{Start: 0, End: vad.NoBoundary}}),
	)
	ctx := context.Background()

	for seq := uint32(1); seq <= 7; seq++ {
		res, err := e.ProcessFrame(ctx, pcmFrame(seq, 512, 16384))
		require.NoError(t, err)
		assert.Equal(t, seq, res.Sequence)
		assert.Equal(t, float32(0.8), res.Probability.Probability)
		assert.True(t, res.Probability.IsSpeechConfirmed)
		assert.Equal(t, seq == 1, res.Probability.Event != nil)
		assert.Equal(t, seq >= 7, res.Segment.IsSpeechConfirmed, "frame %d", seq)
	}

	// Both detectors see the same normalized samples, once per frame.
	assert.Equal(t, 7, e.probModel.InferCallCount())
	assert.Equal(t, float32(0.5), e.probModel.InferCalls[0][0])
	assert.Equal(t, 1, e.segModel.ChunkCount())
	assert.Equal(t, int64(1), e.SegmentChunks())
	assert.Equal(t, 7*512-chunkSize, e.seg.Buffered())
}

func TestEngine_EmptyFrame(t *testing.T) {
	e := newTestEngine(vad.NewMockProbabilityModelWithProb(0.9), vad.NewMockSegmentModel())

	res, err := e.ProcessFrame(context.Background(), protocol.NewFrame(1, nil))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), res.Sequence)
	assert.Equal(t, DetectorResult{}, res.Probability)
	assert.Equal(t, DetectorResult{}, res.Segment)
	assert.Zero(t, e.probModel.InferCallCount())
	assert.Zero(t, e.segModel.ChunkCount())
}

func TestEngine_DetectorsRunUnconditionally(t *testing.T) {
	boom := errors.New("probability failed")
	e := newTestEngine(
		&vad.MockProbabilityModel{InferFunc: func([]float32) (float32, error) { return 0, boom }},
		vad.NewMockSegmentModel(),
	)

	res, err := e.ProcessFrame(context.Background(), pcmFrame(3, chunkSize, 0))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Result{}, res, "no partial result on failure")
	assert.Equal(t, 1, e.segModel.ChunkCount(), "segment detector still ran")
}

func TestEngine_JoinsBothErrors(t *testing.T) {
	perr := errors.New("probability failed")
	serr := errors.New("segment failed")
	e := newTestEngine(
		&vad.MockProbabilityModel{InferFunc: func([]float32) (float32, error) { return 0, perr }},
		&vad.MockSegmentModel{DetectFunc: func([]float32, *vad.MockSegmentCache) ([]vad.Boundary, error) { return nil, serr }},
	)

	_, err := e.ProcessFrame(context.Background(), pcmFrame(1, chunkSize, 0))
	assert.ErrorIs(t, err, perr)
	assert.ErrorIs(t, err, serr)
}

func TestEngine_ApplyConfig(t *testing.T) {
	e := newTestEngine(vad.NewMockProbabilityModelWithProb(0.6), vad.NewMockSegmentModel())
	ctx := context.Background()

	res, err := e.ProcessFrame(ctx, pcmFrame(1, 512, 0))
	require.NoError(t, err)
	require.True(t, res.Probability.IsSpeechInstant)

	threshold := float32(0.7)
	e.ApplyConfig(ConfigUpdate{Threshold: &threshold})
	assert.Equal(t, float32(0.7), e.prob.Threshold())
	assert.Equal(t, 1600, e.prob.MinSilenceSamples())
	assert.Equal(t, 480, e.prob.SpeechPadSamples())

	res, err = e.ProcessFrame(ctx, pcmFrame(2, 512, 0))
	require.NoError(t, err)
	assert.False(t, res.Probability.IsSpeechInstant)
	assert.True(t, res.Probability.IsSpeechConfirmed)
}

func TestEngine_ResetAndClose(t *testing.T) {
	e := newTestEngine(
		vad.NewMockProbabilityModelWithProb(0.9),
		vad.NewMockSegmentModelWithScript([]vad.Boundary{{Start: 0, End: vad.NoBoundary}}),
	)

	_, err := e.ProcessFrame(context.Background(), pcmFrame(1, chunkSize+10, 100))
	require.NoError(t, err)
	require.True(t, e.prob.Triggered())
	require.True(t, e.seg.InSpeech())

	require.NoError(t, e.Reset())
	assert.False(t, e.prob.Triggered())
	assert.False(t, e.seg.InSpeech())
	assert.Zero(t, e.seg.Buffered())
	assert.Equal(t, 1, e.probModel.ResetCount)
	assert.True(t, e.segModel.Caches[0].Closed)

	require.NoError(t, e.Close())
	assert.Equal(t, 1, e.probModel.DestroyCount)
}

func TestNew(t *testing.T) {
	backend := &vad.MockBackend{}
	e, err := New(backend, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Len(t, backend.ProbabilityModels, 1)
	assert.Len(t, backend.SegmentModels, 1)

	backend = &vad.MockBackend{SegmentErr: errors.New("no segment model")}
	_, err = New(backend, DefaultConfig())
	require.Error(t, err)
	require.Len(t, backend.ProbabilityModels, 1)
	assert.Equal(t, 1, backend.ProbabilityModels[0].DestroyCount)

	backend = &vad.MockBackend{ProbabilityErr: errors.New("no probability model")}
	_, err = New(backend, DefaultConfig())
	assert.Error(t, err)
}
