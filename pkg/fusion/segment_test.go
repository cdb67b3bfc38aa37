package fusion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/dualvad/pkg/vad"
)

const chunkSize = 3200

func TestSegmentAdapter_OneChunkOfSilence(t *testing.T) {
	model := vad.NewMockSegmentModel()
	a := NewSegmentAdapter(model, DefaultChunkMs)

	res, err := a.Process(make([]float32, chunkSize))
	require.NoError(t, err)

	assert.Equal(t, 1, model.ChunkCount())
	assert.Equal(t, int64(1), a.Chunks())
	assert.Zero(t, a.Buffered())
	assert.False(t, a.InSpeech())
	assert.Equal(t, DetectorResult{}, res)
}

func TestSegmentAdapter_BufferingInvariant(t *testing.T) {
	model := vad.NewMockSegmentModel()
	a := NewSegmentAdapter(model, DefaultChunkMs)

	total := 0
	for _, n := range []int{512, 1000, 0, 1687, 1, 7000, 320, 3200, 6399, 512, 512} {
		_, err := a.Process(make([]float32, n))
		require.NoError(t, err)
		total += n

		assert.Equal(t, total/chunkSize, model.ChunkCount(), "after %d samples", total)
		assert.Equal(t, total%chunkSize, a.Buffered(), "after %d samples", total)
	}

	for i, size := range model.ChunkSizes {
		assert.Equal(t, chunkSize, size, "chunk %d", i)
	}
	assert.Zero(t, model.FinalCalls)
	for _, ms := range model.ChunkMs {
		assert.Equal(t, 200, ms)
	}
}

func TestSegmentAdapter_FIFOOrder(t *testing.T) {
	var firsts []float32
	model := &vad.MockSegmentModel{
		DetectFunc: func(chunk []float32, _ *vad.MockSegmentCache) ([]vad.Boundary, error) {
			firsts = append(firsts, chunk[0])
			return nil, nil
		},
	}
	a := NewSegmentAdapter(model, DefaultChunkMs)

	next := float32(0)
	for _, n := range []int{700, 3000, 5000, 4100} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = next
			next++
		}
		_, err := a.Process(samples)
		require.NoError(t, err)
	}

	assert.Equal(t, []float32{0, 3200, 6400, 9600}, firsts)
}

func TestSegmentAdapter_Boundaries(t *testing.T) {
	model := vad.NewMockSegmentModelWithScript(
		[]vad.Boundary{{Start: 120, End: vad.NoBoundary}},
		[]vad.Boundary{{Start: 100, End: 400}, {Start: vad.NoBoundary, End: vad.NoBoundary}},
		[]vad.Boundary{{Start: vad.NoBoundary, End: 580}},
		[]vad.Boundary{{Start: 610, End: vad.NoBoundary}, {Start: vad.NoBoundary, End: 790}},
	)
	a := NewSegmentAdapter(model, DefaultChunkMs)

	want := []bool{true, true, false, false}
	for i, speech := range want {
		res, err := a.Process(make([]float32, chunkSize))
		require.NoError(t, err)

		assert.Equal(t, speech, res.IsSpeechInstant, "chunk %d", i)
		assert.Equal(t, speech, res.IsSpeechConfirmed, "chunk %d", i)
		assert.Nil(t, res.Event)
		if speech {
			assert.Equal(t, float32(1), res.Probability)
		} else {
			assert.Equal(t, float32(0), res.Probability)
		}
	}
}

func TestSegmentAdapter_PartialFrameKeepsState(t *testing.T) {
	model := vad.NewMockSegmentModelWithScript(
		[]vad.Boundary{{Start: 0, End: vad.NoBoundary}},
	)
	a := NewSegmentAdapter(model, DefaultChunkMs)

	_, err := a.Process(make([]float32, chunkSize))
	require.NoError(t, err)

	res, err := a.Process(make([]float32, 512))
	require.NoError(t, err)
	assert.True(t, res.IsSpeechConfirmed, "no chunk ran, the flag is unchanged")
	assert.Equal(t, 1, model.ChunkCount())
}

func TestSegmentAdapter_Reset(t *testing.T) {
	model := vad.NewMockSegmentModelWithScript(
		[]vad.Boundary{{Start: 0, End: vad.NoBoundary}},
	)
	a := NewSegmentAdapter(model, DefaultChunkMs)

	_, err := a.Process(make([]float32, chunkSize+100))
	require.NoError(t, err)
	require.True(t, a.InSpeech())
	require.Len(t, model.Caches, 1)

	require.NoError(t, a.Reset())
	require.NoError(t, a.Reset())
	assert.False(t, a.InSpeech())
	assert.Zero(t, a.Buffered())
	assert.True(t, model.Caches[0].Closed)

	// A fresh cache replays the script from the start.
	res, err := a.Process(make([]float32, chunkSize))
	require.NoError(t, err)
	require.Len(t, model.Caches, 2)
	assert.Equal(t, 1, model.Caches[1].Chunks)
	assert.True(t, res.IsSpeechConfirmed)
}

func TestSegmentAdapter_UpdateConfigIsNoop(t *testing.T) {
	model := vad.NewMockSegmentModel()
	a := NewSegmentAdapter(model, DefaultChunkMs)
	_, err := a.Process(make([]float32, 100))
	require.NoError(t, err)

	threshold, silence := float32(0.9), 10
	a.UpdateConfig(ConfigUpdate{Threshold: &threshold, MinSilenceMs: &silence})

	assert.Equal(t, 100, a.Buffered())
	assert.False(t, a.InSpeech())
}

func TestSegmentAdapter_ModelError(t *testing.T) {
	boom := errors.New("segment failed")
	model := &vad.MockSegmentModel{
		DetectFunc: func([]float32, *vad.MockSegmentCache) ([]vad.Boundary, error) {
			return nil, boom
		},
	}
	a := NewSegmentAdapter(model, DefaultChunkMs)

	_, err := a.Process(make([]float32, 100))
	require.NoError(t, err, "no chunk yet")

	_, err = a.Process(make([]float32, chunkSize))
	assert.ErrorIs(t, err, boom)
}

func TestSegmentAdapter_CustomChunk(t *testing.T) {
	model := vad.NewMockSegmentModel()
	a := NewSegmentAdapter(model, 100)

	_, err := a.Process(make([]float32, 3200))
	require.NoError(t, err)
	assert.Equal(t, []int{1600, 1600}, model.ChunkSizes)
	assert.Equal(t, []int{100, 100}, model.ChunkMs)

	assert.Equal(t, DefaultChunkMs, NewSegmentAdapter(model, 0).chunkMs)
}
