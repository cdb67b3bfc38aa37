// Package vad holds the speech models that the fusion engine drives: a
// per-window probability model and a chunked segment model, each with an ONNX
// implementation (build tag "vad") and a pure-Go energy implementation.
package vad

// NoBoundary marks the absent side of a Boundary.
const NoBoundary int64 = -1

// ProbabilityModel produces a speech probability for each window of audio.
// Implementations may carry recurrent state across calls, so one instance must
// only ever see the audio of a single stream, in order.
type ProbabilityModel interface {
	// Infer runs inference on audio samples and returns the speech probability.
	// samples should be normalized float32 values in the range [-1, 1].
	// Returns a probability value in [0, 1] where higher values indicate speech.
	Infer(samples []float32) (float32, error)

	// Reset resets the model's internal state.
	// This should be called when starting a new audio stream.
	Reset() error

	// Destroy releases all resources held by the model.
	// The model should not be used after calling Destroy.
	Destroy() error
}

// Boundary is one speech region edge reported by a SegmentModel, in
// milliseconds since the start of the stream. {Start, NoBoundary} opens a
// region, {NoBoundary, End} closes one.
type Boundary struct {
	Start int64
	End   int64
}

// SegmentCache is per-stream state owned by a SegmentModel. Callers only store
// it and hand it back on the next DetectChunk call.
type SegmentCache interface {
	Close() error
}

// SegmentModel reports speech region boundaries over fixed-size chunks.
type SegmentModel interface {
	// NewCache returns empty stream state.
	NewCache() (SegmentCache, error)

	// DetectChunk consumes exactly one chunk of chunkMs milliseconds. cache must
	// come from NewCache on the same model.
	DetectChunk(chunk []float32, cache SegmentCache, isFinal bool, chunkMs int) ([]Boundary, error)
}

// BackendConfig configures model construction.
type BackendConfig struct {
	// ModelPath is the ONNX Silero VAD model. Only used by the onnx backend.
	ModelPath string
	// LibraryPath points at libonnxruntime. Empty means auto-detect.
	LibraryPath string
	// SampleRate of the audio fed to the models.
	SampleRate int
}

// Backend creates the model pair for one session.
type Backend interface {
	Name() string
	NewProbabilityModel() (ProbabilityModel, error)
	NewSegmentModel() (SegmentModel, error)
	Close() error
}
