//go:build vad

package vad

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	stateLen   = 2 * 1 * 128
	contextLen = 64
)

var (
	runtimeInitialized bool
	runtimeMu          sync.Mutex
)

// InitRuntime initializes the ONNX runtime environment once per process.
// libraryPath can be empty to search the usual install locations.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}

	if libraryPath == "" {
		libraryPath = findONNXRuntimeLibrary()
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	runtimeInitialized = true
	return nil
}

// DestroyRuntime tears down the ONNX runtime environment.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX runtime: %w", err)
	}
	runtimeInitialized = false
	return nil
}

func findONNXRuntimeLibrary() string {
	candidates := []string{
		os.Getenv("ONNXRUNTIME_LIB"),
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		candidates = append(candidates, filepath.Join(dir, "libonnxruntime.so"))
	}
	for _, dir := range filepath.SplitList(os.Getenv("DYLD_LIBRARY_PATH")) {
		candidates = append(candidates, filepath.Join(dir, "libonnxruntime.dylib"))
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// SileroConfig configures a SileroModel.
type SileroConfig struct {
	// ModelPath is the Silero VAD v5 ONNX file.
	ModelPath string
	// SampleRate must be 8000 or 16000.
	SampleRate int
}

// IsValid validates the model configuration.
func (c SileroConfig) IsValid() error {
	if c.ModelPath == "" {
		return errors.New("invalid ModelPath: should not be empty")
	}
	if c.SampleRate != 8000 && c.SampleRate != 16000 {
		return errors.New("invalid SampleRate: valid values are 8000 and 16000")
	}
	return nil
}

// SileroModel runs the Silero VAD network through ONNX Runtime and returns one
// speech probability per call. It keeps the LSTM state and the trailing 64
// samples of the previous window between calls.
type SileroModel struct {
	session *ort.DynamicAdvancedSession
	cfg     SileroConfig

	state    [stateLen]float32
	ctx      [contextLen]float32
	primed   bool
	srTensor *ort.Tensor[int64]
}

// NewSileroModel loads the model. The runtime is initialized on demand.
func NewSileroModel(cfg SileroConfig) (*SileroModel, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := InitRuntime(""); err != nil {
		return nil, fmt.Errorf("ONNX runtime not initialized: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization level: %w", err)
	}
	// One session per connection; keep each one single-threaded.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(cfg.SampleRate)})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("failed to create sr tensor: %w", err)
	}

	return &SileroModel{session: session, cfg: cfg, srTensor: sr}, nil
}

// Infer returns the speech probability of samples, which must be normalized
// to [-1, 1].
func (m *SileroModel) Infer(samples []float32) (float32, error) {
	if m == nil || m.session == nil {
		return 0, errors.New("silero model is not initialized")
	}

	input := samples
	if m.primed {
		input = append(m.ctx[:len(m.ctx):len(m.ctx)], samples...)
	}
	if len(samples) >= contextLen {
		copy(m.ctx[:], samples[len(samples)-contextLen:])
	}
	m.primed = true

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), m.state[:])
	if err != nil {
		return 0, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("failed to create stateN tensor: %w", err)
	}
	defer stateNTensor.Destroy()

	err = m.session.Run(
		[]ort.Value{inputTensor, stateTensor, m.srTensor},
		[]ort.Value{outputTensor, stateNTensor},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to run inference: %w", err)
	}

	copy(m.state[:], stateNTensor.GetData())

	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, errors.New("empty output from inference")
	}
	return out[0], nil
}

// Reset clears the recurrent state and the context window.
func (m *SileroModel) Reset() error {
	if m == nil {
		return errors.New("invalid nil silero model")
	}
	clear(m.state[:])
	clear(m.ctx[:])
	m.primed = false
	return nil
}

// Destroy releases the ONNX session.
func (m *SileroModel) Destroy() error {
	if m == nil {
		return errors.New("invalid nil silero model")
	}

	var errs []error
	if m.srTensor != nil {
		errs = append(errs, m.srTensor.Destroy())
		m.srTensor = nil
	}
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		m.session = nil
	}
	return errors.Join(errs...)
}

var _ ProbabilityModel = (*SileroModel)(nil)
