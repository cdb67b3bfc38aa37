// Package config loads service settings from defaults, an optional YAML file,
// an optional .env file and DUALVAD_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/realtime-ai/dualvad/pkg/protocol"
)

// EnvPrefix prefixes every environment override, e.g. DUALVAD_SERVER_ADDR.
const EnvPrefix = "DUALVAD"

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	Path        string `mapstructure:"path"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
	// MaxSessionsPerIP limits concurrent sessions per client IP, 0 disables it.
	MaxSessionsPerIP int           `mapstructure:"max_sessions_per_ip"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
}

type VADConfig struct {
	ModelPath       string  `mapstructure:"model_path"`
	OnnxLibraryPath string  `mapstructure:"onnx_library_path"`
	Threshold       float32 `mapstructure:"threshold"`
	MinSilenceMs    int     `mapstructure:"min_silence_ms"`
	SpeechPadMs     int     `mapstructure:"speech_pad_ms"`
	ChunkMs         int     `mapstructure:"chunk_ms"`
	// StrictFrames rejects frames whose header disagrees with the payload or
	// with 16kHz mono.
	StrictFrames bool `mapstructure:"strict_frames"`
}

type TraceConfig struct {
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	VAD    VADConfig    `mapstructure:"vad"`
	Trace  TraceConfig  `mapstructure:"trace"`
	Log    LogConfig    `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.health_path", "/healthz")
	v.SetDefault("server.max_sessions_per_ip", 10)
	v.SetDefault("server.read_buffer_size", 4096)
	v.SetDefault("server.write_buffer_size", 4096)
	v.SetDefault("server.read_limit", 1<<20)
	v.SetDefault("server.write_wait", 10*time.Second)

	v.SetDefault("vad.model_path", "models/silero_vad.onnx")
	v.SetDefault("vad.onnx_library_path", "")
	v.SetDefault("vad.threshold", 0.5)
	v.SetDefault("vad.min_silence_ms", 100)
	v.SetDefault("vad.speech_pad_ms", 30)
	v.SetDefault("vad.chunk_ms", 200)
	v.SetDefault("vad.strict_frames", true)

	v.SetDefault("trace.exporter", "none")
	v.SetDefault("trace.otlp_endpoint", "localhost:4317")
	v.SetDefault("trace.sampling_rate", 1.0)
	v.SetDefault("trace.environment", "development")

	v.SetDefault("log.debug", false)
}

// Load reads the configuration. path may be empty, in which case only
// defaults, .env and the environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	for key, p := range map[string]string{
		"server.path":         c.Server.Path,
		"server.metrics_path": c.Server.MetricsPath,
		"server.health_path":  c.Server.HealthPath,
	} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with /", key, p))
		}
	}
	if c.Server.MaxSessionsPerIP < 0 {
		errs = append(errs, errors.New("server.max_sessions_per_ip must not be negative"))
	}
	if c.Server.ReadLimit <= 0 {
		errs = append(errs, errors.New("server.read_limit must be positive"))
	}

	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v out of range [0, 1]", c.VAD.Threshold))
	}
	if c.VAD.MinSilenceMs < 0 || c.VAD.MinSilenceMs > protocol.MaxDurationMs {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d out of range [0, %d]", c.VAD.MinSilenceMs, protocol.MaxDurationMs))
	}
	if c.VAD.SpeechPadMs < 0 || c.VAD.SpeechPadMs > protocol.MaxDurationMs {
		errs = append(errs, fmt.Errorf("vad.speech_pad_ms %d out of range [0, %d]", c.VAD.SpeechPadMs, protocol.MaxDurationMs))
	}
	if c.VAD.ChunkMs <= 0 {
		errs = append(errs, errors.New("vad.chunk_ms must be positive"))
	}

	switch c.Trace.Exporter {
	case "stdout", "otlp", "none":
	default:
		errs = append(errs, fmt.Errorf("trace.exporter %q is not one of stdout, otlp, none", c.Trace.Exporter))
	}
	if c.Trace.SamplingRate < 0 || c.Trace.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace.sampling_rate %v out of range [0, 1]", c.Trace.SamplingRate))
	}

	return errors.Join(errs...)
}
