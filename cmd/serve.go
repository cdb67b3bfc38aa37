package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/realtime-ai/dualvad/pkg/config"
	"github.com/realtime-ai/dualvad/pkg/fusion"
	"github.com/realtime-ai/dualvad/pkg/logger"
	"github.com/realtime-ai/dualvad/pkg/metrics"
	"github.com/realtime-ai/dualvad/pkg/server"
	"github.com/realtime-ai/dualvad/pkg/trace"
	"github.com/realtime-ai/dualvad/pkg/vad"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if debugFlag {
		cfg.Log.Debug = true
	}

	log, err := logger.New(cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	traceCfg := trace.DefaultConfig()
	traceCfg.ServiceVersion = version
	traceCfg.ExporterType = cfg.Trace.Exporter
	traceCfg.OTLPEndpoint = cfg.Trace.OTLPEndpoint
	traceCfg.SamplingRate = cfg.Trace.SamplingRate
	traceCfg.Environment = cfg.Trace.Environment
	if err := trace.Initialize(ctx, traceCfg); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	provider, err := metrics.InitProvider(ctx, traceCfg.ServiceName, version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	instruments, err := metrics.New(provider)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	backend, err := vad.NewBackend(vad.BackendConfig{
		ModelPath:   cfg.VAD.ModelPath,
		LibraryPath: cfg.VAD.OnnxLibraryPath,
		SampleRate:  16000,
	})
	if err != nil {
		return fmt.Errorf("failed to create vad backend: %w", err)
	}
	log.Infow("vad backend ready", "backend", backend.Name())

	engineCfg := fusion.Config{
		Probability: fusion.ProbabilityConfig{
			Threshold:    cfg.VAD.Threshold,
			MinSilenceMs: cfg.VAD.MinSilenceMs,
			SpeechPadMs:  cfg.VAD.SpeechPadMs,
		},
		ChunkMs: cfg.VAD.ChunkMs,
	}
	newEngine := func() (*fusion.Engine, error) {
		return fusion.New(backend, engineCfg)
	}

	srv := server.New(&server.Config{
		Addr:             cfg.Server.Addr,
		Path:             cfg.Server.Path,
		MetricsPath:      cfg.Server.MetricsPath,
		HealthPath:       cfg.Server.HealthPath,
		MaxSessionsPerIP: cfg.Server.MaxSessionsPerIP,
		ReadBufferSize:   cfg.Server.ReadBufferSize,
		WriteBufferSize:  cfg.Server.WriteBufferSize,
		ReadLimit:        cfg.Server.ReadLimit,
		WriteWait:        cfg.Server.WriteWait,
		StrictFrames:     cfg.VAD.StrictFrames,
	}, newEngine,
		server.WithLogger(log),
		server.WithMetrics(instruments),
		server.WithMetricsHandler(provider.Handler()),
	)

	if err := srv.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to start server: %w", err), cleanup(backend, provider))
	}
	log.Infow("server running", "addr", cfg.Server.Addr, "path", cfg.Server.Path)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Stop(shutdownCtx)
	err = errors.Join(err, cleanup(backend, provider))
	if err != nil {
		log.Errorw("error during shutdown", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// cleanup releases the models and flushes telemetry.
func cleanup(backend vad.Backend, provider *metrics.Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(backend.Close(), provider.Shutdown(ctx), trace.Shutdown(ctx))
}
