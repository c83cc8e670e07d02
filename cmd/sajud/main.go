// sajud is the synthesis daemon for the saju-avatar Live2D client: it
// resolves speech requests through the provider fallback chain and streams
// lip-sync frames back over WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sajubora/saju-avatar/internal/config"
	"github.com/sajubora/saju-avatar/internal/delivery"
	"github.com/sajubora/saju-avatar/internal/lipsync"
	"github.com/sajubora/saju-avatar/internal/logging"
	"github.com/sajubora/saju-avatar/internal/phoneme"
	"github.com/sajubora/saju-avatar/internal/server"
	"github.com/sajubora/saju-avatar/internal/synth"
	"github.com/sajubora/saju-avatar/internal/tts"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sajud: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		LogDir:  cfg.Logging.Dir,
		Level:   logging.LogLevel(cfg.Logging.Level),
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logger.Close()

	zlog := logger.Zerolog()

	registry := tts.NewRegistry(&tts.RegistryConfig{
		CallTimeout:     cfg.TTS.CallTimeout,
		DemoteThreshold: cfg.TTS.DemoteThreshold,
		FailureWindow:   cfg.TTS.FailureWindow,
	}, zlog)
	registerProviders(registry, cfg, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := tts.NewHealthChecker(registry, &tts.HealthCheckerConfig{
		Interval:     cfg.TTS.HealthInterval,
		ProbeTimeout: cfg.TTS.ProbeTimeout,
	}, zlog)
	checker.Start(ctx)
	defer checker.Stop()

	analyzer := phoneme.New(phoneme.DefaultConfig())
	amplitude := lipsync.NewAmplitudeAnalyzer(&lipsync.AmplitudeConfig{
		Window: cfg.LipSync.Window,
	}, zlog)
	mapper := lipsync.NewMapper(&lipsync.MapperConfig{
		Gain:        cfg.LipSync.Gain,
		NoiseFloor:  cfg.LipSync.NoiseFloor,
		NeutralForm: cfg.LipSync.NeutralForm,
	})

	coordinator := synth.NewCoordinator(&synth.Config{
		RefineTimeout:     cfg.Synth.RefineTimeout,
		PlaceholderTone:   cfg.Synth.PlaceholderTone,
		PlaceholderFreqHz: cfg.Synth.PlaceholderFreqHz,
	}, analyzer, registry, amplitude, mapper, zlog)
	defer coordinator.Close()

	hub := delivery.NewHub(zlog)

	srv := server.New(&server.Config{
		Addr:            cfg.Server.Addr,
		DefaultLocale:   cfg.TTS.DefaultLocale,
		ReadLimit:       cfg.Server.ReadLimit,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, coordinator, registry, hub, zlog)

	// Provider settings edited on disk (new API keys, a different Melo URL)
	// take effect without a restart.
	config.Watch(func(fresh *config.Config) {
		zlog.Info().Msg("Config changed, rebuilding provider chains")
		registerProviders(registry, fresh, zlog)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// registerProviders builds adapters from config and registers the enabled
// ones. Register is idempotent per provider name, so a config reload just
// refreshes settings and triggers a chain rebuild.
func registerProviders(registry *tts.Registry, cfg *config.Config, zlog zerolog.Logger) {
	if cfg.TTS.Melo.Enabled {
		registry.Register(tts.NewMeloProvider(&tts.MeloConfig{
			ServiceURL:   cfg.TTS.Melo.ServiceURL,
			Timeout:      cfg.TTS.Melo.TimeoutSec,
			DefaultSpeed: cfg.TTS.Melo.Speed,
			Priority:     cfg.TTS.Melo.Priority,
		}, zlog))
	}
	if cfg.TTS.OpenAI.Enabled {
		registry.Register(tts.NewOpenAIProvider(&tts.OpenAIConfig{
			APIKey:       cfg.TTS.OpenAI.APIKey,
			Model:        cfg.TTS.OpenAI.Model,
			DefaultVoice: cfg.TTS.OpenAI.Voice,
			Speed:        cfg.TTS.OpenAI.Speed,
			Timeout:      30 * time.Second,
			Priority:     cfg.TTS.OpenAI.Priority,
		}, zlog))
	}
	if cfg.TTS.ElevenLabs.Enabled {
		registry.Register(tts.NewElevenLabsProvider(&tts.ElevenLabsConfig{
			APIKey:       cfg.TTS.ElevenLabs.APIKey,
			DefaultVoice: cfg.TTS.ElevenLabs.VoiceID,
			ModelID:      cfg.TTS.ElevenLabs.ModelID,
			Priority:     cfg.TTS.ElevenLabs.Priority,
		}, zlog))
	}
}
