package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kokorotts/kokoro-server/internal/api"
	"github.com/kokorotts/kokoro-server/internal/config"
	"github.com/kokorotts/kokoro-server/internal/observability"
	"github.com/kokorotts/kokoro-server/internal/store"
	"github.com/kokorotts/kokoro-server/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("scratch_dir", cfg.ScratchDir).
		Str("engine_command", cfg.EngineCommand).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Kokoro TTS server starting")

	// Artifact store owns the scratch directory for the process lifetime.
	st, err := store.New(cfg.ScratchDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize artifact store")
	}

	// The engine binary is resolved once at startup; a missing binary keeps
	// the server up but failing synthesis requests fast with 503.
	engine := tts.NewKokoroEngine(cfg.EngineCommand, logger)
	synth := tts.NewSynthesizer(engine, st, cfg.SampleRate, logger)

	// Create HTTP server
	mux := http.NewServeMux()

	handler := api.NewHandler(cfg, synth, st, logger)
	handler.Register(mux)

	// Health check endpoint
	mux.HandleFunc("GET /health", observability.HealthCheckHandler())

	// Readiness endpoint
	engineCheck := func(ctx context.Context) (bool, error) {
		if !engine.Available() {
			return false, fmt.Errorf("engine binary %q not found", cfg.EngineCommand)
		}
		return true, nil
	}
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"engine": engineCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. The write timeout must outlast both
	// synthesis attempts plus the download of a large artifact.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.CORS(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.SynthesisTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/tts", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
