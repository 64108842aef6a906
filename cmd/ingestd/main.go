// cmd/ingestd/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/api"
	"github.com/harbourline/ingest/internal/config"
	"github.com/harbourline/ingest/internal/fetch"
	"github.com/harbourline/ingest/internal/job"
	"github.com/harbourline/ingest/internal/monitoring"
)

var (
	version = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persistence, err := cfg.Sink.BuildSink(ctx, logger)
	if err != nil {
		logger.Fatal("sink initialization failed", zap.Error(err))
	}
	defer persistence.Close()

	metrics := monitoring.NewMetrics(monitoring.MetricsConfig{})
	fetcher := fetch.NewClient(fetch.ClientConfig{
		Timeout:     cfg.Fetch.Timeout,
		MaxAttempts: cfg.Fetch.MaxAttempts,
		BaseDelay:   cfg.Fetch.BaseDelay,
		RateLimit:   cfg.Fetch.RateLimit,
		RateBurst:   cfg.Fetch.RateBurst,
	}, logger, metrics)

	runner := job.NewRunner(fetcher, persistence, logger, metrics)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(runner, logger),
		ReadTimeout:  30 * time.Second,
		// Job runs are synchronous and can take minutes across many pages.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("ingestd listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("version", version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}
