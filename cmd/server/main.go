// Package main provides the metnorm HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"go.ngs.io/metnorm/internal/adapter/store/blocks"
	"go.ngs.io/metnorm/internal/adapter/store/grid"
	"go.ngs.io/metnorm/internal/config"
	httpHandler "go.ngs.io/metnorm/internal/http"
	"go.ngs.io/metnorm/internal/observability"
	"go.ngs.io/metnorm/internal/retrieval"
	"go.ngs.io/metnorm/internal/usecase"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Printf("metnorm version %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	metrics := observability.NewMetrics()

	logger.Info("starting metnorm server",
		"version", version,
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"max_parallel", cfg.MaxParallel)

	normalizeUC := usecase.NewNormalizeUseCase(
		grid.NewDecoder(grid.DefaultConfig(), logger, metrics),
		blocks.NewReader(blocks.DefaultLayout(), logger, metrics),
		retrieval.NewBuilder(cfg.DailyStatTimeZone, cfg.Era5Frequency),
		logger,
		metrics,
		cfg.MaxParallel,
	)

	router := httpHandler.SetupRouter(normalizeUC, httpHandler.RouterConfig{
		DataDir:        cfg.DataDir,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Clock:          clockwork.NewRealClock(),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("metnorm server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES (also read from .env):")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  DATA_DIR                Directory input paths are resolved in (default: ./data)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println("  LOG_FORMAT              json or text (default: json)")
	fmt.Println("  MAX_PARALLEL            Files decoded concurrently (default: 4)")
	fmt.Println("  DAILY_STAT_TIME_ZONE    Time zone of ERA5 daily statistics (default: utc+02:00)")
	fmt.Println("  ERA5_FREQUENCY          Sampling of ERA5 daily statistics (default: 1_hourly)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                Health check")
	fmt.Println("  GET  /metrics               Prometheus metrics")
	fmt.Println("  GET  /v1/dates/tokens       Expand a date range into year/month/day tokens")
	fmt.Println("  GET  /v1/tables             Decode a file into a table (output=csv for CSV)")
	fmt.Println("  GET  /v1/matrix             Averaged latitude x longitude matrix")
	fmt.Println("  GET  /v1/matrix/sample      Matrix value at a point")
	fmt.Println("  GET  /v1/frames             One matrix per day, month or year")
	fmt.Println("  POST /v1/requests/era5      Build an ERA5-Land retrieval request")
	fmt.Println()
}
