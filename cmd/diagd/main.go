// diagd runs the diagnostic engine as a standalone daemon with its HTTP
// control surface and metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/diag"
	"github.com/GoCodeAlone/diag/api"
	"github.com/GoCodeAlone/diag/config"
	"github.com/GoCodeAlone/diag/logging"
)

var (
	configFile   = flag.String("config", "", "Path to configuration YAML file")
	addr         = flag.String("addr", "", "HTTP listen address (overrides config)")
	rawLogPath   = flag.String("raw-log", "", "Path for the raw fault sink (default stderr)")
	healthyAfter = flag.Duration("healthy-after", 10*time.Second, "Delay before this launch is marked successful")
)

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger, levelVar := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	raw := logging.NewRawSink(nil)
	if *rawLogPath != "" {
		f, err := os.OpenFile(*rawLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("Failed to open raw log: %v", err)
		}
		defer f.Close()
		raw = logging.NewRawSink(f)
	}

	engine, err := diag.New(cfg, logger, raw)
	if err != nil {
		log.Fatalf("Failed to construct engine: %v", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// A launch that stays up long enough counts as successful.
	healthyTimer := time.AfterFunc(*healthyAfter, func() {
		if err := engine.MarkHealthy(context.Background()); err != nil {
			logger.Error("mark launch successful", "error", err)
		}
	})
	defer healthyTimer.Stop()

	// Live reload: only the log level changes without a restart.
	if *configFile != "" {
		watcher := config.NewWatcher(*configFile, func(next *config.Config) {
			levelVar.Set(logging.ParseLevel(next.LogLevel))
		}, config.WithWatchLogger(logger))
		if err := watcher.Start(); err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	api.NewHandler(engine, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", engine.Metrics.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP control surface listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
}
