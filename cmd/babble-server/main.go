package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/Blackjack1937/Babble/internal/config"
	"github.com/Blackjack1937/Babble/internal/logging"
	"github.com/Blackjack1937/Babble/internal/metrics"
	"github.com/Blackjack1937/Babble/internal/monitoring"
	"github.com/Blackjack1937/Babble/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "babble-server: %v\n", err)
		return 1
	}

	// CLI flags override the environment, matching the original command
	// line: -p <port> and -r to activate random delays.
	port := flag.Int("p", cfg.Port, "port to listen on")
	randomDelay := flag.Bool("r", cfg.RandomDelay, "activate random delays for stress testing")
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		return 1
	}
	cfg.Port = *port
	cfg.RandomDelay = *randomDelay
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "babble-server: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewRegistry()

	srv := server.New(cfg, logger, m)
	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var monitor *monitoring.SystemMonitor
	if cfg.MetricsAddr != "" {
		monitor = monitoring.New(logger, m, cfg.MonitorInterval)
		monitor.Start(ctx)
		go runMetricsServer(ctx, cfg.MetricsAddr, srv, m, logger)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		return 1
	}
	if monitor != nil {
		monitor.Stop()
	}
	return 0
}

func runMetricsServer(ctx context.Context, addr string, srv *server.Server, m *metrics.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"clients":   srv.Registry().Len(),
		})
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}
}
