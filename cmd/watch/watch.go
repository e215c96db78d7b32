// Package watch implements the mjpegcast watch command, which records cameras
// announcing themselves on the discovery port.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mjpegcast/internal/listener"
	"mjpegcast/internal/metrics"
	"mjpegcast/internal/rpc"
	"mjpegcast/internal/store"
	"mjpegcast/pkg/config"
	"mjpegcast/pkg/logger"
)

// Run starts the beacon watcher (listener + RPC + expiry).
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	staleThreshold, err := cfg.Watch.ParseStaleThreshold()
	if err != nil {
		return fmt.Errorf("parsing stale threshold: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.Watch.DBPath), filepath.Dir(cfg.Watch.RPCSocket)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := store.New(cfg.Watch.DBPath, cfg.Node.HistoryLimit, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	if cfg.Node.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Node.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	db.RunExpiry(ctx, 5*time.Second, staleThreshold)

	if err := rpc.StartServer(ctx, cfg.Watch.RPCSocket, rpc.NewService(nil, db, log), log); err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}

	l, err := listener.Listen(cfg.Beacon.Port, db, m, log)
	if err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}

	log.Info().
		Str("db_path", cfg.Watch.DBPath).
		Int("port", cfg.Beacon.Port).
		Dur("stale_threshold", staleThreshold).
		Msg("Watching for camera beacons")

	if err := l.Run(ctx); err != nil {
		return fmt.Errorf("listener: %w", err)
	}

	log.Info().Msg("Shutting down")
	return nil
}
