// Package serve implements the mjpegcast serve command: discovery beacon plus
// the MJPEG stream supervisor.
package serve

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"mjpegcast/internal/beacon"
	"mjpegcast/internal/frame"
	"mjpegcast/internal/metrics"
	"mjpegcast/internal/netinfo"
	"mjpegcast/internal/rpc"
	"mjpegcast/internal/store"
	"mjpegcast/internal/stream"
	"mjpegcast/pkg/config"
	"mjpegcast/pkg/logger"
)

// Run starts the streaming service and blocks until SIGINT or SIGTERM.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	timeout, err := cfg.Stream.ParseTimeout()
	if err != nil {
		return fmt.Errorf("parsing timeout: %w", err)
	}
	poll, err := cfg.Node.ParseNetworkPoll()
	if err != nil {
		return fmt.Errorf("parsing network poll: %w", err)
	}

	// Session history and the status socket are optional.
	db := openStore(cfg.Node.DBPath, cfg.Node.HistoryLimit, log)
	var recorder stream.Recorder
	if db != nil {
		recorder = db
		defer db.Close()
	}

	source, err := frame.New(frame.Options{
		Kind:    cfg.Stream.Source,
		Dir:     cfg.Stream.SourceDir,
		Quality: cfg.Stream.Quality,
		MaxFPS:  cfg.Stream.MaxFPS,
	})
	if err != nil {
		return fmt.Errorf("creating frame source: %w", err)
	}

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

	ifaces := netinfo.New(cfg.Camera.Interface)
	var network netinfo.Network = ifaces
	if cfg.Camera.AdvertiseIP != "" {
		network = netinfo.Override{Network: ifaces, Address: cfg.Camera.AdvertiseIP}
	}

	if err := netinfo.WaitReady(ctx, network, poll, log); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("waiting for network: %w", err)
	}

	ln, err := stream.Listen(stream.Endpoint{
		Address: cfg.Stream.Address,
		Port:    cfg.Stream.Port,
		Backlog: cfg.Stream.Backlog,
	})
	if err != nil {
		return fmt.Errorf("starting stream server: %w", err)
	}

	srv := stream.NewServer(ln, source, stream.Options{Timeout: timeout}, recorder, m, log)

	startRPC(ctx, cfg.Node.RPCSocket, rpc.NewService(srv, db, log), log)

	if cfg.Beacon.IsEnabled() {
		port := ln.Addr().(*net.TCPAddr).Port
		go announce(ctx, cfg, ifaces, network, port, m, log)
	}

	log.Info().
		Str("ip", network.LocalAddress()).
		Int("port", cfg.Stream.Port).
		Str("source", cfg.Stream.Source).
		Dur("timeout", timeout).
		Msg("Starting MJPEG stream")

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("stream server: %w", err)
	}

	log.Info().Msg("Shutting down")
	return nil
}

// openStore opens the session database, returning nil if it cannot be used.
func openStore(path string, historyLimit int, log zerolog.Logger) *store.Store {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Session history disabled")
		return nil
	}
	db, err := store.New(path, historyLimit, log)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Session history disabled")
		return nil
	}
	return db
}

// startRPC starts the status socket and reports whether it is listening.
func startRPC(ctx context.Context, socketPath string, service *rpc.Service, log zerolog.Logger) bool {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		log.Warn().Err(err).Str("socket", socketPath).Msg("Status socket disabled")
		return false
	}
	if err := rpc.StartServer(ctx, socketPath, service, log); err != nil {
		log.Warn().Err(err).Str("socket", socketPath).Msg("Status socket disabled")
		return false
	}
	return true
}

// announce runs the discovery beacon. Every failure here is logged and
// swallowed; streaming does not depend on it.
func announce(ctx context.Context, cfg *config.Config, ifaces *netinfo.Interfaces, network netinfo.Network, port int, m *metrics.Metrics, log zerolog.Logger) {
	interval, err := cfg.Beacon.ParseInterval()
	if err != nil {
		log.Warn().Err(err).Msg("Beacon disabled: bad interval")
		return
	}
	repeat, err := cfg.Beacon.ParseRepeatEvery()
	if err != nil {
		log.Warn().Err(err).Msg("Beacon disabled: bad repeat_every")
		return
	}

	target := cfg.Beacon.BroadcastAddress
	if target == "auto" {
		target = ifaces.BroadcastAddress()
		if target == "" {
			log.Warn().Msg("Beacon disabled: no subnet broadcast address")
			return
		}
	}

	sender, err := beacon.NewUDPSender(target, cfg.Beacon.Port, log)
	if err != nil {
		log.Warn().Err(err).Msg("Beacon disabled")
		return
	}
	defer sender.Close()

	name := cfg.Camera.Name
	if name == "" {
		name = netinfo.Hostname()
	}

	log.Info().
		Str("target", sender.Target().String()).
		Str("name", name).
		Int("attempts", cfg.Beacon.Attempts).
		Dur("interval", interval).
		Dur("repeat_every", repeat).
		Msg("Beacon started")

	beacon.NewAnnouncer(beacon.Options{
		Name:         name,
		StreamPort:   port,
		Attempts:     cfg.Beacon.Attempts,
		Interval:     interval,
		RepeatEvery:  repeat,
		LocalAddress: network.LocalAddress,
	}, sender, nil, m, log).Announce(ctx)
}
