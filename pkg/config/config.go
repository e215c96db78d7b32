// Package config provides TOML configuration loading for mjpegcast.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Camera CameraConfig `toml:"camera"`
	Stream StreamConfig `toml:"stream"`
	Beacon BeaconConfig `toml:"beacon"`
	Node   NodeConfig   `toml:"node"`
	Watch  WatchConfig  `toml:"watch"`
}

// CameraConfig describes how the device presents itself on the network.
type CameraConfig struct {
	Name        string `toml:"name"`
	AdvertiseIP string `toml:"advertise_ip"`
	Interface   string `toml:"interface"`
}

// StreamConfig holds settings for the MJPEG stream endpoint and its frame source.
type StreamConfig struct {
	Address   string  `toml:"address"`
	Port      int     `toml:"port"`
	Backlog   int     `toml:"backlog"`
	Timeout   string  `toml:"timeout"`
	Source    string  `toml:"source"`
	SourceDir string  `toml:"source_dir"`
	Quality   int     `toml:"quality"`
	MaxFPS    float64 `toml:"max_fps"`
}

// BeaconConfig holds settings for the UDP discovery beacon.
type BeaconConfig struct {
	Enabled          *bool  `toml:"enabled"`
	BroadcastAddress string `toml:"broadcast_address"`
	Port             int    `toml:"port"`
	Attempts         int    `toml:"attempts"`
	Interval         string `toml:"interval"`
	RepeatEvery      string `toml:"repeat_every"`
}

// NodeConfig holds process-wide settings.
type NodeConfig struct {
	DBPath       string `toml:"db_path"`
	RPCSocket    string `toml:"rpc_socket"`
	MetricsAddr  string `toml:"metrics_addr"`
	HistoryLimit int    `toml:"history_limit"`
	NetworkPoll  string `toml:"network_poll"`
	LogLevel     string `toml:"log_level"`
}

// WatchConfig holds settings for the beacon watcher. It keeps its own database
// and socket so it can run next to serve on the same host.
type WatchConfig struct {
	DBPath         string `toml:"db_path"`
	RPCSocket      string `toml:"rpc_socket"`
	StaleThreshold string `toml:"stale_threshold"`
}

// IsEnabled reports whether the beacon should run. Unset means enabled.
func (b *BeaconConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// ParseInterval parses the spacing between beacon sends.
func (b *BeaconConfig) ParseInterval() (time.Duration, error) {
	return parseDuration(b.Interval, 2*time.Second)
}

// ParseRepeatEvery parses the re-announce period. Zero disables re-announcement.
func (b *BeaconConfig) ParseRepeatEvery() (time.Duration, error) {
	return parseDuration(b.RepeatEvery, 0)
}

// ParseTimeout parses the per-connection read/write timeout.
func (s *StreamConfig) ParseTimeout() (time.Duration, error) {
	return parseDuration(s.Timeout, 5*time.Second)
}

// ParseNetworkPoll parses the network readiness poll interval.
func (n *NodeConfig) ParseNetworkPoll() (time.Duration, error) {
	return parseDuration(n.NetworkPoll, time.Second)
}

// ParseStaleThreshold parses the camera stale threshold.
func (w *WatchConfig) ParseStaleThreshold() (time.Duration, error) {
	return parseDuration(w.StaleThreshold, 90*time.Second)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file does
// not exist, so a device can run without any config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns a configuration with every default applied, used when no
// config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg
}

// Validate checks value ranges that defaults cannot fix.
func (cfg *Config) Validate() error {
	if cfg.Stream.Port < 1 || cfg.Stream.Port > 65535 {
		return fmt.Errorf("stream.port %d out of range", cfg.Stream.Port)
	}
	if cfg.Beacon.Port < 1 || cfg.Beacon.Port > 65535 {
		return fmt.Errorf("beacon.port %d out of range", cfg.Beacon.Port)
	}
	if cfg.Stream.Quality < 1 || cfg.Stream.Quality > 100 {
		return fmt.Errorf("stream.quality %d out of range 1-100", cfg.Stream.Quality)
	}
	switch cfg.Stream.Source {
	case "pattern":
	case "dir":
		if cfg.Stream.SourceDir == "" {
			return fmt.Errorf("stream.source_dir must be set when stream.source = \"dir\"")
		}
	default:
		return fmt.Errorf("unknown stream.source %q (want \"pattern\" or \"dir\")", cfg.Stream.Source)
	}
	if _, err := cfg.Stream.ParseTimeout(); err != nil {
		return fmt.Errorf("stream.timeout: %w", err)
	}
	if _, err := cfg.Beacon.ParseInterval(); err != nil {
		return fmt.Errorf("beacon.interval: %w", err)
	}
	if _, err := cfg.Beacon.ParseRepeatEvery(); err != nil {
		return fmt.Errorf("beacon.repeat_every: %w", err)
	}
	return nil
}

func (cfg *Config) expandPaths() {
	cfg.Stream.SourceDir = ExpandPath(cfg.Stream.SourceDir)
	cfg.Node.DBPath = ExpandPath(cfg.Node.DBPath)
	cfg.Node.RPCSocket = ExpandPath(cfg.Node.RPCSocket)
	cfg.Watch.DBPath = ExpandPath(cfg.Watch.DBPath)
	cfg.Watch.RPCSocket = ExpandPath(cfg.Watch.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Stream defaults
	if cfg.Stream.Port == 0 {
		cfg.Stream.Port = 8081
	}
	if cfg.Stream.Backlog == 0 {
		cfg.Stream.Backlog = 5
	}
	if cfg.Stream.Timeout == "" {
		cfg.Stream.Timeout = "5s"
	}
	if cfg.Stream.Source == "" {
		cfg.Stream.Source = "pattern"
	}
	if cfg.Stream.Quality == 0 {
		cfg.Stream.Quality = 35
	}

	// Beacon defaults
	if cfg.Beacon.BroadcastAddress == "" {
		cfg.Beacon.BroadcastAddress = "255.255.255.255"
	}
	if cfg.Beacon.Port == 0 {
		cfg.Beacon.Port = 19999
	}
	if cfg.Beacon.Attempts == 0 {
		cfg.Beacon.Attempts = 10
	}
	if cfg.Beacon.Interval == "" {
		cfg.Beacon.Interval = "2s"
	}

	// Node defaults
	if cfg.Node.DBPath == "" {
		cfg.Node.DBPath = "/var/lib/mjpegcast/sessions.db"
	}
	if cfg.Node.RPCSocket == "" {
		cfg.Node.RPCSocket = "/run/mjpegcast/status.sock"
	}
	if cfg.Node.HistoryLimit == 0 {
		cfg.Node.HistoryLimit = 100
	}
	if cfg.Node.NetworkPoll == "" {
		cfg.Node.NetworkPoll = "1s"
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}

	// Watch defaults
	if cfg.Watch.DBPath == "" {
		cfg.Watch.DBPath = "/var/lib/mjpegcast/cameras.db"
	}
	if cfg.Watch.RPCSocket == "" {
		cfg.Watch.RPCSocket = "/run/mjpegcast/watch.sock"
	}
	if cfg.Watch.StaleThreshold == "" {
		cfg.Watch.StaleThreshold = "90s"
	}
}
