package config

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
[camera]
  name = "NiclaVision"
  advertise_ip = "192.168.86.47"

[stream]
  address = "0.0.0.0"
  port = 9090
  timeout = "3s"
  source = "dir"
  source_dir = "/tmp/frames"
  quality = 50
  max_fps = 12.5

[beacon]
  enabled = false
  broadcast_address = "192.168.86.255"
  attempts = 3
  interval = "500ms"
  repeat_every = "10m"

[node]
  db_path = "/tmp/test.db"
  rpc_socket = "/tmp/test.sock"
  metrics_addr = ":9100"
  log_level = "debug"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Camera.Name != "NiclaVision" {
		t.Errorf("Camera.Name: got %s, want NiclaVision", cfg.Camera.Name)
	}
	if cfg.Stream.Port != 9090 {
		t.Errorf("Stream.Port: got %d, want 9090", cfg.Stream.Port)
	}
	if cfg.Stream.SourceDir != "/tmp/frames" {
		t.Errorf("Stream.SourceDir: got %s, want /tmp/frames", cfg.Stream.SourceDir)
	}
	if cfg.Stream.MaxFPS != 12.5 {
		t.Errorf("Stream.MaxFPS: got %v, want 12.5", cfg.Stream.MaxFPS)
	}
	if cfg.Beacon.IsEnabled() {
		t.Error("Beacon should be disabled")
	}
	if cfg.Beacon.Attempts != 3 {
		t.Errorf("Beacon.Attempts: got %d, want 3", cfg.Beacon.Attempts)
	}
	if cfg.Node.MetricsAddr != ":9100" {
		t.Errorf("Node.MetricsAddr: got %s, want :9100", cfg.Node.MetricsAddr)
	}

	repeat, err := cfg.Beacon.ParseRepeatEvery()
	if err != nil {
		t.Fatalf("parse repeat_every: %v", err)
	}
	if repeat != 10*time.Minute {
		t.Errorf("RepeatEvery: got %v, want 10m", repeat)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfgPath := writeConfig(t, `
[camera]
  name = "cam"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Stream.Port != 8081 {
		t.Errorf("default Stream.Port: got %d, want 8081", cfg.Stream.Port)
	}
	if cfg.Stream.Backlog != 5 {
		t.Errorf("default Stream.Backlog: got %d, want 5", cfg.Stream.Backlog)
	}
	if cfg.Stream.Source != "pattern" {
		t.Errorf("default Stream.Source: got %s, want pattern", cfg.Stream.Source)
	}
	if cfg.Beacon.Port != 19999 {
		t.Errorf("default Beacon.Port: got %d, want 19999", cfg.Beacon.Port)
	}
	if cfg.Beacon.Attempts != 10 {
		t.Errorf("default Beacon.Attempts: got %d, want 10", cfg.Beacon.Attempts)
	}
	if cfg.Beacon.BroadcastAddress != "255.255.255.255" {
		t.Errorf("default Beacon.BroadcastAddress: got %s", cfg.Beacon.BroadcastAddress)
	}
	if !cfg.Beacon.IsEnabled() {
		t.Error("Beacon should default to enabled")
	}
	if cfg.Node.LogLevel != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Node.LogLevel)
	}

	timeout, err := cfg.Stream.ParseTimeout()
	if err != nil || timeout != 5*time.Second {
		t.Errorf("default timeout: got %v (%v), want 5s", timeout, err)
	}
	interval, err := cfg.Beacon.ParseInterval()
	if err != nil || interval != 2*time.Second {
		t.Errorf("default interval: got %v (%v), want 2s", interval, err)
	}
	repeat, err := cfg.Beacon.ParseRepeatEvery()
	if err != nil || repeat != 0 {
		t.Errorf("default repeat_every: got %v (%v), want 0", repeat, err)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	cfgPath := writeConfig(t, "invalid [[[ toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoad_DirSourceRequiresDir(t *testing.T) {
	cfgPath := writeConfig(t, `
[stream]
  source = "dir"
`)

	if _, err := Load(cfgPath); err == nil {
		t.Error("expected error for dir source without source_dir")
	}
}

func TestLoad_UnknownSource(t *testing.T) {
	cfgPath := writeConfig(t, `
[stream]
  source = "webcam"
`)

	if _, err := Load(cfgPath); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestLoad_PortOutOfRange(t *testing.T) {
	cfgPath := writeConfig(t, `
[stream]
  port = 70000
`)

	if _, err := Load(cfgPath); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestParseDuration_Negative(t *testing.T) {
	s := &StreamConfig{Timeout: "-1s"}
	if _, err := s.ParseTimeout(); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	poll, err := cfg.Node.ParseNetworkPoll()
	if err != nil || poll != time.Second {
		t.Errorf("default network poll: got %v (%v), want 1s", poll, err)
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %s", got)
	}
	usr, err := user.Current()
	if err != nil {
		t.Skip("no current user")
	}
	if got := ExpandPath("~/frames"); got != filepath.Join(usr.HomeDir, "frames") {
		t.Errorf("ExpandPath(~/frames): got %s", got)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Stream.Port != 8081 {
		t.Errorf("Stream.Port: got %d, want 8081", cfg.Stream.Port)
	}
	if cfg.Watch.RPCSocket == cfg.Node.RPCSocket {
		t.Error("watch and serve must not share an RPC socket")
	}
}

func TestLoadOrDefault_InvalidFileStillFails(t *testing.T) {
	cfgPath := writeConfig(t, "invalid [[[ toml")
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Error("expected parse error")
	}
}
