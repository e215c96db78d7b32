// Package edit opens the mjpegcast configuration in the user's editor.
package edit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[camera]
  name         = ""          # defaults to the hostname
  advertise_ip = ""          # defaults to the first IPv4 address of interface
  interface    = ""

[stream]
  address  = "0.0.0.0"
  port     = 8081
  backlog  = 5
  timeout  = "5s"
  source   = "pattern"       # "pattern" or "dir"
  source_dir = ""
  quality  = 35
  max_fps  = 0.0

[beacon]
  enabled           = true
  broadcast_address = "255.255.255.255"   # or "auto" for the subnet broadcast
  port              = 19999
  attempts          = 10
  interval          = "2s"
  repeat_every      = ""

[node]
  db_path       = "/var/lib/mjpegcast/sessions.db"
  rpc_socket    = "/run/mjpegcast/status.sock"
  metrics_addr  = ""
  history_limit = 100
  network_poll  = "1s"
  log_level     = "info"

[watch]
  db_path         = "/var/lib/mjpegcast/cameras.db"
  rpc_socket      = "/run/mjpegcast/watch.sock"
  stale_threshold = "90s"
`

// Run opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func Run(path string) error {
	if err := ensureConfig(path); err != nil {
		return err
	}

	editor := findEditor()
	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func ensureConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

func findEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e
		}
	}
	return ""
}
