// mjpegcast: MJPEG-over-HTTP camera stream with UDP discovery beacon
//
// Usage:
//
//	mjpegcast serve: announce the camera and stream frames to one client at a time
//	mjpegcast watch: record cameras announcing themselves on the LAN
//	mjpegcast status: show the state of a running serve or watch process
package main

import (
	"fmt"
	"os"

	"mjpegcast/cmd/edit"
	"mjpegcast/cmd/serve"
	"mjpegcast/cmd/status"
	"mjpegcast/cmd/watch"
)

const (
	defaultSystemPath = "/etc/mjpegcast/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "serve":
		err = serve.Run(configPath)
	case "watch":
		err = watch.Run(configPath)
	case "status":
		err = status.Run(configPath, args[1:])
	case "edit":
		err = edit.Run(configPath)
	case "version":
		fmt.Printf("mjpegcast v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`mjpegcast v%s — MJPEG stream server with LAN discovery beacon

Usage:
  mjpegcast <command> [--config <path>]

Commands:
  serve    Announce the camera and serve the MJPEG stream
  watch    Listen for camera beacons and record them
  status   Show stream state, recent sessions and cameras
           [--watch] [--limit N] [--all]
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  mjpegcast serve                       # Stream with default config
  mjpegcast status                      # Inspect the running stream
  mjpegcast status --watch --all        # List every camera the watcher has seen
  mjpegcast edit                        # Edit configuration

`, version, defaultSystemPath)
}
