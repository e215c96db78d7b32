// Package status implements the mjpegcast status CLI, which queries a running
// serve or watch process over its RPC socket.
package status

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mjpegcast/internal/rpc"
	"mjpegcast/internal/store"
	"mjpegcast/pkg/config"
)

// Run prints stream state, recent sessions and discovered cameras.
func Run(configPath string, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "query the watch process instead of serve")
	limit := fs.Int("limit", 10, "number of recent sessions to show")
	all := fs.Bool("all", false, "include inactive cameras")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	socket := cfg.Node.RPCSocket
	process := "serve"
	if *watch {
		socket = cfg.Watch.RPCSocket
		process = "watch"
	}

	client, err := rpc.NewClient(socket)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs 'mjpegcast %s' running?", err, process)
	}
	defer client.Close()

	out := os.Stdout

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	displayStatus(out, st, time.Now())

	sessions, err := client.Sessions(*limit)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}
	if len(sessions) > 0 {
		fmt.Fprintf(out, "\n  Recent Sessions (%d)\n\n", len(sessions))
		displaySessionTable(out, sessions)
	}

	cams, err := client.Cameras(!*all)
	if err != nil {
		return fmt.Errorf("fetching cameras: %w", err)
	}
	if len(cams) > 0 {
		fmt.Fprintf(out, "\n  Cameras (%d found)\n\n", len(cams))
		displayCameraTable(out, cams)
	} else if *watch {
		fmt.Fprintln(out, "\n  No cameras discovered yet.")
	}
	fmt.Fprintln(out)
	return nil
}

func displayStatus(w io.Writer, st *rpc.StatusReply, now time.Time) {
	if !st.Streaming {
		fmt.Fprintln(w, "\n  Not streaming (watch mode)")
		return
	}
	s := st.Stream
	fmt.Fprintf(w, "\n  Listening on %s, up %s\n", s.Listening, s.Uptime.Truncate(time.Second))
	fmt.Fprintf(w, "  %d sessions, %d frames, %s sent\n", s.Sessions, s.Frames, humanBytes(s.Bytes))
	if s.Current == nil {
		fmt.Fprintln(w, "  Idle, waiting for a client")
		return
	}
	fmt.Fprintf(w, "  Streaming to %s for %s (%d frames, %s)\n",
		s.Current.Peer,
		now.Sub(s.Current.Started).Truncate(time.Second),
		s.Current.Frames,
		humanBytes(s.Current.Bytes))
}

func displaySessionTable(w io.Writer, sessions []store.SessionRecord) {
	fmt.Fprintf(w, "  %-21s %-8s %-10s %-8s %-10s %-14s\n",
		"Peer", "Started", "Duration", "Frames", "Sent", "Reason")
	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		strings.Repeat("─", 21),
		strings.Repeat("─", 8),
		strings.Repeat("─", 10),
		strings.Repeat("─", 8),
		strings.Repeat("─", 10),
		strings.Repeat("─", 14))

	for _, r := range sessions {
		fmt.Fprintf(w, "  %-21s %-8s %-10s %-8d %-10s %-14s\n",
			truncate(r.Peer, 21),
			r.Started.Format("15:04:05"),
			r.Duration().Truncate(time.Millisecond),
			r.Frames,
			humanBytes(r.Bytes),
			r.Reason,
		)
	}
}

func displayCameraTable(w io.Writer, cams []store.CameraRecord) {
	fmt.Fprintf(w, "  %-4s %-20s %-32s %-10s %-7s %-6s\n",
		"#", "Name", "Stream URL", "Last Seen", "Count", "Active")
	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 20),
		strings.Repeat("─", 32),
		strings.Repeat("─", 10),
		strings.Repeat("─", 7),
		strings.Repeat("─", 6))

	for i, c := range cams {
		active := "✗"
		if c.Active {
			active = "✓"
		}
		fmt.Fprintf(w, "  %-4d %-20s %-32s %-10s %-7d %-6s\n",
			i+1,
			truncate(c.Beacon.Name, 20),
			truncate(c.Beacon.StreamURL(), 32),
			c.LastSeen.Format("15:04:05"),
			c.BeaconCount,
			active,
		)
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-1]) + "…"
}
