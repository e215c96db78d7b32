// Package listener receives discovery beacons on the local segment and records
// the cameras that announce themselves.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"mjpegcast/internal/beacon"
	"mjpegcast/internal/metrics"
	"mjpegcast/internal/store"
)

const (
	maxPacketSize    = 4096
	maxPacketsPerMin = 5
)

// CameraStore is the subset of the store the listener writes to.
type CameraStore interface {
	UpsertCamera(msg beacon.Message, source string) (bool, error)
}

var _ CameraStore = (*store.Store)(nil)

// rateTracker tracks per-source-IP packet counts for rate limiting.
type rateTracker struct {
	counts    map[string]int
	resetTime time.Time
}

func newRateTracker(now time.Time) *rateTracker {
	return &rateTracker{
		counts:    make(map[string]int),
		resetTime: now.Add(time.Minute),
	}
}

// allow counts a packet from srcIP and reports whether it is within the limit.
func (r *rateTracker) allow(srcIP string, now time.Time) bool {
	if now.After(r.resetTime) {
		r.counts = make(map[string]int)
		r.resetTime = now.Add(time.Minute)
	}
	r.counts[srcIP]++
	return r.counts[srcIP] <= maxPacketsPerMin
}

// Listener decodes beacons from a UDP socket.
type Listener struct {
	conn    net.PacketConn
	db      CameraStore
	metrics *metrics.Metrics
	log     zerolog.Logger
	tracker *rateTracker
}

// Listen binds the discovery port on all interfaces.
func Listen(port int, db CameraStore, m *metrics.Metrics, log zerolog.Logger) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listening on UDP port %d: %w", port, err)
	}
	if err := conn.SetReadBuffer(maxPacketSize * 10); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}
	return New(conn, db, m, log), nil
}

// New wraps an existing packet connection.
func New(conn net.PacketConn, db CameraStore, m *metrics.Metrics, log zerolog.Logger) *Listener {
	return &Listener{
		conn:    conn,
		db:      db,
		metrics: m,
		log:     log.With().Str("component", "listener").Logger(),
		tracker: newRateTracker(time.Now()),
	}
}

// Addr returns the local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run processes packets until ctx is cancelled. The socket is closed on return.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	l.log.Info().Str("addr", l.conn.LocalAddr().String()).Msg("Listener started, waiting for beacons")

	buf := make([]byte, maxPacketSize)
	for {
		n, src, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		srcIP := src.String()
		if udp, ok := src.(*net.UDPAddr); ok {
			srcIP = udp.IP.String()
		}
		if !l.tracker.allow(srcIP, time.Now()) {
			l.log.Warn().Str("src_ip", srcIP).Msg("Rate limit exceeded, dropping packet")
			continue
		}

		l.handlePacket(buf[:n], src.String())
	}
}

func (l *Listener) handlePacket(packet []byte, src string) {
	l.log.Debug().
		Str("src", src).
		Int("payload_bytes", len(packet)).
		Msg("Packet received")

	msg, err := beacon.Parse(packet)
	if err != nil {
		l.log.Warn().Err(err).Str("src", src).Msg("Discarding packet")
		return
	}
	l.metrics.BeaconReceived()

	fresh, err := l.db.UpsertCamera(msg, src)
	if err != nil {
		l.log.Error().Err(err).Str("src", src).Msg("Database write error")
		return
	}
	if fresh {
		l.log.Info().
			Str("name", msg.Name).
			Str("url", msg.StreamURL()).
			Msg("Camera discovered")
	}
}
