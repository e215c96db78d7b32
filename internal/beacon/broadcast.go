package beacon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"mjpegcast/internal/metrics"
)

// Clock abstracts time so the announce schedule can be tested without waiting.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Sender delivers one beacon datagram.
type Sender interface {
	Send(payload []byte) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d or ctx cancellation.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options configures an Announcer.
type Options struct {
	Name        string
	StreamPort  int
	Attempts    int
	Interval    time.Duration
	RepeatEvery time.Duration
	// LocalAddress returns the address to advertise; it is re-read on every attempt.
	LocalAddress func() string
}

// Announcer broadcasts the stream's presence a bounded number of times.
type Announcer struct {
	opts    Options
	sender  Sender
	clock   Clock
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewAnnouncer creates an Announcer. A nil clock means the system clock.
func NewAnnouncer(opts Options, sender Sender, clock Clock, m *metrics.Metrics, log zerolog.Logger) *Announcer {
	if opts.Attempts <= 0 {
		opts.Attempts = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Announcer{
		opts:    opts,
		sender:  sender,
		clock:   clock,
		metrics: m,
		log:     log.With().Str("component", "beacon").Logger(),
	}
}

// Announce runs one bounded round of beacon attempts, then further rounds every
// RepeatEvery if it is set. Failures are logged and never returned.
func (a *Announcer) Announce(ctx context.Context) {
	for {
		sent := a.round(ctx)
		a.log.Info().
			Int("sent", sent).
			Int("attempts", a.opts.Attempts).
			Msg("Beacon round finished")

		if a.opts.RepeatEvery <= 0 {
			return
		}
		if err := a.clock.Sleep(ctx, a.opts.RepeatEvery); err != nil {
			return
		}
	}
}

// round performs up to Attempts attempts and returns how many sends succeeded.
func (a *Announcer) round(ctx context.Context) int {
	var last time.Time
	sent := 0

	for i := 1; i <= a.opts.Attempts; i++ {
		if ctx.Err() != nil {
			return sent
		}

		now := a.clock.Now()
		if last.IsZero() || now.Sub(last) >= a.opts.Interval {
			err := a.attempt()
			a.metrics.BeaconSent(err)
			if err != nil {
				a.log.Warn().Err(err).Int("attempt", i).Msg("Failed to send beacon")
			} else {
				sent++
				a.log.Debug().Int("attempt", i).Msg("Beacon sent")
			}
			last = a.clock.Now()
		} else {
			a.log.Debug().
				Int("attempt", i).
				Dur("elapsed", now.Sub(last)).
				Msg("Beacon interval not reached, waiting")
		}

		if i < a.opts.Attempts {
			if err := a.clock.Sleep(ctx, a.opts.Interval); err != nil {
				return sent
			}
		}
	}
	return sent
}

func (a *Announcer) attempt() error {
	ip := ""
	if a.opts.LocalAddress != nil {
		ip = a.opts.LocalAddress()
	}
	if ip == "" {
		return errors.New("no local address to advertise")
	}

	data, err := NewMessage(a.opts.Name, ip, a.opts.StreamPort).Marshal()
	if err != nil {
		return err
	}
	return a.sender.Send(data)
}

// UDPSender sends datagrams to a fixed broadcast target.
type UDPSender struct {
	conn   *net.UDPConn
	target *net.UDPAddr
}

// NewUDPSender opens an ephemeral UDP socket aimed at broadcastAddress:port.
func NewUDPSender(broadcastAddress string, port int, log zerolog.Logger) (*UDPSender, error) {
	target, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", broadcastAddress, port))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}

	// SO_BROADCAST is set by the runtime on every UDP socket.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("listening for UDP: %w", err)
	}

	// Keep announcements on the local segment.
	if err := ipv4.NewPacketConn(conn).SetTTL(1); err != nil {
		log.Warn().Err(err).Msg("Failed to set beacon TTL")
	}

	return &UDPSender{conn: conn, target: target}, nil
}

// Send writes payload to the broadcast target.
func (s *UDPSender) Send(payload []byte) error {
	if _, err := s.conn.WriteToUDP(payload, s.target); err != nil {
		return fmt.Errorf("writing packet to %s: %w", s.target, err)
	}
	return nil
}

// Target returns the broadcast destination.
func (s *UDPSender) Target() *net.UDPAddr { return s.target }

// Close releases the socket.
func (s *UDPSender) Close() error {
	return s.conn.Close()
}
