package beacon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockClock advances only when Sleep is called.
type mockClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *mockClock) Now() time.Time { return c.now }

func (c *mockClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// mockSender records send times on the mock clock and fails on chosen calls.
type mockSender struct {
	clock    *mockClock
	failOn   map[int]bool
	calls    int
	sentAt   []time.Time
	payloads [][]byte
}

func (s *mockSender) Send(payload []byte) error {
	s.calls++
	s.sentAt = append(s.sentAt, s.clock.now)
	if s.failOn[s.calls] {
		return errors.New("network is unreachable")
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func newTestAnnouncer(clock *mockClock, sender Sender, opts Options) *Announcer {
	if opts.LocalAddress == nil {
		opts.LocalAddress = func() string { return "192.168.1.20" }
	}
	return NewAnnouncer(opts, sender, clock, nil, zerolog.Nop())
}

func TestAnnounce_BoundedAttemptsAndSpacing(t *testing.T) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	sender := &mockSender{clock: clock}

	a := newTestAnnouncer(clock, sender, Options{
		Name:       "cam",
		StreamPort: 8081,
		Attempts:   10,
		Interval:   2000 * time.Millisecond,
	})
	a.Announce(context.Background())

	if sender.calls > 10 {
		t.Fatalf("expected at most 10 send attempts, got %d", sender.calls)
	}
	if sender.calls == 0 {
		t.Fatal("expected at least one send attempt")
	}
	for i := 1; i < len(sender.sentAt); i++ {
		gap := sender.sentAt[i].Sub(sender.sentAt[i-1])
		if gap < 2000*time.Millisecond {
			t.Errorf("sends %d and %d spaced %v, want >= 2s", i-1, i, gap)
		}
	}
}

func TestAnnounce_FailureDoesNotStopNextAttempt(t *testing.T) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	sender := &mockSender{clock: clock, failOn: map[int]bool{3: true}}

	a := newTestAnnouncer(clock, sender, Options{
		Name:       "cam",
		StreamPort: 8081,
		Attempts:   5,
		Interval:   2 * time.Second,
	})
	a.Announce(context.Background())

	if sender.calls != 5 {
		t.Fatalf("expected 5 send attempts, got %d", sender.calls)
	}
	if len(sender.payloads) != 4 {
		t.Errorf("expected 4 successful payloads, got %d", len(sender.payloads))
	}
}

func TestAnnounce_PayloadCarriesCurrentAddress(t *testing.T) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	sender := &mockSender{clock: clock}

	addrs := []string{"10.0.0.5", "10.0.0.6"}
	call := 0
	a := newTestAnnouncer(clock, sender, Options{
		Name:       "NiclaVision",
		StreamPort: 8081,
		Attempts:   2,
		Interval:   time.Second,
		LocalAddress: func() string {
			ip := addrs[call]
			call++
			return ip
		},
	})
	a.Announce(context.Background())

	if len(sender.payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(sender.payloads))
	}
	for i, p := range sender.payloads {
		msg, err := Parse(p)
		if err != nil {
			t.Fatalf("payload %d invalid: %v", i, err)
		}
		if msg.IP != addrs[i] {
			t.Errorf("payload %d IP: got %s, want %s", i, msg.IP, addrs[i])
		}
		if msg.Port != 8081 || msg.Name != "NiclaVision" {
			t.Errorf("payload %d metadata: got %+v", i, msg)
		}
	}
}

func TestAnnounce_NoAddressCountsAsAttempt(t *testing.T) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	sender := &mockSender{clock: clock}

	a := newTestAnnouncer(clock, sender, Options{
		Attempts:     3,
		Interval:     time.Second,
		LocalAddress: func() string { return "" },
	})
	a.Announce(context.Background())

	if sender.calls != 0 {
		t.Errorf("expected no sends without an address, got %d", sender.calls)
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("expected 2 sleeps between 3 attempts, got %d", len(clock.sleeps))
	}
}

func TestAnnounce_CancelledContextStops(t *testing.T) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	sender := &mockSender{clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAnnouncer(clock, sender, Options{Attempts: 10, Interval: time.Second})
	a.Announce(ctx)

	if sender.calls != 0 {
		t.Errorf("expected no sends after cancellation, got %d", sender.calls)
	}
}

// cancelAfterClock cancels the context once the repeat sleep is requested.
type cancelAfterClock struct {
	mockClock
	repeat time.Duration
	cancel context.CancelFunc
	rounds int
}

func (c *cancelAfterClock) Sleep(ctx context.Context, d time.Duration) error {
	if d == c.repeat {
		c.rounds++
		if c.rounds == 2 {
			c.cancel()
			return context.Canceled
		}
	}
	return c.mockClock.Sleep(ctx, d)
}

func TestAnnounce_RepeatEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &cancelAfterClock{
		mockClock: mockClock{now: time.Unix(1000, 0)},
		repeat:    time.Hour,
		cancel:    cancel,
	}
	sender := &mockSender{clock: &clock.mockClock}

	a := NewAnnouncer(Options{
		Attempts:     2,
		Interval:     time.Second,
		RepeatEvery:  time.Hour,
		LocalAddress: func() string { return "10.0.0.2" },
	}, sender, clock, nil, zerolog.Nop())
	a.Announce(ctx)

	if sender.calls != 4 {
		t.Errorf("expected two rounds of 2 sends, got %d", sender.calls)
	}
}

func TestUDPSender_Loopback(t *testing.T) {
	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()

	port := recv.LocalAddr().(*net.UDPAddr).Port
	sender, err := NewUDPSender("127.0.0.1", port, zerolog.Nop())
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer sender.Close()

	want, _ := NewMessage("cam", "127.0.0.1", 8081).Marshal()
	if err := sender.Send(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := recv.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	buf := make([]byte, 1024)
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Errorf("received %s, want %s", buf[:n], want)
	}
}
