package netinfo

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"
)

func stats() psnet.InterfaceStatList {
	return psnet.InterfaceStatList{
		{
			Name:  "lo",
			Flags: []string{"up", "loopback"},
			Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}},
		},
		{
			Name:  "eth0",
			Flags: []string{"broadcast", "multicast"},
			Addrs: psnet.InterfaceAddrList{{Addr: "10.1.1.5/24"}},
		},
		{
			Name:  "wlan0",
			Flags: []string{"up", "broadcast", "multicast"},
			Addrs: psnet.InterfaceAddrList{
				{Addr: "fe80::1/64"},
				{Addr: "169.254.3.3/16"},
				{Addr: "192.168.86.47/24"},
			},
		},
	}
}

func TestSelectAddress_SkipsLoopbackDownAndLinkLocal(t *testing.T) {
	ip, ipNet := SelectAddress(stats(), "")
	if ip == nil {
		t.Fatal("expected an address")
	}
	if ip.String() != "192.168.86.47" {
		t.Errorf("ip: got %s, want 192.168.86.47", ip)
	}
	if ipNet.String() != "192.168.86.0/24" {
		t.Errorf("network: got %s, want 192.168.86.0/24", ipNet)
	}
}

func TestSelectAddress_NamedInterface(t *testing.T) {
	ip, _ := SelectAddress(stats(), "lo")
	if ip == nil || ip.String() != "127.0.0.1" {
		t.Errorf("named loopback: got %v, want 127.0.0.1", ip)
	}
	if ip, _ := SelectAddress(stats(), "eth0"); ip != nil {
		t.Errorf("down interface should not be selected, got %s", ip)
	}
}

func TestInterfaces_ReadyAndAddresses(t *testing.T) {
	i := &Interfaces{list: func() (psnet.InterfaceStatList, error) { return stats(), nil }}
	if !i.Ready() {
		t.Fatal("expected ready")
	}
	if got := i.LocalAddress(); got != "192.168.86.47" {
		t.Errorf("LocalAddress: got %s", got)
	}
	if got := i.BroadcastAddress(); got != "192.168.86.255" {
		t.Errorf("BroadcastAddress: got %s", got)
	}

	failing := &Interfaces{list: func() (psnet.InterfaceStatList, error) { return nil, errors.New("boom") }}
	if failing.Ready() {
		t.Error("expected not ready when listing fails")
	}
}

func TestBroadcastIP(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.51.240.0/23")
	if got := BroadcastIP(n).String(); got != "10.51.241.255" {
		t.Errorf("got %s, want 10.51.241.255", got)
	}
}

type fakeNetwork struct {
	readyAfter int
	calls      int
}

func (f *fakeNetwork) Ready() bool {
	f.calls++
	return f.calls > f.readyAfter
}

func (f *fakeNetwork) LocalAddress() string { return "10.0.0.2" }

func TestWaitReady_Polls(t *testing.T) {
	n := &fakeNetwork{readyAfter: 2}
	if err := WaitReady(context.Background(), n, 5*time.Millisecond, zerolog.Nop()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n.calls != 3 {
		t.Errorf("Ready calls: got %d, want 3", n.calls)
	}
}

func TestWaitReady_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n := &fakeNetwork{readyAfter: 1 << 30}
	if err := WaitReady(ctx, n, 5*time.Millisecond, zerolog.Nop()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOverride(t *testing.T) {
	o := Override{Network: &fakeNetwork{}, Address: "172.16.0.9"}
	if o.LocalAddress() != "172.16.0.9" {
		t.Errorf("override address: got %s", o.LocalAddress())
	}
	if !o.Ready() {
		t.Error("override should delegate readiness")
	}
}

func TestHostname(t *testing.T) {
	if Hostname() == "" {
		t.Error("Hostname is empty")
	}
}
