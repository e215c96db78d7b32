// Package netinfo answers the two questions the service asks of the network
// layer: is it up, and what address should be advertised.
package netinfo

import (
	"context"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Network is the bring-up boundary consumed by the service.
type Network interface {
	Ready() bool
	LocalAddress() string
}

// Interfaces reads interface state from the OS on every call.
type Interfaces struct {
	// Name restricts detection to one interface; empty means the first usable one.
	Name string
	list func() (psnet.InterfaceStatList, error)
}

// New returns a Network backed by gopsutil interface stats.
func New(ifaceName string) *Interfaces {
	return &Interfaces{Name: ifaceName, list: psnet.Interfaces}
}

// Ready reports whether a usable IPv4 address is assigned.
func (i *Interfaces) Ready() bool {
	return i.LocalAddress() != ""
}

// LocalAddress returns the IPv4 address of the selected interface, or "".
func (i *Interfaces) LocalAddress() string {
	list, err := i.list()
	if err != nil {
		return ""
	}
	ip, _ := SelectAddress(list, i.Name)
	if ip == nil {
		return ""
	}
	return ip.String()
}

// BroadcastAddress returns the subnet broadcast address of the selected interface.
func (i *Interfaces) BroadcastAddress() string {
	list, err := i.list()
	if err != nil {
		return ""
	}
	_, ipNet := SelectAddress(list, i.Name)
	if ipNet == nil {
		return ""
	}
	return BroadcastIP(ipNet).String()
}

// SelectAddress returns the first IPv4 address on an up, non-loopback interface
// (or on the named interface) together with its network.
func SelectAddress(list psnet.InterfaceStatList, name string) (net.IP, *net.IPNet) {
	for _, iface := range list {
		if name != "" && iface.Name != name {
			continue
		}
		if !hasFlag(iface.Flags, "up") {
			continue
		}
		if name == "" && hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, ipNet, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				continue
			}
			if ip.To4() == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			return ip.To4(), ipNet
		}
	}
	return nil, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// BroadcastIP computes the directed broadcast address of an IPv4 network.
func BroadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	broadcastIP := make(net.IP, len(ip))
	for i := range ip {
		broadcastIP[i] = ip[i] | ^mask[i]
	}
	return broadcastIP
}

// Override advertises a fixed address while readiness still follows the
// underlying network.
type Override struct {
	Network
	Address string
}

// LocalAddress returns the configured address.
func (o Override) LocalAddress() string { return o.Address }

// WaitReady polls n every interval until it is ready or ctx is done.
func WaitReady(ctx context.Context, n Network, interval time.Duration, log zerolog.Logger) error {
	if n.Ready() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		log.Info().Dur("interval", interval).Msg("Waiting for network")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if n.Ready() {
			log.Info().Str("ip", n.LocalAddress()).Msg("Network connected")
			return nil
		}
	}
}

// Hostname returns a name suitable for the beacon when none is configured.
func Hostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	name, _ := os.Hostname()
	return name
}
