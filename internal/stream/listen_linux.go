package stream

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen builds the socket by hand so the backlog can be set; the net package
// always uses somaxconn.
func listen(e Endpoint) (net.Listener, error) {
	sa := &unix.SockaddrInet4{Port: e.Port}
	if e.Address != "" {
		ip := net.ParseIP(e.Address).To4()
		if ip == nil {
			return nil, fmt.Errorf("bind address %q is not an IPv4 address", e.Address)
		}
		copy(sa.Addr[:], ip)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, e.Backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// FileListener dups the descriptor, so the original is closed either way.
	f := os.NewFile(uintptr(fd), "mjpegcast-listener")
	defer f.Close()
	return net.FileListener(f)
}
