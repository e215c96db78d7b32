// Package stream serves a Motion-JPEG stream to one HTTP client at a time and
// keeps accepting new clients for the life of the process.
package stream

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the listening socket configuration.
type Endpoint struct {
	Address string // empty means all interfaces
	Port    int
	Backlog int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Listen binds the endpoint with SO_REUSEADDR. A failure here is a setup
// error, not a per-connection one, and should abort startup.
func Listen(e Endpoint) (net.Listener, error) {
	if e.Backlog <= 0 {
		e.Backlog = 5
	}
	ln, err := listen(e)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", e, err)
	}
	return ln, nil
}
