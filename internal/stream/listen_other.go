//go:build !linux

package stream

import "net"

// listen uses the net package defaults. SO_REUSEADDR is already set on unix
// listeners and the backlog follows the OS default.
func listen(e Endpoint) (net.Listener, error) {
	return net.Listen("tcp4", e.String())
}
