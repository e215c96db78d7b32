// Package beacon defines the discovery beacon payload and the broadcast logic
// that announces the stream to listeners on the local segment.
package beacon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ServiceTag identifies an MJPEG stream announcement.
	ServiceTag = "mjpeg"
	// ProtocolVersion is the only beacon schema version.
	ProtocolVersion = 1
	// DefaultPort is the UDP port beacons are broadcast to.
	DefaultPort = 19999
	// DefaultPath is the HTTP path the stream is served on.
	DefaultPath = "/"
)

// ErrInvalidMessage is returned by Parse for datagrams that are not stream beacons.
var ErrInvalidMessage = errors.New("invalid beacon message")

// Message is the JSON document broadcast by the camera. Field order is part of
// the wire format.
type Message struct {
	Service string `json:"svc"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Version int    `json:"ver"`
}

// NewMessage builds a beacon for a stream served at ip:port under the default path.
func NewMessage(name, ip string, port int) Message {
	return Message{
		Service: ServiceTag,
		Name:    name,
		IP:      ip,
		Port:    port,
		Path:    DefaultPath,
		Version: ProtocolVersion,
	}
}

// Marshal encodes the message as compact JSON with no trailing newline.
func (m Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding beacon: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// StreamURL returns the http URL a viewer should open.
func (m Message) StreamURL() string {
	return fmt.Sprintf("http://%s:%d%s", m.IP, m.Port, m.Path)
}

// Parse decodes and validates a received beacon datagram.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Service != ServiceTag {
		return Message{}, fmt.Errorf("%w: svc %q", ErrInvalidMessage, m.Service)
	}
	if m.Version != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: unsupported ver %d", ErrInvalidMessage, m.Version)
	}
	if m.IP == "" {
		return Message{}, fmt.Errorf("%w: missing ip", ErrInvalidMessage)
	}
	if m.Port < 1 || m.Port > 65535 {
		return Message{}, fmt.Errorf("%w: port %d", ErrInvalidMessage, m.Port)
	}
	if m.Path == "" {
		m.Path = DefaultPath
	}
	return m, nil
}
