// Package mjpeg holds the byte-exact multipart/x-mixed-replace framing used by
// the stream endpoint. Nothing here touches a socket.
package mjpeg

import (
	"io"
	"strconv"
)

// Boundary separates successive JPEG parts.
const Boundary = "openmv"

const responseHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=" + Boundary + "\r\n" +
	"Cache-Control: no-cache\r\n" +
	"Pragma: no-cache\r\n" +
	"\r\n"

// ResponseHeader returns the HTTP response sent once per connection before any part.
func ResponseHeader() []byte {
	return []byte(responseHeader)
}

// PartHeader returns the header that precedes a JPEG of n bytes. There is no
// trailing boundary after the body; the next part's leading boundary closes it.
func PartHeader(n int) []byte {
	b := make([]byte, 0, 64)
	b = append(b, "\r\n--"+Boundary+"\r\n"...)
	b = append(b, "Content-Type: image/jpeg\r\n"...)
	b = append(b, "Content-Length:"...)
	b = strconv.AppendInt(b, int64(n), 10)
	b = append(b, "\r\n\r\n"...)
	return b
}

// WritePart writes one frame as a multipart chunk and returns the bytes written.
func WritePart(w io.Writer, frame []byte) (int, error) {
	n, err := w.Write(PartHeader(len(frame)))
	if err != nil {
		return n, err
	}
	m, err := w.Write(frame)
	return n + m, err
}
