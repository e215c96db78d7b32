package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mjpegcast/internal/frame"
	"mjpegcast/internal/metrics"
	"mjpegcast/internal/mjpeg"
	"mjpegcast/internal/store"
)

const requestBufferSize = 1024

// ErrNoRequest means the client connected but sent nothing before the timeout.
var ErrNoRequest = errors.New("no request received")

// Session end reasons.
const (
	ReasonClientClosed = "client_closed"
	ReasonTimeout      = "timeout"
	ReasonNoRequest    = "no_request"
	ReasonReadError    = "read_error"
	ReasonWriteError   = "write_error"
	ReasonFrameError   = "frame_error"
	ReasonShutdown     = "shutdown"
	ReasonPanic        = "panic"
)

// Recorder persists finished sessions.
type Recorder interface {
	RecordSession(store.SessionRecord) error
}

// Options tunes a Server.
type Options struct {
	// Timeout bounds every read and write on a client connection.
	Timeout time.Duration
}

// Server owns the listening socket and streams frames to one client at a time.
type Server struct {
	ln       net.Listener
	source   frame.Source
	timeout  time.Duration
	recorder Recorder
	metrics  *metrics.Metrics
	log      zerolog.Logger
	started  time.Time

	mu      sync.Mutex
	current *Session

	sessions atomic.Uint64
	frames   atomic.Uint64
	bytes    atomic.Uint64
}

// NewServer creates a Server on an already bound listener. recorder and m may be nil.
func NewServer(ln net.Listener, source frame.Source, opts Options, recorder Recorder, m *metrics.Metrics, log zerolog.Logger) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Server{
		ln:       ln,
		source:   source,
		timeout:  opts.Timeout,
		recorder: recorder,
		metrics:  m,
		log:      log.With().Str("component", "stream").Logger(),
		started:  time.Now(),
	}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Session is the state of one connected client.
type Session struct {
	ID      string
	Peer    string
	Started time.Time

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// SessionInfo is a point-in-time copy of a Session.
type SessionInfo struct {
	ID      string
	Peer    string
	Started time.Time
	Frames  uint64
	Bytes   uint64
}

func (sess *Session) info() SessionInfo {
	return SessionInfo{
		ID:      sess.ID,
		Peer:    sess.Peer,
		Started: sess.Started,
		Frames:  sess.frames.Load(),
		Bytes:   sess.bytes.Load(),
	}
}

// Status summarises the server for the status RPC.
type Status struct {
	Listening string
	Uptime    time.Duration
	Current   *SessionInfo
	Sessions  uint64
	Frames    uint64
	Bytes     uint64
}

// Status returns a snapshot of the server state.
func (s *Server) Status() Status {
	st := Status{
		Listening: s.ln.Addr().String(),
		Uptime:    time.Since(s.started),
		Sessions:  s.sessions.Load(),
		Frames:    s.frames.Load(),
		Bytes:     s.bytes.Load(),
	}
	s.mu.Lock()
	if s.current != nil {
		info := s.current.info()
		st.Current = &info
	}
	s.mu.Unlock()
	return st
}

// sessionError records which step of the session failed.
type sessionError struct {
	stage string
	err   error
}

func (e *sessionError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// ServeConn runs one streaming session to completion. It always closes conn
// and returns the error that ended the session; a session only ends on error.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) (err error) {
	sess := &Session{
		ID:      uuid.NewString(),
		Peer:    conn.RemoteAddr().String(),
		Started: time.Now(),
	}
	s.begin(sess)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		if r := recover(); r != nil {
			err = &sessionError{stage: "panic", err: fmt.Errorf("%v", r)}
			s.log.Error().
				Str("session", sess.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Session panicked")
		}
		conn.Close()
		s.end(ctx, sess, err)
	}()

	if err := s.readRequest(conn); err != nil {
		return &sessionError{stage: "read", err: err}
	}

	out := &deadlineWriter{conn: conn, timeout: s.timeout}
	if _, err := out.Write(mjpeg.ResponseHeader()); err != nil {
		return &sessionError{stage: "write", err: err}
	}

	for {
		data, err := s.source.Acquire(ctx)
		if err != nil {
			return &sessionError{stage: "frame", err: err}
		}

		n, err := mjpeg.WritePart(out, data)
		if err != nil {
			return &sessionError{stage: "write", err: err}
		}

		wire := uint64(n)
		sess.frames.Add(1)
		sess.bytes.Add(wire)
		s.frames.Add(1)
		s.bytes.Add(wire)
		s.metrics.FrameSent(len(data), int(wire))
	}
}

// readRequest waits for the client's request. Its content is not inspected;
// any bytes at all are enough to start streaming.
func (s *Server) readRequest(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	buf := make([]byte, requestBufferSize)
	n, err := conn.Read(buf)
	if n > 0 {
		s.log.Debug().Int("bytes", n).Msg("Request received")
		return nil
	}
	if err == nil || isTimeout(err) {
		return ErrNoRequest
	}
	return err
}

// deadlineWriter refreshes the connection's write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(b []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(b)
}

func (s *Server) begin(sess *Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.sessions.Add(1)
	s.metrics.SessionStarted()
	s.log.Info().Str("session", sess.ID).Str("peer", sess.Peer).Msg("Client connected")
}

func (s *Server) end(ctx context.Context, sess *Session, err error) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	reason := Classify(ctx, err)
	s.metrics.SessionEnded(reason)

	info := sess.info()
	record := store.SessionRecord{
		ID:      info.ID,
		Peer:    info.Peer,
		Started: info.Started,
		Ended:   time.Now(),
		Frames:  info.Frames,
		Bytes:   info.Bytes,
		Reason:  reason,
	}
	if err != nil {
		record.Error = err.Error()
	}

	var ev *zerolog.Event
	switch reason {
	case ReasonClientClosed, ReasonShutdown:
		ev = s.log.Info()
	default:
		ev = s.log.Warn().Err(err)
	}
	ev.Str("session", info.ID).
		Str("peer", info.Peer).
		Str("reason", reason).
		Uint64("frames", info.Frames).
		Uint64("bytes", info.Bytes).
		Dur("duration", record.Duration()).
		Msg("Client disconnected")

	if s.recorder != nil {
		if rerr := s.recorder.RecordSession(record); rerr != nil {
			s.log.Error().Err(rerr).Str("session", info.ID).Msg("Failed to record session")
		}
	}
}

// Classify maps the error that ended a session to a short reason.
func Classify(ctx context.Context, err error) string {
	if ctx != nil && ctx.Err() != nil {
		return ReasonShutdown
	}

	var se *sessionError
	stage := ""
	if errors.As(err, &se) {
		stage = se.stage
	}

	switch {
	case stage == "panic":
		return ReasonPanic
	case stage == "frame":
		return ReasonFrameError
	case errors.Is(err, ErrNoRequest):
		return ReasonNoRequest
	case isTimeout(err):
		return ReasonTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return ReasonClientClosed
	case stage == "read":
		return ReasonReadError
	default:
		return ReasonWriteError
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
