package stream

import (
	"context"
	"errors"
	"net"
)

// Run accepts clients one at a time and streams to each until its session
// ends, then goes back to accepting. Per-connection and accept errors are
// logged and retried immediately; only shutdown ends the loop. Clients that
// connect while a session is active wait in the listen backlog.
//
// Run returns nil when ctx is cancelled and net.ErrClosed if the listener was
// closed out from under it. The listener is closed on return.
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer s.ln.Close()

	s.log.Info().Str("addr", s.ln.Addr().String()).Msg("Waiting for connections")

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.metrics.AcceptFailed()
			s.log.Warn().Err(err).Msg("Accept failed")
			continue
		}

		// The error is already logged and recorded by the session itself.
		_ = s.ServeConn(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
	}
}
