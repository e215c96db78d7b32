// Package rpc provides Unix socket IPC between a running mjpegcast process and
// the status CLI.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"

	"github.com/rs/zerolog"

	"mjpegcast/internal/store"
	"mjpegcast/internal/stream"
)

// StatusProvider reports live stream state. It is nil when only watching.
type StatusProvider interface {
	Status() stream.Status
}

// Service is the RPC service exposed by serve and watch.
type Service struct {
	status StatusProvider
	store  *store.Store
	log    zerolog.Logger
}

// NewService builds the service. status and db may be nil; a nil db answers
// history queries with empty results.
func NewService(status StatusProvider, db *store.Store, log zerolog.Logger) *Service {
	return &Service{status: status, store: db, log: log}
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	Streaming bool
	Stream    stream.Status
}

// SessionsArgs is the request for Sessions.
type SessionsArgs struct {
	Limit int
}

// SessionsReply is the response for Sessions.
type SessionsReply struct {
	Sessions []store.SessionRecord
}

// CamerasArgs is the request for Cameras.
type CamerasArgs struct {
	ActiveOnly bool
}

// CamerasReply is the response for Cameras.
type CamerasReply struct {
	Cameras []store.CameraRecord
}

// Status returns the live stream state, if this process is streaming.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	if s.status == nil {
		return nil
	}
	reply.Streaming = true
	reply.Stream = s.status.Status()
	return nil
}

// Sessions returns recent finished sessions, newest first.
func (s *Service) Sessions(args *SessionsArgs, reply *SessionsReply) error {
	if s.store == nil {
		return nil
	}
	sessions, err := s.store.RecentSessions(args.Limit)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}
	reply.Sessions = sessions
	return nil
}

// Cameras returns cameras recorded by the watcher.
func (s *Service) Cameras(args *CamerasArgs, reply *CamerasReply) error {
	if s.store == nil {
		return nil
	}
	var (
		cams []store.CameraRecord
		err  error
	)
	if args.ActiveOnly {
		cams, err = s.store.ActiveCameras()
	} else {
		cams, err = s.store.Cameras()
	}
	if err != nil {
		return fmt.Errorf("fetching cameras: %w", err)
	}
	reply.Cameras = cams
	return nil
}

// StartServer starts the Unix socket RPC server. It stops and removes the
// socket file when ctx is cancelled.
func StartServer(ctx context.Context, socketPath string, service *Service, log zerolog.Logger) error {
	server := netrpc.NewServer()
	if err := server.RegisterName("Service", service); err != nil {
		return fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	context.AfterFunc(ctx, func() {
		listener.Close()
		os.Remove(socketPath)
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return nil
}

// Client is a client for the mjpegcast RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches live stream state.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Sessions fetches up to limit recent sessions.
func (c *Client) Sessions(limit int) ([]store.SessionRecord, error) {
	reply := &SessionsReply{}
	if err := c.client.Call("Service.Sessions", &SessionsArgs{Limit: limit}, reply); err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

// Cameras fetches discovered cameras.
func (c *Client) Cameras(activeOnly bool) ([]store.CameraRecord, error) {
	reply := &CamerasReply{}
	if err := c.client.Call("Service.Cameras", &CamerasArgs{ActiveOnly: activeOnly}, reply); err != nil {
		return nil, err
	}
	return reply.Cameras, nil
}
