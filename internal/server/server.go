package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/protocol"
)

// Config holds socket server configuration
type Config struct {
	SocketPath    string
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
}

func (c *Config) setDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = protocol.DefaultMaxFrameSize
	}
}

// ErrAlreadyRunning means another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("another daemon is listening on the socket")

// Server accepts protocol connections on a unix socket. Each connection is
// served by its own goroutine.
type Server struct {
	handler *Handler
	config  Config
	logger  *slog.Logger

	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(handler *Handler, config Config, logger *slog.Logger) *Server {
	config.setDefaults()
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		handler: handler,
		config:  config,
		logger:  logger.With("component", "server"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket. A leftover socket file is removed only when no
// daemon answers on it.
func (s *Server) Listen() error {
	path := s.config.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
			conn.Close()
			return ErrAlreadyRunning
		}
		s.logger.Info("removing stale socket", "path", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.listener = listener
	s.logger.Info("protocol server listening", "socket", path)
	return nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting, closes open connections and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// serveConn runs the request/response loop of one client.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := s.logger.With("conn", ulid.Make().String())
	logger.Debug("client connected")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout)); err != nil {
			return
		}

		req, err := s.readRequest(conn)
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("client disconnected")
			case errors.As(err, &ne) && ne.Timeout():
				logger.Debug("closing idle connection", "idle_timeout", s.config.IdleTimeout)
			case apperr.Is(err, apperr.CodeProtocolDecode):
				logger.Debug("invalid request", "error", err)
				if !s.write(conn, logger, nil, protocol.ErrorResponse(err)) {
					return
				}
			default:
				logger.Debug("connection read failed", "error", err)
			}
			if protocol.IsFatal(err) {
				// The next frame boundary is unknown; hang up.
				return
			}
			continue
		}

		if !s.write(conn, logger, req, s.dispatch(ctx, logger, req)) {
			return
		}
	}
}

func (s *Server) readRequest(conn net.Conn) (*protocol.Request, error) {
	payload, err := protocol.ReadFrame(conn, s.config.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRequest(payload)
}

// dispatch runs the handler, turning a panic into an INTERNAL response.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling request", "command", req.Command, "panic", r)
			resp = protocol.ErrorResponse(apperr.NewInternal(fmt.Errorf("panic: %v", r)))
		}
	}()
	return s.handler.Handle(ctx, req)
}

func (s *Server) write(conn net.Conn, logger *slog.Logger, req *protocol.Request, resp *protocol.Response) bool {
	offset := 0
	if req != nil {
		offset = req.Offset
	}
	// Error responses are a few hundred bytes and go out even when the
	// frame limit is smaller than that.
	var payload []byte
	if resp.OK {
		var err error
		if payload, err = protocol.EncodeResponse(resp, offset, s.config.MaxFrameBytes); err != nil {
			logger.Warn("response does not fit in one frame", "error", err)
			resp = protocol.ErrorResponse(err)
		}
	}
	if payload == nil {
		var err error
		if payload, err = json.Marshal(resp); err != nil {
			logger.Error("failed to encode response", "error", err)
			return false
		}
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return false
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		logger.Debug("failed to write response", "error", err)
		return false
	}
	return true
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}
