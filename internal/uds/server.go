package uds

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanveloso/landale-sub014/internal/observability"
)

const (
	defaultIOTimeout      = 30 * time.Second
	defaultCommandTimeout = 5 * time.Second
)

// HandlerFunc serves one control command. ctx expires after the server's
// command timeout and when the server stops. The result is sent back as the
// response data; an error is sent back with the code CodeFor assigns it.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Server answers one request per connection on a unix socket. Handlers must
// be registered before Start.
type Server struct {
	path           string
	ln             net.Listener
	handlers       map[string]HandlerFunc
	ioTimeout      time.Duration
	commandTimeout time.Duration
	conns          sync.WaitGroup
	ctx            context.Context
	stop           context.CancelFunc
	logger         zerolog.Logger
}

func NewServer(socketPath string, logger zerolog.Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		path:           socketPath,
		handlers:       make(map[string]HandlerFunc),
		ioTimeout:      defaultIOTimeout,
		commandTimeout: defaultCommandTimeout,
		ctx:            ctx,
		stop:           stop,
		logger:         logger.With().Str("component", "control").Str("socket", socketPath).Logger(),
	}
}

// SetTimeouts bounds how long a client may take to send its request and read
// the reply (io), and how long a handler may run (command). Zero keeps the
// current value.
func (s *Server) SetTimeouts(io, command time.Duration) {
	if io > 0 {
		s.ioTimeout = io
	}
	if command > 0 {
		s.commandTimeout = command
	}
}

func (s *Server) Handle(command string, h HandlerFunc) {
	s.handlers[command] = h
}

// Start replaces any stale socket file, listens with owner-only permissions
// and serves connections until Stop.
func (s *Server) Start() error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.ln = ln

	s.conns.Add(1)
	go s.serve()
	s.logger.Debug().Int("commands", len(s.handlers)).Msg("control socket listening")
	return nil
}

// Stop cancels running handlers, waits for open connections and removes the
// socket file.
func (s *Server) Stop() error {
	s.stop()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.conns.Wait()
	_ = os.Remove(s.path)
	return nil
}

func (s *Server) serve() {
	defer s.conns.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Debug().Err(err).Msg("unreadable request")
		return
	}
	if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
		s.logger.Debug().Err(err).Str("command", req.Command).Msg("reply not delivered")
	}
}

// dispatch never fails: protocol problems, handler errors and handler panics
// all become error responses.
func (s *Server) dispatch(req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion))
	}
	h, ok := s.handlers[req.Command]
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("command", req.Command).Interface("panic", r).
				Bytes("stack", debug.Stack()).Msg("control command panicked")
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("%s failed", req.Command))
		}
		code := "OK"
		if resp.Error != nil {
			code = resp.Error.Code
		}
		observability.RecordControlCommand(req.Command, code, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.commandTimeout)
	defer cancel()
	out, err := h(ctx, req)
	if err != nil {
		resp = FromError(err)
		s.logger.Warn().Err(err).Str("command", req.Command).Str("code", resp.Error.Code).
			Dur("elapsed", time.Since(start)).Msg("control command failed")
		return resp
	}
	s.logger.Debug().Str("command", req.Command).Dur("elapsed", time.Since(start)).Msg("control command served")
	return SuccessResponse(out)
}
