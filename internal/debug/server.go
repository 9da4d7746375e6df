package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Server is the debug endpoint of a run. It accepts a single client; the
// run waits for that client's first DebuggerInit before executing.
type Server struct {
	listener net.Listener
	flow     *Flow
	logger   *logger.Logger

	mu   sync.Mutex
	conn net.Conn
	enc  *Encoder

	initOnce    sync.Once
	initialized chan struct{}
	closeOnce   sync.Once
	done        chan struct{}
}

// Listen opens the debug socket on addr, e.g. "127.0.0.1:5005".
func Listen(addr string, log *logger.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, autoflowerrors.NewProtocolError("listen", err)
	}

	s := &Server{
		listener:    listener,
		logger:      log.WithField("component", "debug-server"),
		initialized: make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.flow = NewFlow(s, log)
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Flow returns the pause/resume state machine fed by this server.
func (s *Server) Flow() *Flow {
	return s.flow
}

// Serve accepts the client and processes its messages until the
// connection ends. Losing the client releases every paused execution.
func (s *Server) Serve(ctx context.Context) error {
	defer s.markInitialized()

	conn, err := s.accept(ctx)
	if err != nil {
		s.flow.TerminateAll()
		return err
	}
	go s.rejectExtraClients()

	s.logger.WithField("client", conn.RemoteAddr().String()).Info("debugger attached")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = s.readLoop(conn)
	s.flow.TerminateAll()

	s.mu.Lock()
	s.conn, s.enc = nil, nil
	s.mu.Unlock()
	conn.Close()

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
		s.logger.Info("debugger detached")
		return nil
	}
	s.logger.Error(err, "debug connection failed")
	return err
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := s.listener.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case r := <-accepted:
		if r.err != nil {
			return nil, autoflowerrors.NewProtocolError("accept", r.err)
		}
		s.mu.Lock()
		s.conn = r.conn
		s.enc = NewEncoder(r.conn)
		s.mu.Unlock()
		return r.conn, nil
	case <-ctx.Done():
		s.listener.Close()
		return nil, ctx.Err()
	case <-s.done:
		return nil, net.ErrClosed
	}
}

func (s *Server) rejectExtraClients() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.logger.Warn(fmt.Sprintf("rejecting second debug client %s", conn.RemoteAddr()))
		conn.Close()
	}
}

func (s *Server) readLoop(conn net.Conn) error {
	dec := NewDecoder(conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case DebuggerInit:
			s.flow.SetPoints(m.Points)
			s.logger.WithField("points", len(m.Points)).Info("breakpoints updated")
			s.markInitialized()
		case DebugOp:
			if err := s.flow.Apply(m); err != nil {
				s.logger.Warn(err.Error())
			}
		default:
			return autoflowerrors.NewProtocolError("read", fmt.Errorf("unexpected message %T from client", msg))
		}
	}
}

func (s *Server) markInitialized() {
	s.initOnce.Do(func() { close(s.initialized) })
}

// WaitForClient blocks until the client sent its first DebuggerInit, the
// connection ended, or ctx is done.
func (s *Server) WaitForClient(ctx context.Context) error {
	select {
	case <-s.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused forwards a pause announcement to the client.
func (s *Server) Paused(msg ExecutionPaused) {
	s.send(msg)
}

// Released forwards a release announcement to the client.
func (s *Server) Released(msg ExecutionReleased) {
	s.send(msg)
}

func (s *Server) send(msg any) {
	s.mu.Lock()
	enc := s.enc
	conn := s.conn
	s.mu.Unlock()
	if enc == nil {
		return
	}

	if err := enc.Encode(msg); err != nil {
		s.logger.Error(err, "failed to notify debugger")
		conn.Close()
	}
}

// Close stops listening and drops the client.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		s.flow.TerminateAll()
		s.markInitialized()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
