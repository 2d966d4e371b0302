package kvs

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
)

// Service is the RPC receiver registered as "Store".
type Service struct {
	engine *Engine
}

// Apply runs one request against the engine. Store-level failures travel in
// resp.Error; the returned error is reserved for transport problems.
func (s *Service) Apply(req Request, resp *Response) error {
	*resp = s.engine.Apply(req)
	return nil
}

// Server serves an Engine to RemoteClients over net/rpc on raw TCP.
type Server struct {
	rpc    *rpc.Server
	logger logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer registers engine under the "Store" service name.
func NewServer(engine *Engine, logger logging.Logger) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Store", &Service{engine: engine}); err != nil {
		return nil, fmt.Errorf("failed to register store service: %w", err)
	}
	return &Server{
		rpc:    srv,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Printf("Store server listening on %s", l.Addr())

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rpc.ServeConn(conn)
			s.untrack(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops accepting, drops open connections and waits for their
// handlers to return. The engine is left open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
