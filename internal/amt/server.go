package amt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/daemonp/amt2mqtt/internal/log"
)

// Server waits for the panel to dial in. Only one peer is served; a new
// connection replaces the previous one.
type Server struct {
	*Router
	conn *Conn
	addr string
	log  *log.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(host string, port int, opts Options, logger *log.Logger) *Server {
	s := &Server{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		conn: NewConn(opts.Protocol, opts.Timeout, logger),
		log:  logger,
	}
	s.Router = newRouter(s, opts.Protocol, opts.Passwords, logger)
	return s
}

func (s *Server) Mode() Mode {
	return ModeServer
}

// Connected reports whether a panel is currently attached.
func (s *Server) Connected() bool {
	return s.conn.Connected()
}

// Listen opens the listener and starts accepting panels in the background.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("server already listening on %s", s.ln.Addr())
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &ConnectionError{Op: "listen", Err: err}
	}
	s.ln = ln
	s.log.Info("Waiting for panel connections on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("Failed to accept panel connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if s.conn.Connected() {
			s.log.Panel("Panel reconnected from %s, replacing previous session", nc.RemoteAddr())
		} else {
			s.log.Panel("Panel connected from %s", nc.RemoteAddr())
		}
		s.conn.Attach(nc)
	}
}

// Close stops listening and drops the active peer.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		s.wg.Wait()
	}
	s.conn.Disconnect()
	return err
}

// The panel is the trusted caller here, so no authentication exchange is
// driven. The credential still goes into every legacy frame.
func (s *Server) acquire(ctx context.Context, _ string) (*session, func(), error) {
	if !s.conn.Connected() {
		return nil, nil, ErrNotConnected
	}
	s.conn.exchange.Lock()
	sess, err := s.conn.current()
	if err != nil {
		s.conn.exchange.Unlock()
		return nil, nil, err
	}
	return sess, s.conn.exchange.Unlock, nil
}
