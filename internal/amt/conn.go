// Package amt drives an Intelbras AMT panel over TCP, either by dialing it
// (Client) or by accepting the connection the panel opens itself (Server).
package amt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/protocol"
)

const (
	DefaultTimeout = 5 * time.Second
	// Unsolicited frames tolerated while waiting for one response.
	maxSkippedFrames = 16
)

// Conn owns the single socket of a Client or Server. It moves between
// disconnected, connected and authenticated(credential); any failed exchange
// drops it back to disconnected.
type Conn struct {
	proto   *protocol.Protocol
	log     *log.Logger
	timeout time.Duration

	// exchange serializes complete request/response exchanges. The protocol
	// has no request ids, so responses are matched by position.
	exchange sync.Mutex

	mu         sync.Mutex
	nc         net.Conn
	gen        uint64
	authed     bool
	credential string
}

func NewConn(proto *protocol.Protocol, timeout time.Duration, logger *log.Logger) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Conn{
		proto:   proto,
		log:     logger,
		timeout: timeout,
	}
}

// Attach makes nc the active socket, closing the previous one first.
func (c *Conn) Attach(nc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.nc = nc
	c.gen++
}

// Disconnect is safe to call in any state, any number of times.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.nc == nil {
		return
	}
	c.log.Debug("Closing panel socket %s", c.nc.RemoteAddr())
	c.nc.Close()
	c.nc = nil
	c.gen++
	c.authed = false
	c.credential = ""
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// Authenticated returns the credential the socket is authenticated with.
func (c *Conn) Authenticated() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential, c.nc != nil && c.authed
}

func (c *Conn) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil, ErrNotConnected
	}
	return &session{c: c, nc: c.nc, gen: c.gen}, nil
}

// session pins one socket generation. Once the socket has been replaced or
// dropped, a stale session can no longer affect the Conn.
type session struct {
	c   *Conn
	nc  net.Conn
	gen uint64
}

func (s *session) abort(cause error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.gen != s.gen {
		return
	}
	s.c.log.Warn("Dropping panel connection: %v", cause)
	s.c.closeLocked()
}

func (s *session) markAuthenticated(credential string) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.gen != s.gen {
		return
	}
	s.c.authed = true
	s.c.credential = credential
}

// withDeadline bounds fn by the per-step timeout and by ctx.
func (s *session) withDeadline(ctx context.Context, fn func() error) error {
	if err := s.nc.SetDeadline(time.Now().Add(s.c.timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.nc.SetDeadline(time.Now())
	})
	defer stop()
	return fn()
}

func (s *session) send(ctx context.Context, req protocol.Request, credential string) error {
	frame, err := s.c.proto.Codec.BuildFrame(req.Command, req.Payload, credential)
	if err != nil {
		return fmt.Errorf("failed to build %s frame: %w", req.Name, err)
	}
	s.c.log.Frame("tx", frame)
	err = s.withDeadline(ctx, func() error {
		_, err := s.nc.Write(frame)
		return err
	})
	if err != nil {
		return ioError(ctx, "write", err)
	}
	return nil
}

func (s *session) receive(ctx context.Context) (protocol.Frame, []byte, error) {
	var raw []byte
	err := s.withDeadline(ctx, func() error {
		var err error
		raw, err = s.c.proto.Codec.ReadFrame(s.nc)
		return err
	})
	if err != nil {
		return protocol.Frame{}, nil, ioError(ctx, "read", err)
	}
	s.c.log.Frame("rx", raw)
	f, err := s.c.proto.Codec.ParseFrame(raw)
	if err != nil {
		return protocol.Frame{}, raw, &ProtocolError{Reason: "invalid frame", Err: err}
	}
	return f, raw, nil
}

// roundTrip sends req and waits for its response. Any failure other than
// BUSY drops the socket before returning. The raw bytes of the final frame
// are returned along with the classified reply.
func (s *session) roundTrip(ctx context.Context, req protocol.Request, credential string) (protocol.Reply, []byte, error) {
	s.c.log.Debug("Sending %s", req)
	if err := s.send(ctx, req, credential); err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			s.abort(err)
		}
		return protocol.Reply{}, nil, err
	}

	acked := false
	for skipped := 0; ; {
		f, raw, err := s.receive(ctx)
		if err != nil {
			s.abort(err)
			return protocol.Reply{}, raw, err
		}

		reply := s.c.proto.Commands.Classify(req, f)
		switch reply.Kind {
		case protocol.ReplySkip:
			skipped++
			s.c.log.Trace("Skipping unsolicited frame 0x%04X while waiting for %s", f.Command, req.Name)
			if skipped > maxSkippedFrames {
				err := &ProtocolError{Reason: fmt.Sprintf("no response to %s after %d unsolicited frames", req.Name, skipped)}
				s.abort(err)
				return reply, raw, err
			}
		case protocol.ReplyBusy:
			return reply, raw, ErrPanelBusy
		case protocol.ReplyNack:
			err := &NackError{Code: reply.Code, Message: protocol.NackMessage(reply.Code)}
			s.abort(err)
			return reply, raw, err
		case protocol.ReplyAck:
			if req.ExpectsData {
				if acked {
					err := &ProtocolError{Reason: fmt.Sprintf("no %s data after ACK", req.Name)}
					s.abort(err)
					return reply, raw, err
				}
				// The data follows in a second frame.
				acked = true
				continue
			}
			return reply, raw, nil
		case protocol.ReplyData:
			return reply, raw, nil
		default:
			err := &ProtocolError{Reason: fmt.Sprintf("unexpected response 0x%04X to %s", f.Command, req.Name)}
			s.abort(err)
			return reply, raw, err
		}
	}
}

func ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ConnectionError{Op: op, Err: ctxErr}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &ConnectionError{Op: op, Err: err}
}
