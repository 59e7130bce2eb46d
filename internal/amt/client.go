package amt

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/protocol"
)

type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// Options are shared by Client and Server.
type Options struct {
	Protocol  *protocol.Protocol
	Timeout   time.Duration
	Passwords Passwords
}

// Client dials the panel and authenticates on demand.
type Client struct {
	*Router
	conn *Conn
	addr string
	log  *log.Logger

	mu           sync.Mutex
	rejected     string
	rejectReason error
}

func NewClient(host string, port int, opts Options, logger *log.Logger) *Client {
	c := &Client{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		conn: NewConn(opts.Protocol, opts.Timeout, logger),
		log:  logger,
	}
	c.Router = newRouter(c, opts.Protocol, opts.Passwords, logger)
	return c
}

func (c *Client) Mode() Mode {
	return ModeClient
}

func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// Connect dials and authenticates with the default password if needed.
func (c *Client) Connect(ctx context.Context) error {
	_, release, err := c.acquire(ctx, c.passwords.Default)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Disconnect says goodbye to the panel, when authenticated, and closes the
// socket.
func (c *Client) Disconnect() error {
	c.conn.exchange.Lock()
	defer c.conn.exchange.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.conn.timeout)
	defer cancel()
	c.closeSession(ctx)
	return nil
}

func (c *Client) Close() error {
	return c.Disconnect()
}

func (c *Client) acquire(ctx context.Context, credential string) (*session, func(), error) {
	c.conn.exchange.Lock()
	s, err := c.ensureReady(ctx, credential)
	if err != nil {
		c.conn.exchange.Unlock()
		return nil, nil, err
	}
	return s, c.conn.exchange.Unlock, nil
}

// ensureReady must be called with the exchange lock held.
func (c *Client) ensureReady(ctx context.Context, credential string) (*session, error) {
	credential = protocol.NormalizePassword(credential)
	if err := c.rejectedError(credential); err != nil {
		return nil, err
	}

	if current, ok := c.conn.Authenticated(); ok {
		if current == credential {
			return c.conn.current()
		}
		// Authentication is per socket and cannot be renegotiated.
		c.log.Info("Credential changed, reconnecting to panel")
		c.closeSession(ctx)
	}

	if !c.conn.Connected() {
		if err := c.dial(ctx); err != nil {
			return nil, err
		}
	}
	s, err := c.conn.current()
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(ctx, s, credential); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) dial(ctx context.Context) error {
	c.log.Debug("Dialing panel at %s", c.addr)
	d := net.Dialer{Timeout: c.conn.timeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return ioError(ctx, "dial", err)
	}
	c.conn.Attach(nc)
	c.log.Info("Connected to panel at %s", c.addr)
	return nil
}

func (c *Client) authenticate(ctx context.Context, s *session, credential string) error {
	req, ok := c.proto.Commands.Auth(credential)
	if !ok {
		// The credential travels in every frame.
		s.markAuthenticated(credential)
		return nil
	}

	reply, _, err := s.roundTrip(ctx, req, credential)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if reply.Kind != protocol.ReplyData || len(reply.Payload) != 1 {
		err := &ProtocolError{Reason: fmt.Sprintf("invalid authentication response (% X)", reply.Payload)}
		s.abort(err)
		return err
	}
	if result := reply.Payload[0]; result != protocol.AuthOK {
		authErr := &AuthenticationError{Code: result, Reason: protocol.AuthFailureReason(result)}
		s.abort(authErr)
		if authErr.Permanent() {
			c.rememberRejected(credential, authErr)
		}
		return authErr
	}

	s.markAuthenticated(credential)
	c.rememberRejected("", nil)
	c.log.Info("Authenticated with panel")
	return nil
}

// closeSession must be called with the exchange lock held.
func (c *Client) closeSession(ctx context.Context) {
	if _, ok := c.conn.Authenticated(); ok {
		if req, ok := c.proto.Commands.Bye(); ok {
			if s, err := c.conn.current(); err == nil {
				if err := s.send(ctx, req, ""); err != nil {
					c.log.Debug("Failed to send bye: %v", err)
				}
			}
		}
	}
	c.conn.Disconnect()
}

func (c *Client) rememberRejected(credential string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = credential
	c.rejectReason = err
}

func (c *Client) rejectedError(credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectReason != nil && c.rejected == credential {
		return c.rejectReason
	}
	return nil
}
