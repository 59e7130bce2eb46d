package amt

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("127.0.0.1", 0, Options{
		Protocol:  mustProtocol(t, protocol.VariantISECNet2),
		Timeout:   time.Second,
		Passwords: Passwords{Default: "1234"},
	}, log.NewNop())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// panelPeer dials the server the way a panel does and answers its requests.
type panelPeer struct {
	*fakePanel
	nc   net.Conn
	done chan struct{}
}

func dialPeer(t *testing.T, s *Server, handler handlerFunc) *panelPeer {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial server: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	p := &panelPeer{
		fakePanel: &fakePanel{t: t, proto: s.proto, handler: handler},
		nc:        nc,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.serve(nc)
	}()
	return p
}

func TestServerNotConnected(t *testing.T) {
	s := newTestServer(t)
	if s.Connected() {
		t.Fatal("Connected() = true without a peer")
	}
	start := time.Now()
	if _, err := s.GetStatus(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetStatus() error = %v, want ErrNotConnected", err)
	}
	if err := s.Arm(context.Background(), ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Arm() error = %v, want ErrNotConnected", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("commands without a peer took %v", elapsed)
	}
	if r := s.SendRawCommand(context.Background(), "0B4A", ""); r.Success {
		t.Errorf("SendRawCommand() = %+v, want failure", r)
	}
}

func TestServerRoutesToPeerWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	peer := dialPeer(t, s, defaultHandler(t))
	waitFor(t, "peer", s.Connected)

	if err := s.Arm(context.Background(), ""); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	status, err := s.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.Connected {
		t.Error("status.Connected = false")
	}
	if got := peer.count(protocol.CmdAuth); got != 0 {
		t.Errorf("auth frames = %d, want 0", got)
	}
	if got := peer.count(protocol.CmdArmDisarm); got != 1 {
		t.Errorf("arm frames = %d, want 1", got)
	}
	if s.Mode() != ModeServer {
		t.Errorf("Mode() = %q", s.Mode())
	}
}

func TestServerReplacesPeer(t *testing.T) {
	s := newTestServer(t)
	first := dialPeer(t, s, defaultHandler(t))
	waitFor(t, "first peer", s.Connected)

	second := dialPeer(t, s, defaultHandler(t))
	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("first peer was not closed after the second connected")
	}

	if err := s.SirenOn(context.Background()); err != nil {
		t.Fatalf("SirenOn() error = %v", err)
	}
	if got := second.count(protocol.CmdPanic); got != 1 {
		t.Errorf("second peer siren frames = %d, want 1", got)
	}
	if got := len(first.received()); got != 0 {
		t.Errorf("first peer frames = %d, want 0", got)
	}
}

func TestServerPeerFailureDetaches(t *testing.T) {
	s := newTestServer(t)
	dialPeer(t, s, func(f protocol.Frame) [][]byte {
		return [][]byte{isecnet2Frame(t, protocol.CmdPGM)}
	})
	waitFor(t, "peer", s.Connected)

	err := s.Arm(context.Background(), "")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Arm() error = %v, want ProtocolError", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after protocol error")
	}
}

func TestServerClose(t *testing.T) {
	s := newTestServer(t)
	peer := dialPeer(t, s, defaultHandler(t))
	waitFor(t, "peer", s.Connected)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close")
	}
	select {
	case <-peer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("peer still open after Close")
	}
	if s.Addr() != nil {
		t.Error("Addr() != nil after Close")
	}
}
