package amt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/daemonp/amt2mqtt/internal/protocol"
)

type handlerFunc func(f protocol.Frame) [][]byte

// fakePanel records every frame it receives and answers with whatever the
// handler returns.
type fakePanel struct {
	t       *testing.T
	proto   *protocol.Protocol
	handler handlerFunc

	mu      sync.Mutex
	frames  []protocol.Frame
	accepts int
	ln      net.Listener
}

func newFakePanel(t *testing.T, proto *protocol.Protocol, handler handlerFunc) *fakePanel {
	t.Helper()
	p := &fakePanel{t: t, proto: proto, handler: handler}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p.ln = ln
	go p.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePanel) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

func (p *fakePanel) acceptLoop() {
	for {
		nc, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.accepts++
		p.mu.Unlock()
		go p.serve(nc)
	}
}

func (p *fakePanel) serve(nc net.Conn) {
	defer nc.Close()
	for {
		raw, err := p.proto.Codec.ReadFrame(nc)
		if err != nil {
			return
		}
		f, err := p.proto.Codec.ParseFrame(raw)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.frames = append(p.frames, f)
		handler := p.handler
		p.mu.Unlock()
		for _, resp := range handler(f) {
			if _, err := nc.Write(resp); err != nil {
				return
			}
		}
	}
}

func (p *fakePanel) setHandler(h handlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *fakePanel) accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepts
}

func (p *fakePanel) received() []protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Frame(nil), p.frames...)
}

func (p *fakePanel) count(command uint16) int {
	n := 0
	for _, f := range p.received() {
		if f.Command == command {
			n++
		}
	}
	return n
}

func isecnet2Frame(t *testing.T, command uint16, payload ...byte) []byte {
	t.Helper()
	frame, err := protocol.ISECNet2Codec{}.BuildFrame(command, payload, "")
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	return frame
}

// statusPayload returns an AMT 4010 SMART status with the given status byte
// and first byte of open zones.
func statusPayload(statusByte, openZones byte) []byte {
	l := protocol.DefaultISECNet2Layout
	p := make([]byte, l.Battery+1)
	p[0] = protocol.ModelAMT4010Smart
	p[l.Status] = statusByte
	p[l.OpenZones] = openZones
	p[l.Battery] = protocol.BatteryFull
	return p
}

// defaultHandler accepts any credential, answers status with a disarmed
// panel and ACKs everything else.
func defaultHandler(t *testing.T) handlerFunc {
	return func(f protocol.Frame) [][]byte {
		switch f.Command {
		case protocol.CmdAuth:
			return [][]byte{isecnet2Frame(t, protocol.CmdAuth, 0x00)}
		case protocol.CmdBye:
			return nil
		case protocol.CmdStatus:
			return [][]byte{isecnet2Frame(t, protocol.CmdStatus, statusPayload(0x00, 0x00)...)}
		default:
			return [][]byte{isecnet2Frame(t, protocol.CmdAck)}
		}
	}
}

func mustProtocol(t *testing.T, v protocol.Variant) *protocol.Protocol {
	t.Helper()
	p, err := protocol.ForVariant(v)
	if err != nil {
		t.Fatalf("ForVariant(%q): %v", v, err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
