package amt

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/protocol"
	"github.com/daemonp/amt2mqtt/internal/types"
)

// transport hands out the active session with the exchange lock held. The
// returned release func must be called exactly once.
type transport interface {
	acquire(ctx context.Context, credential string) (*session, func(), error)
}

// Passwords holds the configured credentials. A partition password, when
// set, is used for commands addressed to that partition.
type Passwords struct {
	Default    string
	Partitions map[string]string
}

// For resolves the credential for a command: explicit, then the partition
// override, then the default.
func (p Passwords) For(explicit, partition string) string {
	if explicit != "" {
		return explicit
	}
	if pw := p.Partitions[partition]; partition != "" && pw != "" {
		return pw
	}
	return p.Default
}

// RawResult is the outcome of SendRawCommand.
type RawResult struct {
	Success     bool   `json:"success"`
	Command     string `json:"command,omitempty"`
	PayloadHex  string `json:"payload_hex,omitempty"`
	ResponseHex string `json:"response_hex,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Router maps the command API onto protocol requests. Client and Server
// embed it and supply the transport.
type Router struct {
	t         transport
	proto     *protocol.Protocol
	log       *log.Logger
	passwords Passwords
}

func newRouter(t transport, proto *protocol.Protocol, passwords Passwords, logger *log.Logger) *Router {
	return &Router{t: t, proto: proto, log: logger, passwords: passwords}
}

func (r *Router) exchange(ctx context.Context, credential string, req protocol.Request) (protocol.Reply, []byte, error) {
	s, release, err := r.t.acquire(ctx, credential)
	if err != nil {
		return protocol.Reply{}, nil, err
	}
	defer release()
	return s.roundTrip(ctx, req, credential)
}

func (r *Router) control(ctx context.Context, credential string, req protocol.Request) error {
	_, _, err := r.exchange(ctx, credential, req)
	if err != nil {
		r.log.Debug("%s failed: %v", req.Name, err)
		return err
	}
	r.log.Debug("%s accepted", req.Name)
	return nil
}

// GetStatus polls the panel. A reply that cannot be decoded drops the socket
// so the next exchange starts from a fresh connection.
func (r *Router) GetStatus(ctx context.Context) (*types.PanelStatus, error) {
	s, release, err := r.t.acquire(ctx, r.passwords.Default)
	if err != nil {
		return nil, err
	}
	defer release()

	reply, _, err := s.roundTrip(ctx, r.proto.Commands.Status(), r.passwords.Default)
	if err != nil {
		return nil, err
	}
	if reply.Kind != protocol.ReplyData {
		err := &ProtocolError{Reason: "status response carried no data"}
		s.abort(err)
		return nil, err
	}
	status, err := r.proto.Decoder.Decode(reply.Payload)
	if err != nil {
		perr := &ProtocolError{Reason: "failed to decode status", Err: err}
		s.abort(perr)
		return nil, perr
	}
	return status, nil
}

func (r *Router) Arm(ctx context.Context, credential string) error {
	return r.arm(ctx, "", types.ArmModeArm, credential)
}

func (r *Router) Disarm(ctx context.Context, credential string) error {
	return r.arm(ctx, "", types.ArmModeDisarm, credential)
}

func (r *Router) ArmStay(ctx context.Context, credential string) error {
	return r.arm(ctx, "", types.ArmModeStay, credential)
}

func (r *Router) ArmPartition(ctx context.Context, partition, credential string) error {
	return r.arm(ctx, partition, types.ArmModeArm, credential)
}

func (r *Router) DisarmPartition(ctx context.Context, partition, credential string) error {
	return r.arm(ctx, partition, types.ArmModeDisarm, credential)
}

func (r *Router) ArmStayPartition(ctx context.Context, partition, credential string) error {
	return r.arm(ctx, partition, types.ArmModeStay, credential)
}

// arm addresses the whole panel when partition is empty.
func (r *Router) arm(ctx context.Context, partition string, mode types.ArmMode, credential string) error {
	number := 0
	if partition != "" {
		n, err := types.PartitionNumber(strings.ToUpper(partition))
		if err != nil {
			return err
		}
		number = n
		partition = types.PartitionLetters[n-1]
	}
	req, err := r.proto.Commands.Arm(number, mode)
	if err != nil {
		return err
	}
	return r.control(ctx, r.passwords.For(credential, partition), req)
}

func (r *Router) ActivatePGM(ctx context.Context, number int) error {
	return r.pgm(ctx, number, true)
}

func (r *Router) DeactivatePGM(ctx context.Context, number int) error {
	return r.pgm(ctx, number, false)
}

func (r *Router) pgm(ctx context.Context, number int, on bool) error {
	req, err := r.proto.Commands.PGM(number, on)
	if err != nil {
		return err
	}
	return r.control(ctx, r.passwords.Default, req)
}

func (r *Router) SirenOn(ctx context.Context) error {
	return r.control(ctx, r.passwords.Default, r.proto.Commands.Siren(true))
}

func (r *Router) SirenOff(ctx context.Context) error {
	return r.control(ctx, r.passwords.Default, r.proto.Commands.Siren(false))
}

// BypassZones sends one bypass command per set entry of mask, in ascending
// zone order, stopping at the first failure.
func (r *Router) BypassZones(ctx context.Context, mask []bool) error {
	for i, on := range mask {
		if !on {
			continue
		}
		req, err := r.proto.Commands.Bypass(i + 1)
		if err != nil {
			return err
		}
		if err := r.control(ctx, r.passwords.Default, req); err != nil {
			return fmt.Errorf("failed to bypass zone %d: %w", i+1, err)
		}
	}
	return nil
}

// BypassOpenZones bypasses the zones open in last, the last known status.
func (r *Router) BypassOpenZones(ctx context.Context, last *types.PanelStatus) error {
	if last == nil {
		return fmt.Errorf("no panel status known yet")
	}
	r.log.Info("Bypassing open zones %v", types.ActiveNumbers(last.ZonesOpen))
	return r.BypassZones(ctx, last.ZonesOpen)
}

// SendRawCommand sends a hex encoded command, e.g. "0B4A", "0B 4A 01 02" or
// "0x0B4A". Failures are reported in the result, not as an error.
func (r *Router) SendRawCommand(ctx context.Context, hexCommand, credential string) RawResult {
	data, err := ParseHex(hexCommand)
	if err != nil {
		return RawResult{Error: err.Error()}
	}
	req, err := r.proto.Commands.Raw(data)
	if err != nil {
		return RawResult{Error: err.Error()}
	}
	result := RawResult{
		Command:    r.formatCommand(req.Command),
		PayloadHex: encodeHex(req.Payload),
	}
	reply, raw, err := r.exchange(ctx, r.passwords.For(credential, ""), req)
	if len(raw) > 0 {
		result.ResponseHex = encodeHex(raw)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	r.log.Debug("Raw command %s answered with % X", result.Command, reply.Payload)
	result.Success = true
	return result
}

func (r *Router) formatCommand(command uint16) string {
	if r.proto.Variant == protocol.VariantLegacy {
		return fmt.Sprintf("%02X", command)
	}
	return fmt.Sprintf("%04X", command)
}

// ParseHex accepts hex with optional 0x prefixes and space, colon or dash
// separators.
func ParseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, fmt.Errorf("empty command")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex command %q: %v", s, err)
	}
	return data, nil
}

func encodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
