// Package protocol implements the Intelbras AMT wire formats.
//
// Two incompatible framings exist for the same product line:
//
//   - isecnet2: binary frames. dst(2) src(2) len(2) cmd(2) payload checksum(1),
//     big-endian. The checksum is the complemented XOR of every preceding
//     byte, so a valid frame XORs to zero.
//   - legacy: a one byte length prefix, a body of
//     0xE9 0x21 <packed credential> <ASCII command> 0x21 and a trailing XOR byte.
//
// Each variant is a Protocol: a FrameCodec, a CommandSet mapping the high level
// operations onto requests, and a StatusDecoder for the status payload. The
// variant is chosen from configuration; nothing here does I/O beyond reading a
// single frame from an io.Reader.
package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/daemonp/amt2mqtt/internal/types"
	"github.com/daemonp/amt2mqtt/internal/util"
)

var (
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrTruncated        = errors.New("protocol: truncated frame")
	ErrInvalidFrame     = errors.New("protocol: invalid frame")
	ErrPayloadTooShort  = errors.New("protocol: status payload too short")
)

type Variant string

const (
	VariantISECNet2 Variant = "isecnet2"
	VariantLegacy   Variant = "legacy"
)

func Variants() []string {
	return []string{string(VariantISECNet2), string(VariantLegacy)}
}

// Frame is a decoded frame. For the legacy variant Command holds the first
// body byte after the header and Payload the rest.
type Frame struct {
	Dst     uint16
	Src     uint16
	Command uint16
	Payload []byte
}

type FrameCodec interface {
	// BuildFrame assembles a complete frame, checksum included.
	BuildFrame(command uint16, payload []byte, credential string) ([]byte, error)
	// ParseFrame validates a complete frame and returns its contents.
	ParseFrame(data []byte) (Frame, error)
	// ReadFrame reads exactly one raw frame from r.
	ReadFrame(r io.Reader) ([]byte, error)
}

type StatusDecoder interface {
	Decode(payload []byte) (*types.PanelStatus, error)
}

// Request is one command the router sends to the panel.
type Request struct {
	Name    string
	Command uint16
	Payload []byte
	// ExpectsData marks requests whose answer may arrive as ACK followed by a
	// second frame carrying the data.
	ExpectsData bool
}

func (r Request) String() string {
	return fmt.Sprintf("%s (0x%04X % X)", r.Name, r.Command, r.Payload)
}

type ReplyKind int

const (
	ReplyUnexpected ReplyKind = iota
	ReplyAck
	ReplyNack
	ReplyBusy
	ReplyData
	// ReplySkip is an unsolicited frame (heartbeat) to be ignored.
	ReplySkip
)

type Reply struct {
	Kind    ReplyKind
	Code    byte
	Payload []byte
}

type CommandSet interface {
	// Auth returns the authentication request, or false if the variant
	// carries the credential in every frame instead.
	Auth(credential string) (Request, bool)
	// Bye returns the session close request, if the variant has one.
	Bye() (Request, bool)
	Status() Request
	// Arm arms, stays or disarms. Partition 0 addresses the whole panel.
	Arm(partition int, mode types.ArmMode) (Request, error)
	PGM(number int, on bool) (Request, error)
	Siren(on bool) Request
	// Bypass excludes a single zone, numbered from 1.
	Bypass(zone int) (Request, error)
	Raw(data []byte) (Request, error)
	Classify(req Request, f Frame) Reply
}

// Protocol bundles the strategies for one wire variant.
type Protocol struct {
	Variant  Variant
	Codec    FrameCodec
	Commands CommandSet
	Decoder  StatusDecoder
}

func ForVariant(v Variant) (*Protocol, error) {
	switch v {
	case VariantISECNet2, "":
		return &Protocol{
			Variant:  VariantISECNet2,
			Codec:    ISECNet2Codec{},
			Commands: ISECNet2Commands{},
			Decoder:  ISECNet2Decoder{Layout: DefaultISECNet2Layout},
		}, nil
	case VariantLegacy:
		return &Protocol{
			Variant:  VariantLegacy,
			Codec:    LegacyCodec{},
			Commands: LegacyCommands{},
			Decoder:  LegacyDecoder{Layout: DefaultLegacyLayout},
		}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q, expected %s", v, util.JoinWithOr(Variants()))
	}
}

func xorBytes(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

func checkPGM(number int) error {
	if number < 1 || number > types.MaxPGMs {
		return fmt.Errorf("invalid PGM number: %d", number)
	}
	return nil
}
