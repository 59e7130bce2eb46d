package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/daemonp/amt2mqtt/internal/types"
	"github.com/daemonp/amt2mqtt/internal/util"
)

// ISECNet2 commands.
const (
	CmdAuth      uint16 = 0xF0F0
	CmdBye       uint16 = 0xF0F1
	CmdStatus    uint16 = 0x0B4A
	CmdArmDisarm uint16 = 0x401E
	CmdPanic     uint16 = 0x401A
	CmdPGM       uint16 = 0x401C
	CmdSirenOff  uint16 = 0x4019
	CmdBypass    uint16 = 0x401F
)

// ISECNet2 reserved responses.
const (
	CmdAck  uint16 = 0xF0FE
	CmdNack uint16 = 0xF0FD
	CmdBusy uint16 = 0xF0F7
)

const (
	ISECNet2DstID      uint16 = 0x0000
	ISECNet2SrcID      uint16 = 0x8FFF
	isecnet2HeaderSize        = 6
	// body = command(2) + payload
	isecnet2MaxPayload = 0xFFFF - 2

	allPartitions byte = 0xFF
	authPrefix    byte = 0x02
	authSuffix    byte = 0x10
)

// ISECNet2Checksum XORs every byte and complements the result.
func ISECNet2Checksum(data []byte) byte {
	return xorBytes(data) ^ 0xFF
}

// NormalizePassword reduces a password to the 4 or 6 digits the panel accepts.
// Anything else keeps its last 6 digits, left padded with zeros.
func NormalizePassword(password string) string {
	digits := util.Digits(password)
	if len(digits) == 4 || len(digits) == 6 {
		return digits
	}
	if len(digits) > 6 {
		digits = digits[len(digits)-6:]
	}
	return strings.Repeat("0", 6-len(digits)) + digits
}

// EncodeContactID encodes a password one byte per digit, with 0 sent as 0x0A.
func EncodeContactID(password string) []byte {
	normalized := NormalizePassword(password)
	encoded := make([]byte, len(normalized))
	for i, ch := range normalized {
		d := byte(ch - '0')
		if d == 0 {
			d = 0x0A
		}
		encoded[i] = d
	}
	return encoded
}

type ISECNet2Codec struct{}

func (ISECNet2Codec) BuildFrame(command uint16, payload []byte, _ string) ([]byte, error) {
	if len(payload) > isecnet2MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidFrame, len(payload))
	}
	frame := make([]byte, isecnet2HeaderSize+2+len(payload)+1)
	binary.BigEndian.PutUint16(frame[0:2], ISECNet2DstID)
	binary.BigEndian.PutUint16(frame[2:4], ISECNet2SrcID)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(payload)+2))
	binary.BigEndian.PutUint16(frame[6:8], command)
	copy(frame[8:], payload)
	frame[len(frame)-1] = ISECNet2Checksum(frame[:len(frame)-1])
	return frame, nil
}

func (ISECNet2Codec) ParseFrame(data []byte) (Frame, error) {
	if len(data) < isecnet2HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	bodyLen := int(binary.BigEndian.Uint16(data[4:6]))
	total := isecnet2HeaderSize + bodyLen + 1
	if len(data) < total {
		return Frame{}, fmt.Errorf("%w: have %d bytes, body length promises %d", ErrTruncated, len(data), total)
	}
	data = data[:total]
	if ISECNet2Checksum(data) != 0x00 {
		return Frame{}, fmt.Errorf("%w: frame %X", ErrChecksumMismatch, data)
	}
	if bodyLen < 2 {
		return Frame{}, fmt.Errorf("%w: body too short for a command", ErrInvalidFrame)
	}
	payload := make([]byte, bodyLen-2)
	copy(payload, data[8:total-1])
	return Frame{
		Dst:     binary.BigEndian.Uint16(data[0:2]),
		Src:     binary.BigEndian.Uint16(data[2:4]),
		Command: binary.BigEndian.Uint16(data[6:8]),
		Payload: payload,
	}, nil
}

func (ISECNet2Codec) ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, isecnet2HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	bodyLen := int(binary.BigEndian.Uint16(header[4:6]))
	frame := make([]byte, isecnet2HeaderSize+bodyLen+1)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[isecnet2HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

type ISECNet2Commands struct{}

func (ISECNet2Commands) Auth(credential string) (Request, bool) {
	payload := []byte{authPrefix}
	payload = append(payload, EncodeContactID(credential)...)
	payload = append(payload, authSuffix)
	return Request{Name: "auth", Command: CmdAuth, Payload: payload}, true
}

func (ISECNet2Commands) Bye() (Request, bool) {
	return Request{Name: "bye", Command: CmdBye}, true
}

func (ISECNet2Commands) Status() Request {
	return Request{Name: "status", Command: CmdStatus, ExpectsData: true}
}

func (ISECNet2Commands) Arm(partition int, mode types.ArmMode) (Request, error) {
	target := allPartitions
	if partition != 0 {
		if partition < 1 || partition > types.MaxPartitions {
			return Request{}, fmt.Errorf("invalid partition number: %d", partition)
		}
		target = byte(partition)
	}
	if mode > types.ArmModeStay {
		return Request{}, fmt.Errorf("invalid arm mode: %d", mode)
	}
	return Request{
		Name:    mode.String(),
		Command: CmdArmDisarm,
		Payload: []byte{target, byte(mode)},
	}, nil
}

func (ISECNet2Commands) PGM(number int, on bool) (Request, error) {
	if err := checkPGM(number); err != nil {
		return Request{}, err
	}
	return Request{Name: "pgm", Command: CmdPGM, Payload: []byte{byte(number), boolByte(on)}}, nil
}

func (ISECNet2Commands) Siren(on bool) Request {
	if on {
		return Request{Name: "siren on", Command: CmdPanic, Payload: []byte{0x01}}
	}
	return Request{Name: "siren off", Command: CmdSirenOff, Payload: []byte{0xFF}}
}

func (ISECNet2Commands) Bypass(zone int) (Request, error) {
	if zone < 1 || zone > 0xFF {
		return Request{}, fmt.Errorf("invalid zone number: %d", zone)
	}
	return Request{Name: "bypass", Command: CmdBypass, Payload: []byte{byte(zone - 1), 0x01}}, nil
}

func (ISECNet2Commands) Raw(data []byte) (Request, error) {
	if len(data) < 2 {
		return Request{}, fmt.Errorf("command must be at least 2 bytes")
	}
	command := binary.BigEndian.Uint16(data[0:2])
	return Request{
		Name:        "raw",
		Command:     command,
		Payload:     append([]byte(nil), data[2:]...),
		ExpectsData: command == CmdStatus,
	}, nil
}

func (ISECNet2Commands) Classify(req Request, f Frame) Reply {
	switch f.Command {
	case CmdBusy:
		return Reply{Kind: ReplyBusy}
	case CmdNack:
		var code byte
		if len(f.Payload) > 0 {
			code = f.Payload[0]
		}
		return Reply{Kind: ReplyNack, Code: code, Payload: f.Payload}
	case req.Command:
		return Reply{Kind: ReplyData, Payload: f.Payload}
	case CmdAck:
		return Reply{Kind: ReplyAck, Payload: f.Payload}
	default:
		return Reply{Kind: ReplyUnexpected, Payload: f.Payload}
	}
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
