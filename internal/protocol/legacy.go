package protocol

import (
	"fmt"
	"io"

	"github.com/daemonp/amt2mqtt/internal/types"
)

const (
	LegacyFrameStart byte = 0xE9
	LegacySeparator  byte = 0x21
	LegacyAck        byte = 0xFE
	LegacyHeartbeat  byte = 0xF7
	LegacyNackFirst  byte = 0xE0
	LegacyNackLast   byte = 0xEF
	// Sent by the panel right after it dials in.
	LegacyConnectionInfo byte = 0x94

	LegacyCmdStatus   byte = 0x5B // '['
	LegacyCmdArm      byte = 0x41 // 'A'
	LegacyCmdDisarm   byte = 0x44 // 'D'
	LegacyCmdStay     byte = 0x50 // 'P', after 'A'
	LegacyCmdPGM      byte = 0x50 // 'P'
	LegacyPGMOn       byte = 0x4C // 'L'
	LegacyPGMOff      byte = 0x44 // 'D'
	LegacyCmdBypass   byte = 0x42 // 'B'
	LegacyCmdSirenOn  byte = 0x43 // 'C'
	LegacyCmdSirenOff byte = 0x63 // 'c'

	legacyCredentialSize = 3
	// E9 21 <credential> <command> 21
	legacyEnvelopeSize = 2 + legacyCredentialSize + 1 + 1
	legacyMaxBody      = 0xFF
)

// LegacyChecksum is the plain XOR of the length byte and the body.
func LegacyChecksum(data []byte) byte {
	return xorBytes(data)
}

// PackCredential packs the normalized password two digits per byte, high
// nibble first, with 0 sent as 0xA. Four digit passwords leave the last byte
// zero.
func PackCredential(password string) [legacyCredentialSize]byte {
	var packed [legacyCredentialSize]byte
	for i, ch := range NormalizePassword(password) {
		d := byte(ch - '0')
		if d == 0 {
			d = 0x0A
		}
		if i%2 == 0 {
			packed[i/2] |= d << 4
		} else {
			packed[i/2] |= d
		}
	}
	return packed
}

type LegacyCodec struct{}

func (LegacyCodec) BuildFrame(command uint16, payload []byte, credential string) ([]byte, error) {
	if command > 0xFF {
		return nil, fmt.Errorf("%w: legacy command 0x%04X does not fit one byte", ErrInvalidFrame, command)
	}
	bodyLen := legacyEnvelopeSize + len(payload)
	if bodyLen > legacyMaxBody {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrInvalidFrame, bodyLen)
	}
	cred := PackCredential(credential)

	frame := make([]byte, 0, bodyLen+2)
	frame = append(frame, byte(bodyLen), LegacyFrameStart, LegacySeparator)
	frame = append(frame, cred[:]...)
	frame = append(frame, byte(command))
	frame = append(frame, payload...)
	frame = append(frame, LegacySeparator)
	frame = append(frame, LegacyChecksum(frame))
	return frame, nil
}

// ParseFrame unwraps both the request envelope and the bare response layout
// (<command> <data...>).
func (LegacyCodec) ParseFrame(data []byte) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrTruncated)
	}
	bodyLen := int(data[0])
	total := 1 + bodyLen + 1
	if len(data) < total {
		return Frame{}, fmt.Errorf("%w: have %d bytes, length prefix promises %d", ErrTruncated, len(data), total)
	}
	data = data[:total]
	if LegacyChecksum(data[:total-1]) != data[total-1] {
		return Frame{}, fmt.Errorf("%w: frame %X", ErrChecksumMismatch, data)
	}
	if bodyLen == 0 {
		return Frame{}, fmt.Errorf("%w: empty body", ErrInvalidFrame)
	}
	body := data[1 : total-1]

	if isLegacyEnvelope(body) {
		return Frame{
			Command: uint16(body[5]),
			Payload: append([]byte{}, body[6:len(body)-1]...),
		}, nil
	}
	return Frame{
		Command: uint16(body[0]),
		Payload: append([]byte{}, body[1:]...),
	}, nil
}

func isLegacyEnvelope(body []byte) bool {
	return len(body) >= legacyEnvelopeSize &&
		body[0] == LegacyFrameStart &&
		body[1] == LegacySeparator &&
		body[len(body)-1] == LegacySeparator
}

func (LegacyCodec) ReadFrame(r io.Reader) ([]byte, error) {
	var length [1]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	frame := make([]byte, 1+int(length[0])+1)
	frame[0] = length[0]
	if _, err := io.ReadFull(r, frame[1:]); err != nil {
		return nil, err
	}
	return frame, nil
}

type LegacyCommands struct{}

func (LegacyCommands) Auth(string) (Request, bool) {
	return Request{}, false
}

func (LegacyCommands) Bye() (Request, bool) {
	return Request{}, false
}

func (LegacyCommands) Status() Request {
	return Request{Name: "status", Command: uint16(LegacyCmdStatus), ExpectsData: true}
}

func (LegacyCommands) Arm(partition int, mode types.ArmMode) (Request, error) {
	var ascii []byte
	switch mode {
	case types.ArmModeArm:
		ascii = []byte{LegacyCmdArm}
	case types.ArmModeStay:
		ascii = []byte{LegacyCmdArm, LegacyCmdStay}
	case types.ArmModeDisarm:
		ascii = []byte{LegacyCmdDisarm}
	default:
		return Request{}, fmt.Errorf("invalid arm mode: %d", mode)
	}
	if partition != 0 {
		if partition < 1 || partition > types.MaxPartitions {
			return Request{}, fmt.Errorf("invalid partition number: %d", partition)
		}
		ascii = append(ascii, types.PartitionLetters[partition-1][0])
	}
	return asciiRequest(mode.String(), ascii, false), nil
}

func (LegacyCommands) PGM(number int, on bool) (Request, error) {
	if err := checkPGM(number); err != nil {
		return Request{}, err
	}
	action := LegacyPGMOff
	if on {
		action = LegacyPGMOn
	}
	ascii := append([]byte{LegacyCmdPGM, action}, []byte(fmt.Sprintf("%d", number))...)
	return asciiRequest("pgm", ascii, false), nil
}

func (LegacyCommands) Siren(on bool) Request {
	if on {
		return asciiRequest("siren on", []byte{LegacyCmdSirenOn}, false)
	}
	return asciiRequest("siren off", []byte{LegacyCmdSirenOff}, false)
}

func (LegacyCommands) Bypass(zone int) (Request, error) {
	if zone < 1 || zone > 99 {
		return Request{}, fmt.Errorf("invalid zone number: %d", zone)
	}
	ascii := append([]byte{LegacyCmdBypass}, []byte(fmt.Sprintf("%02d", zone))...)
	return asciiRequest("bypass", ascii, false), nil
}

func (LegacyCommands) Raw(data []byte) (Request, error) {
	if len(data) < 1 {
		return Request{}, fmt.Errorf("command must be at least 1 byte")
	}
	return asciiRequest("raw", data, data[0] == LegacyCmdStatus), nil
}

func (LegacyCommands) Classify(_ Request, f Frame) Reply {
	code := byte(f.Command)
	switch {
	case code == LegacyAck && len(f.Payload) == 0:
		return Reply{Kind: ReplyAck}
	case code >= LegacyNackFirst && code <= LegacyNackLast:
		return Reply{Kind: ReplyNack, Code: code, Payload: f.Payload}
	case code == LegacyHeartbeat, code == LegacyConnectionInfo:
		return Reply{Kind: ReplySkip}
	default:
		return Reply{Kind: ReplyData, Payload: f.Payload}
	}
}

func asciiRequest(name string, ascii []byte, expectsData bool) Request {
	return Request{
		Name:        name,
		Command:     uint16(ascii[0]),
		Payload:     append([]byte{}, ascii[1:]...),
		ExpectsData: expectsData,
	}
}
