package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestISECNet2BuildFrame(t *testing.T) {
	frame, err := ISECNet2Codec{}.BuildFrame(CmdStatus, nil, "")
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}
	want := []byte{0x00, 0x00, 0x8F, 0xFF, 0x00, 0x02, 0x0B, 0x4A}
	want = append(want, ISECNet2Checksum(want))
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}
	if got := ISECNet2Checksum(frame); got != 0x00 {
		t.Errorf("checksum over whole frame = 0x%02X, want 0x00", got)
	}
	parsed, err := ISECNet2Codec{}.ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame(BuildFrame()) error = %v", err)
	}
	if parsed.Command != CmdStatus || len(parsed.Payload) != 0 {
		t.Errorf("ParseFrame() = %+v", parsed)
	}
}

func TestISECNet2Checksum(t *testing.T) {
	if got := ISECNet2Checksum([]byte{0x01, 0x02}); got != 0xFC {
		t.Errorf("ISECNet2Checksum() = 0x%02X, want 0xFC", got)
	}
	if got := ISECNet2Checksum(nil); got != 0xFF {
		t.Errorf("ISECNet2Checksum(nil) = 0x%02X, want 0xFF", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	codecs := map[string]FrameCodec{
		"isecnet2": ISECNet2Codec{},
		"legacy":   LegacyCodec{},
	}
	tests := []struct {
		name    string
		command uint16
		payload []byte
	}{
		{"no payload", 0x5B, nil},
		{"arm all", 0x41, []byte{0x50}},
		{"two bytes", 0x42, []byte{0x30, 0x31}},
		{"binary bytes", 0x44, []byte{0x00, 0xFF, 0x21, 0xE9}},
		{"long payload", 0x50, bytes.Repeat([]byte{0xA5}, 200)},
	}

	for codecName, codec := range codecs {
		for _, tt := range tests {
			t.Run(codecName+"/"+tt.name, func(t *testing.T) {
				frame, err := codec.BuildFrame(tt.command, tt.payload, "123456")
				if err != nil {
					t.Fatalf("BuildFrame() error = %v", err)
				}
				got, err := codec.ParseFrame(frame)
				if err != nil {
					t.Fatalf("ParseFrame() error = %v", err)
				}
				if got.Command != tt.command {
					t.Errorf("command = 0x%04X, want 0x%04X", got.Command, tt.command)
				}
				if !bytes.Equal(got.Payload, tt.payload) {
					t.Errorf("payload = % X, want % X", got.Payload, tt.payload)
				}

				read, err := codec.ReadFrame(bytes.NewReader(append(frame, 0x99, 0x98)))
				if err != nil {
					t.Fatalf("ReadFrame() error = %v", err)
				}
				if !bytes.Equal(read, frame) {
					t.Errorf("ReadFrame() = % X, want % X", read, frame)
				}
			})
		}
	}
}

func TestISECNet2RoundTripWideCommands(t *testing.T) {
	for _, cmd := range []uint16{CmdAuth, CmdStatus, CmdArmDisarm, CmdPGM, CmdBypass, CmdAck} {
		frame, err := ISECNet2Codec{}.BuildFrame(cmd, []byte{0x01, 0x02}, "")
		if err != nil {
			t.Fatalf("BuildFrame(0x%04X) error = %v", cmd, err)
		}
		got, err := ISECNet2Codec{}.ParseFrame(frame)
		if err != nil {
			t.Fatalf("ParseFrame(0x%04X) error = %v", cmd, err)
		}
		if got.Command != cmd || got.Dst != ISECNet2DstID || got.Src != ISECNet2SrcID {
			t.Errorf("ParseFrame() = %+v", got)
		}
	}
}

func TestChecksumCorruption(t *testing.T) {
	codecs := map[string]FrameCodec{
		"isecnet2": ISECNet2Codec{},
		"legacy":   LegacyCodec{},
	}
	for name, codec := range codecs {
		frame, err := codec.BuildFrame(0x41, []byte{0x01, 0x02, 0x03}, "1234")
		if err != nil {
			t.Fatalf("%s: BuildFrame() error = %v", name, err)
		}
		last := len(frame) - 1
		for delta := 1; delta < 256; delta++ {
			corrupted := append([]byte(nil), frame...)
			corrupted[last] ^= byte(delta)
			_, err := codec.ParseFrame(corrupted)
			if !errors.Is(err, ErrChecksumMismatch) {
				t.Fatalf("%s: corruption 0x%02X: error = %v, want ErrChecksumMismatch", name, delta, err)
			}
		}
	}
}

func TestParseFrameTruncated(t *testing.T) {
	frame, _ := ISECNet2Codec{}.BuildFrame(CmdStatus, []byte{1, 2, 3, 4}, "")
	tests := []struct {
		name  string
		codec FrameCodec
		data  []byte
	}{
		{"isecnet2 short header", ISECNet2Codec{}, frame[:4]},
		{"isecnet2 missing checksum", ISECNet2Codec{}, frame[:len(frame)-1]},
		{"isecnet2 missing body", ISECNet2Codec{}, frame[:8]},
		{"legacy empty", LegacyCodec{}, nil},
		{"legacy short body", LegacyCodec{}, []byte{0x05, 0x41, 0x42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.ParseFrame(tt.data)
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("ParseFrame() error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestISECNet2ParseIgnoresTrailingBytes(t *testing.T) {
	frame, _ := ISECNet2Codec{}.BuildFrame(CmdAck, nil, "")
	got, err := ISECNet2Codec{}.ParseFrame(append(frame, 0x01, 0x02))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if got.Command != CmdAck {
		t.Errorf("command = 0x%04X, want 0x%04X", got.Command, CmdAck)
	}
}

func TestNormalizePassword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234", "1234"},
		{"123456", "123456"},
		{"12-34", "1234"},
		{"12345", "012345"},
		{"1", "000001"},
		{"", "000000"},
		{"12345678", "345678"},
		{"abc987654", "987654"},
	}
	for _, tt := range tests {
		if got := NormalizePassword(tt.in); got != tt.want {
			t.Errorf("NormalizePassword(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeContactID(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"1234", []byte{1, 2, 3, 4}},
		{"102030", []byte{1, 0x0A, 2, 0x0A, 3, 0x0A}},
		{"0000", []byte{0x0A, 0x0A, 0x0A, 0x0A}},
		{"98765", []byte{0x0A, 9, 8, 7, 6, 5}},
	}
	for _, tt := range tests {
		if got := EncodeContactID(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeContactID(%q) = % X, want % X", tt.in, got, tt.want)
		}
	}
}

func TestPackCredential(t *testing.T) {
	tests := []struct {
		in   string
		want [3]byte
	}{
		{"123456", [3]byte{0x12, 0x34, 0x56}},
		{"1234", [3]byte{0x12, 0x34, 0x00}},
		{"102030", [3]byte{0x1A, 0x2A, 0x3A}},
	}
	for _, tt := range tests {
		if got := PackCredential(tt.in); got != tt.want {
			t.Errorf("PackCredential(%q) = % X, want % X", tt.in, got, tt.want)
		}
	}
}

func TestLegacyBuildFrame(t *testing.T) {
	frame, err := LegacyCodec{}.BuildFrame(uint16(LegacyCmdStatus), nil, "1234")
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}
	body := []byte{0xE9, 0x21, 0x12, 0x34, 0x00, 0x5B, 0x21}
	want := append([]byte{byte(len(body))}, body...)
	want = append(want, LegacyChecksum(want))
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}

	if _, err := (LegacyCodec{}).BuildFrame(0x0B4A, nil, "1234"); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("BuildFrame(wide command) error = %v, want ErrInvalidFrame", err)
	}
}

func TestLegacyParseResponse(t *testing.T) {
	body := []byte{0xFE}
	frame := append([]byte{byte(len(body))}, body...)
	frame = append(frame, LegacyChecksum(frame))

	got, err := LegacyCodec{}.ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if got.Command != uint16(LegacyAck) || len(got.Payload) != 0 {
		t.Errorf("ParseFrame() = %+v, want bare ACK", got)
	}
}
