package protocol

import "fmt"

// NACK codes. The legacy variant reports them as the response command byte,
// ISECNet2 as the first payload byte of a NACK frame.
const (
	NackInvalidPacket          byte = 0xE0
	NackWrongPassword          byte = 0xE1
	NackInvalidCommand         byte = 0xE2
	NackNotPartitioned         byte = 0xE3
	NackZonesOpen              byte = 0xE4
	NackDiscontinued           byte = 0xE5
	NackNoBypassPermission     byte = 0xE6
	NackNoDeactivatePermission byte = 0xE7
	NackBypassNotAllowed       byte = 0xE8
	NackNoZonesInPartition     byte = 0xEA
	// Observed on ISECNet2 firmware when arming with open zones.
	NackZonesOpenISECNet2 byte = 0x27
)

var NackMessages = map[byte]string{
	NackInvalidPacket:          "invalid packet",
	NackWrongPassword:          "wrong password",
	NackInvalidCommand:         "invalid command",
	NackNotPartitioned:         "panel is not partitioned",
	NackZonesOpen:              "zones open",
	NackZonesOpenISECNet2:      "zones open",
	NackDiscontinued:           "function discontinued",
	NackNoBypassPermission:     "no permission to bypass",
	NackNoDeactivatePermission: "no permission to disarm",
	NackBypassNotAllowed:       "bypass not allowed",
	NackNoZonesInPartition:     "no zones in partition",
}

func NackMessage(code byte) string {
	if msg, ok := NackMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error (0x%02X)", code)
}

// Authentication result codes, the single payload byte of the auth reply.
const (
	AuthOK                 byte = 0
	AuthWrongPassword      byte = 1
	AuthVersionMismatch    byte = 2
	AuthCallbackRequested  byte = 3
	AuthAwaitingPermission byte = 4
)

var AuthFailureReasons = map[byte]string{
	AuthWrongPassword:      "wrong password",
	AuthVersionMismatch:    "software version mismatch",
	AuthCallbackRequested:  "panel requested callback",
	AuthAwaitingPermission: "waiting for user permission",
}

func AuthFailureReason(code byte) string {
	if reason, ok := AuthFailureReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("authentication failed (%d)", code)
}

// Model describes a panel model and its zone table.
type Model struct {
	ID       byte
	Name     string
	MaxZones int
}

const (
	ModelAMT8000      byte = 0x01
	ModelAMT1016      byte = 0x38
	ModelAMT2018      byte = 0x39
	ModelAMT4010Smart byte = 0x41
)

var Models = map[byte]Model{
	ModelAMT8000:      {ID: ModelAMT8000, Name: "AMT-8000", MaxZones: 64},
	ModelAMT1016:      {ID: ModelAMT1016, Name: "AMT 1016", MaxZones: 16},
	ModelAMT2018:      {ID: ModelAMT2018, Name: "AMT 2018", MaxZones: 18},
	ModelAMT4010Smart: {ID: ModelAMT4010Smart, Name: "AMT 4010 SMART", MaxZones: 64},
}

// LookupModel never fails: unknown ids get the largest known zone table.
func LookupModel(id byte) Model {
	if m, ok := Models[id]; ok {
		return m
	}
	return Model{ID: id, Name: fmt.Sprintf("Unknown (0x%02X)", id), MaxZones: largestZoneTable()}
}

func largestZoneTable() int {
	max := 0
	for _, m := range Models {
		if m.MaxZones > max {
			max = m.MaxZones
		}
	}
	return max
}

// Battery codes shared by both variants.
const (
	BatteryDead   byte = 0x01
	BatteryLow    byte = 0x02
	BatteryMiddle byte = 0x03
	BatteryFull   byte = 0x04
)

var batteryLevels = map[byte]int{
	BatteryDead:   5,
	BatteryLow:    25,
	BatteryMiddle: 60,
	BatteryFull:   100,
}

func BatteryLevel(code byte) int {
	return batteryLevels[code]
}
