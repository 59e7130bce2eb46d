package protocol

import (
	"fmt"

	"github.com/daemonp/amt2mqtt/internal/types"
)

// ISECNet2 status byte bits.
const (
	StatusProblem        byte = 0x01
	StatusSiren          byte = 0x02
	StatusAllZonesClosed byte = 0x04
	StatusZonesFiring    byte = 0x08
	StatusZonesBypassed  byte = 0x10
)

// Arm state held in bits 5-6 of the ISECNet2 status byte.
const (
	ArmStateDisarmed byte = 0x00
	ArmStatePartial  byte = 0x01
	ArmStateAll      byte = 0x03
)

// ISECNet2 partition byte bits.
const (
	PartEnabled       byte = 0x80
	PartStayAlt       byte = 0x40
	PartExitDelay     byte = 0x20
	PartReady         byte = 0x10
	PartAlarmOccurred byte = 0x08
	PartTriggered     byte = 0x04
	PartStay          byte = 0x02
	PartArmed         byte = 0x01
)

// Legacy bits.
const (
	LegacyCentralArmed    byte = 0x08
	LegacyCentralProblem  byte = 0x10
	LegacyPowerAC         byte = 0x01
	LegacyPowerBattery    byte = 0x04
	LegacyPartArmed       byte = 0x01
	LegacyPartStay        byte = 0x02
	LegacyPartTriggered   byte = 0x04
	LegacySirenBit        byte = 0x01
	LegacyPGMFirstBit          = 1
	LegacyPGMCount             = 3
	isecnet2TamperFlagBit byte = 0x02
)

// ISECNet2Layout holds the zero based offsets of the 0x0B4A status payload.
type ISECNet2Layout struct {
	Status          int
	PartitionsStart int
	OpenZones       int
	ViolatedZones   int
	BypassedZones   int
	ZoneBytes       int
	Tamper          int
	Battery         int
}

var DefaultISECNet2Layout = ISECNet2Layout{
	Status:          20,
	PartitionsStart: 21,
	OpenZones:       38,
	ViolatedZones:   46,
	BypassedZones:   54,
	ZoneBytes:       8,
	Tamper:          71,
	Battery:         134,
}

func (l ISECNet2Layout) MinLength() int {
	return l.Status + 1
}

type ISECNet2Decoder struct {
	Layout ISECNet2Layout
}

func (d ISECNet2Decoder) Decode(payload []byte) (*types.PanelStatus, error) {
	l := d.Layout
	if len(payload) < l.MinLength() {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrPayloadTooShort, len(payload), l.MinLength())
	}

	model := LookupModel(isecnet2ModelID(payload))
	status := newStatus(model)
	status.Firmware = isecnet2Firmware(payload)

	statusByte := payload[l.Status]
	armState := (statusByte >> 5) & 0x03
	status.Armed = armState == ArmStatePartial || armState == ArmStateAll
	status.Stay = armState == ArmStatePartial
	status.Siren = statusByte&StatusSiren != 0
	status.ZonesFiring = statusByte&StatusZonesFiring != 0

	for i, letter := range types.PartitionLetters {
		b := byteAt(payload, l.PartitionsStart+i)
		p := types.PartitionStatus{Letter: letter, Enabled: b&PartEnabled != 0}
		if p.Enabled {
			p.Armed = b&PartArmed != 0
			p.Stay = b&(PartStay|PartStayAlt) != 0
			p.Triggered = b&(PartTriggered|PartAlarmOccurred) != 0
		}
		status.Partitions[i] = p
	}
	status.Triggered = status.Siren || anyPartitionTriggered(status.Partitions)
	inheritGlobalState(status)

	unpackZonesInto(status.ZonesOpen, sliceAt(payload, l.OpenZones, l.ZoneBytes))
	unpackZonesInto(status.ZonesViolated, sliceAt(payload, l.ViolatedZones, l.ZoneBytes))
	unpackZonesInto(status.ZonesBypassed, sliceAt(payload, l.BypassedZones, l.ZoneBytes))

	batteryCode := byteAt(payload, l.Battery)
	status.BatteryLevel = BatteryLevel(batteryCode)
	status.BatteryLow = batteryCode == BatteryDead || batteryCode == BatteryLow
	status.BatteryConnected = batteryCode != BatteryDead
	// No AC bit is known for this layout.
	status.ACPower = true

	tamper := byteAt(payload, l.Tamper)&isecnet2TamperFlagBit != 0
	status.Problem = statusByte&StatusProblem != 0 || tamper || status.BatteryLow

	finishCounts(status)
	return status, nil
}

// Some firmwares prepend one byte before the model id.
func isecnet2ModelID(payload []byte) byte {
	id := byteAt(payload, 0)
	if _, ok := Models[id]; !ok && len(payload) > 1 {
		if _, ok := Models[payload[1]]; ok {
			id = payload[1]
		}
	}
	return id
}

func isecnet2Firmware(payload []byte) string {
	if _, ok := Models[byteAt(payload, 0)]; ok && len(payload) >= 4 {
		return fmt.Sprintf("%d.%d.%d", payload[1], payload[2], payload[3])
	}
	if len(payload) >= 5 {
		return fmt.Sprintf("%d.%d.%d", payload[2], payload[3], payload[4])
	}
	return "unknown"
}

// LegacyLayout holds the offsets of the legacy status response data.
type LegacyLayout struct {
	OpenZones     int
	ViolatedZones int
	BypassedZones int
	ZoneBytes     int
	Model         int
	Firmware      int
	PartitionAB   int
	PartitionCD   int
	Central       int
	Power         int
	Battery       int
	PGMSiren      int
}

var DefaultLegacyLayout = LegacyLayout{
	OpenZones:     2,
	ViolatedZones: 10,
	BypassedZones: 18,
	ZoneBytes:     8,
	Model:         26,
	Firmware:      27,
	PartitionAB:   28,
	PartitionCD:   29,
	Central:       30,
	Power:         36,
	Battery:       41,
	PGMSiren:      46,
}

func (l LegacyLayout) MinLength() int {
	return l.PGMSiren + 1
}

type LegacyDecoder struct {
	Layout LegacyLayout
}

func (d LegacyDecoder) Decode(payload []byte) (*types.PanelStatus, error) {
	l := d.Layout
	if len(payload) < l.MinLength() {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrPayloadTooShort, len(payload), l.MinLength())
	}

	model := LookupModel(payload[l.Model])
	status := newStatus(model)
	fw := payload[l.Firmware]
	status.Firmware = fmt.Sprintf("%d.%d", fw>>4, fw&0x0F)

	central := payload[l.Central]
	status.Armed = central&LegacyCentralArmed != 0

	ab, cd := payload[l.PartitionAB], payload[l.PartitionCD]
	nibbles := []byte{ab & 0x0F, ab >> 4, cd & 0x0F, cd >> 4}
	partitioned := ab|cd != 0
	for i, letter := range types.PartitionLetters {
		n := nibbles[i]
		p := types.PartitionStatus{Letter: letter, Enabled: partitioned}
		if partitioned {
			p.Armed = n&LegacyPartArmed != 0
			p.Stay = n&LegacyPartStay != 0
			p.Triggered = n&LegacyPartTriggered != 0
			status.Stay = status.Stay || (p.Armed && p.Stay)
		}
		status.Partitions[i] = p
	}
	status.Stay = status.Armed && status.Stay

	pgmSiren := payload[l.PGMSiren]
	status.Siren = pgmSiren&LegacySirenBit != 0
	for i := 0; i < LegacyPGMCount; i++ {
		status.PGMs[i] = pgmSiren&(1<<(LegacyPGMFirstBit+i)) != 0
	}
	status.Triggered = status.Siren || anyPartitionTriggered(status.Partitions)
	inheritGlobalState(status)

	unpackZonesInto(status.ZonesOpen, sliceAt(payload, l.OpenZones, l.ZoneBytes))
	unpackZonesInto(status.ZonesViolated, sliceAt(payload, l.ViolatedZones, l.ZoneBytes))
	unpackZonesInto(status.ZonesBypassed, sliceAt(payload, l.BypassedZones, l.ZoneBytes))

	power := payload[l.Power]
	status.ACPower = power&LegacyPowerAC != 0
	status.BatteryConnected = power&LegacyPowerBattery != 0
	status.BatteryAbsent = !status.BatteryConnected

	batteryCode := payload[l.Battery]
	status.BatteryLevel = BatteryLevel(batteryCode)
	status.BatteryLow = batteryCode == BatteryDead || batteryCode == BatteryLow

	status.Problem = central&LegacyCentralProblem != 0 || status.BatteryLow || !status.ACPower

	finishCounts(status)
	return status, nil
}

func newStatus(model Model) *types.PanelStatus {
	return &types.PanelStatus{
		Connected:         true,
		ModelID:           model.ID,
		ModelName:         model.Name,
		MaxZones:          model.MaxZones,
		ZonesOpen:         make([]bool, model.MaxZones),
		ZonesViolated:     make([]bool, model.MaxZones),
		ZonesBypassed:     make([]bool, model.MaxZones),
		ZonesTamper:       make([]bool, model.MaxZones),
		ZonesShortCircuit: make([]bool, types.MaxZonesShortCircuit),
		ZonesLowBattery:   make([]bool, types.MaxZonesLowBattery),
		PGMs:              make([]bool, types.MaxPGMs),
		Partitions:        make([]types.PartitionStatus, types.MaxPartitions),
	}
}

// inheritGlobalState makes partitions without the enabled bit mirror the
// panel wide state, which is what single partition panels report.
func inheritGlobalState(s *types.PanelStatus) {
	for i := range s.Partitions {
		p := &s.Partitions[i]
		if p.Enabled {
			continue
		}
		p.Armed = s.Armed
		p.Stay = s.Stay
		p.Triggered = s.Triggered
	}
}

func anyPartitionTriggered(parts []types.PartitionStatus) bool {
	for _, p := range parts {
		if p.Enabled && p.Triggered {
			return true
		}
	}
	return false
}

func finishCounts(s *types.PanelStatus) {
	s.ZonesOpenCount = types.CountTrue(s.ZonesOpen)
	s.ZonesViolatedCount = types.CountTrue(s.ZonesViolated)
	s.ZonesBypassedCount = types.CountTrue(s.ZonesBypassed)
}

// unpackZonesInto fills zones least significant bit first, 8 zones per byte,
// stopping at len(zones).
func unpackZonesInto(zones []bool, packed []byte) {
	for byteIdx, b := range packed {
		for bit := 0; bit < 8; bit++ {
			idx := byteIdx*8 + bit
			if idx >= len(zones) {
				return
			}
			zones[idx] = b&(1<<bit) != 0
		}
	}
}

// UnpackZones returns a max-length bitmap from packed zone bytes.
func UnpackZones(packed []byte, max int) []bool {
	zones := make([]bool, max)
	unpackZonesInto(zones, packed)
	return zones
}

func byteAt(b []byte, i int) byte {
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

func sliceAt(b []byte, start, n int) []byte {
	if start >= len(b) {
		return nil
	}
	end := start + n
	if end > len(b) {
		end = len(b)
	}
	return b[start:end]
}
