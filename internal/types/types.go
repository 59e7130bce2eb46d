package types

import (
	"fmt"
	"time"
)

// Partitions are lettered A-D on every supported panel.
var PartitionLetters = []string{"A", "B", "C", "D"}

const (
	MaxPartitions        = 4
	MaxPGMs              = 19
	MaxZonesTamper       = 18
	MaxZonesShortCircuit = 18
	MaxZonesLowBattery   = 40
)

type PartitionStatus struct {
	Letter    string `json:"letter"`
	Enabled   bool   `json:"enabled"`
	Armed     bool   `json:"armed"`
	Stay      bool   `json:"stay"`
	Triggered bool   `json:"triggered"`
}

func (p PartitionStatus) State() AlarmState {
	return alarmState(p.Armed, p.Stay, p.Triggered, false)
}

// PanelStatus is the decoded result of one status poll. Decoders build a fresh
// value per poll; consumers must treat it as read-only and use Clone before
// changing it.
type PanelStatus struct {
	Connected bool   `json:"connected"`
	ModelID   byte   `json:"model_id"`
	ModelName string `json:"model_name"`
	Firmware  string `json:"firmware"`
	MaxZones  int    `json:"max_zones"`

	ZonesOpen         []bool `json:"zones_open"`
	ZonesViolated     []bool `json:"zones_violated"`
	ZonesBypassed     []bool `json:"zones_bypassed"`
	ZonesTamper       []bool `json:"zones_tamper"`
	ZonesShortCircuit []bool `json:"zones_short_circuit"`
	ZonesLowBattery   []bool `json:"zones_low_battery"`
	PGMs              []bool `json:"pgms"`

	ZonesOpenCount     int `json:"zones_open_count"`
	ZonesViolatedCount int `json:"zones_violated_count"`
	ZonesBypassedCount int `json:"zones_bypassed_count"`

	Partitions []PartitionStatus `json:"partitions"`

	Armed       bool `json:"armed"`
	Stay        bool `json:"stay"`
	Triggered   bool `json:"triggered"`
	Siren       bool `json:"siren"`
	Problem     bool `json:"problem"`
	ZonesFiring bool `json:"zones_firing"`

	ACPower          bool `json:"ac_power"`
	BatteryLevel     int  `json:"battery_level"`
	BatteryConnected bool `json:"battery_connected"`
	BatteryLow       bool `json:"battery_low"`
	BatteryAbsent    bool `json:"battery_absent"`
	BatteryShort     bool `json:"battery_short"`

	AuxOverload  bool `json:"aux_overload"`
	SirenWireCut bool `json:"siren_wire_cut"`
	SirenShort   bool `json:"siren_short"`
	PhoneLineCut bool `json:"phone_line_cut"`
	CommFailure  bool `json:"comm_failure"`
}

// NewDisconnectedStatus is the placeholder used before the first successful poll.
func NewDisconnectedStatus() *PanelStatus {
	return &PanelStatus{Connected: false}
}

// Partition returns the record for the given letter, or false if absent.
func (s *PanelStatus) Partition(letter string) (PartitionStatus, bool) {
	for _, p := range s.Partitions {
		if p.Letter == letter {
			return p, true
		}
	}
	return PartitionStatus{}, false
}

func (s *PanelStatus) State() AlarmState {
	return alarmState(s.Armed, s.Stay, s.Triggered, s.Siren)
}

// Clone returns a deep copy so callers can flip Connected without touching
// the decoder's value.
func (s *PanelStatus) Clone() *PanelStatus {
	if s == nil {
		return nil
	}
	c := *s
	c.ZonesOpen = cloneBools(s.ZonesOpen)
	c.ZonesViolated = cloneBools(s.ZonesViolated)
	c.ZonesBypassed = cloneBools(s.ZonesBypassed)
	c.ZonesTamper = cloneBools(s.ZonesTamper)
	c.ZonesShortCircuit = cloneBools(s.ZonesShortCircuit)
	c.ZonesLowBattery = cloneBools(s.ZonesLowBattery)
	c.PGMs = cloneBools(s.PGMs)
	if s.Partitions != nil {
		c.Partitions = append([]PartitionStatus(nil), s.Partitions...)
	}
	return &c
}

func cloneBools(b []bool) []bool {
	if b == nil {
		return nil
	}
	return append([]bool(nil), b...)
}

// ActiveNumbers returns the 1-based indexes of the set entries of a bitmap.
func ActiveNumbers(bits []bool) []int {
	numbers := []int{}
	for i, on := range bits {
		if on {
			numbers = append(numbers, i+1)
		}
	}
	return numbers
}

func CountTrue(bits []bool) int {
	n := 0
	for _, on := range bits {
		if on {
			n++
		}
	}
	return n
}

type CacheData struct {
	Status     *PanelStatus
	LastUpdate time.Time
}

type AlarmState int

const (
	AlarmStateDisarmed AlarmState = iota
	AlarmStateArmedAway
	AlarmStateArmedHome
	AlarmStateTriggered
)

func alarmState(armed, stay, triggered, siren bool) AlarmState {
	if siren || (armed && triggered) {
		return AlarmStateTriggered
	}
	if armed {
		if stay {
			return AlarmStateArmedHome
		}
		return AlarmStateArmedAway
	}
	return AlarmStateDisarmed
}

// String returns the Home Assistant alarm_control_panel state name.
func (a AlarmState) String() string {
	switch a {
	case AlarmStateDisarmed:
		return "disarmed"
	case AlarmStateArmedAway:
		return "armed_away"
	case AlarmStateArmedHome:
		return "armed_home"
	case AlarmStateTriggered:
		return "triggered"
	default:
		return fmt.Sprintf("Unknown AlarmState(%d)", a)
	}
}

type ArmMode byte

const (
	ArmModeDisarm ArmMode = iota
	ArmModeArm
	ArmModeStay
)

func (m ArmMode) String() string {
	switch m {
	case ArmModeDisarm:
		return "Disarm"
	case ArmModeArm:
		return "Arm"
	case ArmModeStay:
		return "Arm Stay"
	default:
		return fmt.Sprintf("Unknown ArmMode(%d)", m)
	}
}

// PartitionNumber maps a partition letter to its protocol number (A=1..D=4).
func PartitionNumber(letter string) (int, error) {
	for i, l := range PartitionLetters {
		if l == letter {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("invalid partition: %q", letter)
}
