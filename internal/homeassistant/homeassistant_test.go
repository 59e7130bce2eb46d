package homeassistant

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/mqtt"
	"github.com/daemonp/amt2mqtt/internal/types"
)

type fakeMQTT struct {
	mu       sync.Mutex
	messages map[string]string
	count    int
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{messages: map[string]string{}}
}

func (f *fakeMQTT) GetPrefix() string    { return "amt2mqtt" }
func (f *fakeMQTT) Topics() *mqtt.Topics { return mqtt.NewTopics("amt2mqtt") }

func (f *fakeMQTT) Publish(topic string, payload interface{}, retain bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[topic] = payload.(string)
	f.count++
}

func (f *fakeMQTT) config(t *testing.T, topic string) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.messages[topic]
	if !ok {
		t.Fatalf("nothing published on %s", topic)
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("invalid config on %s: %v", topic, err)
	}
	return m
}

type fakeSource struct {
	status *types.PanelStatus
}

func (f *fakeSource) Name() string                { return "Home Alarm" }
func (f *fakeSource) Status() *types.PanelStatus { return f.status }

func testConfig() *config.Config {
	return &config.Config{
		HomeAssistant: config.HomeAssistantConfig{Discovery: true, Prefix: "homeassistant"},
		Zones: []config.ZoneConfig{
			{Number: 1, Name: "Porta da Frente"},
			{Number: 2, Name: "Kitchen", DeviceClass: "window"},
		},
		Partitions: []config.PartitionConfig{{ID: "C", Name: "Garage", CodeDisarmRequired: true}},
		PGMs:       []config.PGMConfig{{Number: 1, Name: "Gate"}},
	}
}

func connectedStatus() *types.PanelStatus {
	return &types.PanelStatus{
		Connected: true,
		ModelName: "AMT 4010",
		Firmware:  "1.2.3",
		MaxZones:  4,
		Partitions: []types.PartitionStatus{
			{Letter: "A", Enabled: true},
			{Letter: "B", Enabled: false},
		},
	}
}

func TestPublishDiscovery(t *testing.T) {
	fm := newFakeMQTT()
	ha := New(testConfig(), fm, &fakeSource{status: connectedStatus()}, log.NewNop())
	ha.Start()

	panel := fm.config(t, "homeassistant/alarm_control_panel/amt2mqtt/panel/config")
	if panel["command_template"] != commandTemplate || panel["state_topic"] != "amt2mqtt/state" {
		t.Errorf("panel config = %v", panel)
	}
	device := panel["device"].(map[string]interface{})
	if device["model"] != "AMT 4010" || device["sw_version"] != "1.2.3" || device["manufacturer"] != "Intelbras" {
		t.Errorf("device = %v", device)
	}

	fm.config(t, "homeassistant/alarm_control_panel/amt2mqtt/partition_a/config")
	garage := fm.config(t, "homeassistant/alarm_control_panel/amt2mqtt/partition_c/config")
	if garage["name"] != "Garage" || garage["code_disarm_required"] != true {
		t.Errorf("partition C config = %v", garage)
	}
	if _, ok := fm.messages["homeassistant/alarm_control_panel/amt2mqtt/partition_b/config"]; ok {
		t.Error("disabled unconfigured partition B was announced")
	}

	zone1 := fm.config(t, "homeassistant/binary_sensor/amt2mqtt/zone_1/config")
	if zone1["device_class"] != "door" || zone1["unique_id"] != "amt2mqtt_zone_1" {
		t.Errorf("zone 1 config = %v", zone1)
	}
	if zone2 := fm.config(t, "homeassistant/binary_sensor/amt2mqtt/zone_2/config"); zone2["device_class"] != "window" {
		t.Errorf("zone 2 device_class = %v", zone2["device_class"])
	}
	if zone4 := fm.config(t, "homeassistant/binary_sensor/amt2mqtt/zone_4/config"); zone4["name"] != "Zone 4" {
		t.Errorf("zone 4 name = %v", zone4["name"])
	}
	if _, ok := fm.messages["homeassistant/binary_sensor/amt2mqtt/zone_5/config"]; ok {
		t.Error("zone beyond MaxZones was announced")
	}

	pgm := fm.config(t, "homeassistant/switch/amt2mqtt/pgm_1/config")
	if pgm["command_topic"] != "amt2mqtt/pgm/1/command" || pgm["name"] != "Gate" {
		t.Errorf("pgm config = %v", pgm)
	}
	siren := fm.config(t, "homeassistant/switch/amt2mqtt/siren/config")
	if siren["payload_on"] != "siren_on" {
		t.Errorf("siren config = %v", siren)
	}
	fm.config(t, "homeassistant/button/amt2mqtt/bypass_open_zones/config")
	fm.config(t, "homeassistant/sensor/amt2mqtt/battery/config")

	conn := fm.config(t, "homeassistant/binary_sensor/amt2mqtt/connected/config")
	if _, ok := conn["availability_topic"]; ok {
		t.Error("connectivity sensor has an availability topic")
	}
	problem := fm.config(t, "homeassistant/binary_sensor/amt2mqtt/problem/config")
	if problem["availability_topic"] != "amt2mqtt/status" {
		t.Errorf("problem availability_topic = %v", problem["availability_topic"])
	}
}

func TestDiscoveryBeforeFirstPoll(t *testing.T) {
	fm := newFakeMQTT()
	ha := New(testConfig(), fm, &fakeSource{status: types.NewDisconnectedStatus()}, log.NewNop())
	ha.Start()

	for topic := range fm.messages {
		if strings.Contains(topic, "zone_3") {
			t.Errorf("unconfigured zone announced before the model is known: %s", topic)
		}
	}
	fm.config(t, "homeassistant/binary_sensor/amt2mqtt/zone_2/config")
}

func TestOnStatusRepublishesOnChange(t *testing.T) {
	fm := newFakeMQTT()
	status := connectedStatus()
	ha := New(testConfig(), fm, &fakeSource{status: status}, log.NewNop())

	ha.OnStatus(status)
	first := fm.count
	if first == 0 {
		t.Fatal("first status did not publish discovery")
	}

	ha.OnStatus(status)
	if fm.count != first {
		t.Errorf("unchanged status republished discovery (%d -> %d)", first, fm.count)
	}

	ha.OnStatus(&types.PanelStatus{Connected: false})
	if fm.count != first {
		t.Error("disconnected status republished discovery")
	}

	bigger := status.Clone()
	bigger.MaxZones = 8
	ha.OnStatus(bigger)
	if fm.count == first {
		t.Error("zone count change did not republish discovery")
	}
	fm.config(t, "homeassistant/binary_sensor/amt2mqtt/zone_8/config")
}

func TestGetDeviceClass(t *testing.T) {
	tests := []struct {
		zone config.ZoneConfig
		want string
	}{
		{config.ZoneConfig{Name: "Hall PIR"}, "motion"},
		{config.ZoneConfig{Name: "Janela Sala"}, "window"},
		{config.ZoneConfig{Name: "Back Door"}, "door"},
		{config.ZoneConfig{Name: "Smoke detector"}, "smoke"},
		{config.ZoneConfig{Name: "Door", DeviceClass: "garage_door"}, "garage_door"},
		{config.ZoneConfig{Name: "Zone 7"}, "motion"},
	}
	for _, tt := range tests {
		if got := getDeviceClass(tt.zone); got != tt.want {
			t.Errorf("getDeviceClass(%+v) = %q, want %q", tt.zone, got, tt.want)
		}
	}
}
