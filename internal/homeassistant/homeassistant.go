package homeassistant

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/mqtt"
	"github.com/daemonp/amt2mqtt/internal/types"
	"github.com/daemonp/amt2mqtt/internal/util"
)

const commandTemplate = `{"action":"{{ action }}","code":"{{ code }}"}`

// StatusSource is the panel as seen by discovery.
type StatusSource interface {
	Name() string
	Status() *types.PanelStatus
}

type HomeAssistant struct {
	config *config.Config
	mqtt   mqtt.MQTTClient
	panel  StatusSource
	log    *log.Logger

	mu        sync.Mutex
	announced bool
	model     string
	zones     int
}

func New(cfg *config.Config, mqttClient mqtt.MQTTClient, p StatusSource, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: cfg,
		mqtt:   mqttClient,
		panel:  p,
		log:    logger,
	}
}

// Start publishes the discovery configuration for the current status. It is
// also the MQTT reconnect hook.
func (ha *HomeAssistant) Start() {
	ha.log.Info("Publishing Home Assistant discovery")
	ha.publishDiscoveryConfig(ha.panel.Status())
}

// OnStatus republishes discovery once the panel model or zone count is
// known or changes.
func (ha *HomeAssistant) OnStatus(status *types.PanelStatus) {
	if status == nil || !status.Connected {
		return
	}
	ha.mu.Lock()
	changed := !ha.announced || status.ModelName != ha.model || status.MaxZones != ha.zones
	ha.mu.Unlock()
	if changed {
		ha.log.Debug("Panel identified as %s with %d zones", status.ModelName, status.MaxZones)
		ha.publishDiscoveryConfig(status)
	}
}

func (ha *HomeAssistant) publishDiscoveryConfig(status *types.PanelStatus) {
	if status == nil {
		status = types.NewDisconnectedStatus()
	}
	ha.mu.Lock()
	ha.announced = true
	ha.model = status.ModelName
	ha.zones = status.MaxZones
	ha.mu.Unlock()

	device := ha.device(status)

	ha.publishPanelConfig(device)
	for _, letter := range ha.partitionLetters(status) {
		ha.publishPartitionConfig(device, letter)
	}
	for _, zone := range ha.zoneConfigs(status) {
		ha.publishZoneConfig(device, zone)
	}
	for _, pgm := range ha.config.PGMs {
		ha.publishPGMConfig(device, pgm)
	}
	ha.publishSirenConfig(device)
	ha.publishSensorConfigs(device)
}

func (ha *HomeAssistant) device(status *types.PanelStatus) map[string]interface{} {
	device := map[string]interface{}{
		"name":         ha.panel.Name(),
		"identifiers":  []string{util.Slugify(ha.mqtt.GetPrefix())},
		"manufacturer": "Intelbras",
	}
	if status.ModelName != "" {
		device["model"] = status.ModelName
	}
	if status.Firmware != "" {
		device["sw_version"] = status.Firmware
	}
	return device
}

func (ha *HomeAssistant) partitionLetters(status *types.PanelStatus) []string {
	var letters []string
	for _, letter := range types.PartitionLetters {
		p, ok := status.Partition(letter)
		_, configured := ha.config.Partition(letter)
		if (ok && p.Enabled) || configured {
			letters = append(letters, letter)
		}
	}
	return letters
}

// zoneConfigs covers every zone the model supports, falling back to the
// configured zones before the model is known.
func (ha *HomeAssistant) zoneConfigs(status *types.PanelStatus) []config.ZoneConfig {
	var zones []config.ZoneConfig
	if status.MaxZones == 0 {
		return append(zones, ha.config.Zones...)
	}
	for n := 1; n <= status.MaxZones; n++ {
		zone, ok := ha.config.Zone(n)
		if !ok {
			zone = config.ZoneConfig{Number: n}
		}
		if zone.Name == "" {
			zone.Name = fmt.Sprintf("Zone %d", n)
		}
		zones = append(zones, zone)
	}
	return zones
}

func (ha *HomeAssistant) availability(config map[string]interface{}) map[string]interface{} {
	config["availability_topic"] = ha.mqtt.Topics().Status()
	config["payload_available"] = "online"
	config["payload_not_available"] = "offline"
	return config
}

func (ha *HomeAssistant) publishPanelConfig(device map[string]interface{}) {
	topics := ha.mqtt.Topics()
	ha.publishConfig("alarm_control_panel", "panel", device, map[string]interface{}{
		"name":                  nil,
		"state_topic":           topics.State(),
		"value_template":        "{{ value_json.state }}",
		"json_attributes_topic": topics.State(),
		"command_topic":         topics.Command(),
		"command_template":      commandTemplate,
		"code_arm_required":     false,
		"code_disarm_required":  false,
		"supported_features":    []string{"arm_home", "arm_away"},
	})
}

func (ha *HomeAssistant) publishPartitionConfig(device map[string]interface{}, letter string) {
	topics := ha.mqtt.Topics()
	name := fmt.Sprintf("Partition %s", letter)
	codeArm, codeDisarm := false, false
	if p, ok := ha.config.Partition(letter); ok {
		if p.Name != "" {
			name = p.Name
		}
		codeArm, codeDisarm = p.CodeArmRequired, p.CodeDisarmRequired
	}
	ha.publishConfig("alarm_control_panel", "partition_"+util.Slugify(letter), device, map[string]interface{}{
		"name":                 name,
		"state_topic":          topics.PartitionState(letter),
		"command_topic":        topics.PartitionCommand(letter),
		"command_template":     commandTemplate,
		"code_arm_required":    codeArm,
		"code_disarm_required": codeDisarm,
		"supported_features":   []string{"arm_home", "arm_away"},
	})
}

func (ha *HomeAssistant) publishZoneConfig(device map[string]interface{}, zone config.ZoneConfig) {
	ha.publishConfig("binary_sensor", fmt.Sprintf("zone_%d", zone.Number), device, map[string]interface{}{
		"name":         zone.Name,
		"state_topic":  ha.mqtt.Topics().ZoneState(zone.Number),
		"device_class": getDeviceClass(zone),
		"payload_on":   "ON",
		"payload_off":  "OFF",
	})
}

func (ha *HomeAssistant) publishPGMConfig(device map[string]interface{}, pgm config.PGMConfig) {
	topics := ha.mqtt.Topics()
	name := pgm.Name
	if name == "" {
		name = fmt.Sprintf("PGM %d", pgm.Number)
	}
	ha.publishConfig("switch", fmt.Sprintf("pgm_%d", pgm.Number), device, map[string]interface{}{
		"name":          name,
		"state_topic":   topics.PGMState(pgm.Number),
		"command_topic": topics.PGMCommand(pgm.Number),
		"payload_on":    "ON",
		"payload_off":   "OFF",
	})
}

func (ha *HomeAssistant) publishSirenConfig(device map[string]interface{}) {
	topics := ha.mqtt.Topics()
	ha.publishConfig("switch", "siren", device, map[string]interface{}{
		"name":           "Siren",
		"icon":           "mdi:alarm-light",
		"state_topic":    topics.State(),
		"value_template": onOffTemplate("siren"),
		"state_on":       "ON",
		"state_off":      "OFF",
		"command_topic":  topics.Command(),
		"payload_on":     "siren_on",
		"payload_off":    "siren_off",
	})
	ha.publishConfig("button", "bypass_open_zones", device, map[string]interface{}{
		"name":          "Bypass open zones",
		"icon":          "mdi:shield-off-outline",
		"command_topic": topics.Command(),
		"payload_press": "bypass_open_zones",
	})
}

func (ha *HomeAssistant) publishSensorConfigs(device map[string]interface{}) {
	state := ha.mqtt.Topics().State()
	sensors := []struct {
		id, name, class, field string
	}{
		{"connected", "Connection", "connectivity", "connected"},
		{"problem", "Problem", "problem", "problem"},
		{"ac_power", "AC power", "power", "ac_power"},
		{"battery_low", "Battery low", "battery", "battery_low"},
	}
	for _, s := range sensors {
		ha.publishConfig("binary_sensor", s.id, device, map[string]interface{}{
			"name":           s.name,
			"state_topic":    state,
			"device_class":   s.class,
			"value_template": onOffTemplate(s.field),
			"payload_on":     "ON",
			"payload_off":    "OFF",
		})
	}
	ha.publishConfig("sensor", "battery", device, map[string]interface{}{
		"name":                "Battery",
		"state_topic":         state,
		"device_class":        "battery",
		"unit_of_measurement": "%",
		"value_template":      "{{ value_json.battery_level }}",
	})
}

func (ha *HomeAssistant) publishConfig(component, objectID string, device, config map[string]interface{}) {
	node := util.Slugify(ha.mqtt.GetPrefix())
	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.HomeAssistant.Prefix, component, node, objectID)

	config["unique_id"] = fmt.Sprintf("%s_%s", node, objectID)
	config["object_id"] = fmt.Sprintf("%s_%s", node, objectID)
	config["device"] = device
	// The connectivity sensor reports the bridge state itself.
	if objectID != "connected" {
		ha.availability(config)
	}

	payload, err := json.Marshal(config)
	if err != nil {
		ha.log.Error("Failed to marshal Home Assistant config: %v", err)
		return
	}

	ha.mqtt.Publish(topic, string(payload), true)
}
