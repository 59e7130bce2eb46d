package homeassistant

import (
	"strings"

	"github.com/daemonp/amt2mqtt/internal/config"
)

func getDeviceClass(zone config.ZoneConfig) string {
	if zone.DeviceClass != "" {
		return zone.DeviceClass
	}

	// Guess from the zone name, Portuguese names included
	name := strings.ToLower(zone.Name)
	switch {
	case strings.Contains(name, "pir"), strings.Contains(name, "ivp"), strings.Contains(name, "sensor"):
		return "motion"
	case strings.Contains(name, "door"), strings.Contains(name, "porta"), strings.Contains(name, "portao"):
		return "door"
	case strings.Contains(name, "window"), strings.Contains(name, "janela"):
		return "window"
	case strings.Contains(name, "smoke"), strings.Contains(name, "fire"), strings.Contains(name, "fumaca"):
		return "smoke"
	case strings.Contains(name, "gas"):
		return "gas"
	case strings.Contains(name, "water"), strings.Contains(name, "agua"):
		return "moisture"
	}

	return "motion"
}

func onOffTemplate(field string) string {
	return "{{ 'ON' if value_json." + field + " else 'OFF' }}"
}
