package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/daemonp/amt2mqtt/internal/protocol"
	"github.com/daemonp/amt2mqtt/internal/types"
	"github.com/daemonp/amt2mqtt/internal/util"
)

type Config struct {
	AMT           AMTConfig           `yaml:"amt"`
	Control       ControlConfig       `yaml:"control"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Zones         []ZoneConfig        `yaml:"zones"`
	Partitions    []PartitionConfig   `yaml:"partitions"`
	PGMs          []PGMConfig         `yaml:"pgms"`
	Log           string              `yaml:"log"`
	Cache         bool                `yaml:"cache"`
}

type AMTConfig struct {
	Name string `yaml:"name"`
	// Host selects client mode. Leave empty to wait for the panel to connect.
	Host               string             `yaml:"host"`
	ListenHost         string             `yaml:"listen_host"`
	Port               int                `yaml:"port"`
	Password           string             `yaml:"password"`
	PartitionPasswords PartitionPasswords `yaml:"partition_passwords"`
	Protocol           string             `yaml:"protocol"`
	Timeout            int                `yaml:"timeout"`
	ReconnectInterval  int                `yaml:"reconnect_interval"`
	ScanInterval       int                `yaml:"scan_interval"`
}

type PartitionPasswords struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
	C string `yaml:"c"`
	D string `yaml:"d"`
}

// Map returns the non-empty overrides keyed by partition letter.
func (p PartitionPasswords) Map() map[string]string {
	m := map[string]string{}
	for letter, pw := range map[string]string{"A": p.A, "B": p.B, "C": p.C, "D": p.D} {
		if pw != "" {
			m[letter] = pw
		}
	}
	return m
}

type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MQTTConfig struct {
	ClientID           string `yaml:"client_id"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Keepalive          int    `yaml:"keepalive"`
	Password           string `yaml:"password"`
	QOS                int    `yaml:"qos"`
	Retain             bool   `yaml:"retain"`
	Username           string `yaml:"username"`
	CA                 string `yaml:"ca"`
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	RejectUnauthorized bool   `yaml:"reject_unauthorized"`
	Prefix             string `yaml:"prefix"`
	Clean              bool   `yaml:"clean"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
}

type ZoneConfig struct {
	Number      int    `yaml:"number"`
	Name        string `yaml:"name"`
	DeviceClass string `yaml:"device_class"`
}

type PGMConfig struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

type PartitionConfig struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	CodeArmRequired    bool   `yaml:"code_arm_required"`
	CodeDisarmRequired bool   `yaml:"code_disarm_required"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Config{
		Control:       ControlConfig{Enabled: true},
		MQTT:          MQTTConfig{RejectUnauthorized: true},
		HomeAssistant: HomeAssistantConfig{Discovery: true},
		Cache:         true,
	}
	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.AMT.Name == "" {
		c.AMT.Name = "Intelbras AMT"
	}
	if c.AMT.ListenHost == "" {
		c.AMT.ListenHost = "0.0.0.0"
	}
	if c.AMT.Port == 0 {
		c.AMT.Port = 9009
	}
	if c.AMT.Protocol == "" {
		c.AMT.Protocol = string(protocol.VariantISECNet2)
	}
	if c.AMT.Timeout == 0 {
		c.AMT.Timeout = 5
	}
	if c.AMT.ReconnectInterval == 0 {
		c.AMT.ReconnectInterval = 10
	}
	if c.AMT.ScanInterval == 0 {
		c.AMT.ScanInterval = 1
	}
	if c.Control.Host == "" {
		c.Control.Host = "127.0.0.1"
	}
	if c.Control.Port == 0 {
		c.Control.Port = 9019
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "amt2mqtt"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Keepalive == 0 {
		c.MQTT.Keepalive = 60
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "amt2mqtt"
	}
	if c.HomeAssistant.Prefix == "" {
		c.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Log == "" {
		c.Log = "info"
	}
	for i := range c.Partitions {
		c.Partitions[i].ID = strings.ToUpper(c.Partitions[i].ID)
	}
}

func (c *Config) Validate() error {
	if c.AMT.Port < 1 || c.AMT.Port > 65535 {
		return fmt.Errorf("invalid amt.port %d: must be between 1 and 65535", c.AMT.Port)
	}
	if len(c.AMT.Password) < 4 {
		return fmt.Errorf("amt.password must have at least 4 characters")
	}
	if !util.Contains(protocol.Variants(), c.AMT.Protocol) {
		return fmt.Errorf("invalid amt.protocol %q: must be %s", c.AMT.Protocol, util.JoinWithOr(protocol.Variants()))
	}
	if c.AMT.ScanInterval < 1 {
		return fmt.Errorf("invalid amt.scan_interval %d: must be at least 1", c.AMT.ScanInterval)
	}
	if c.AMT.Timeout < 1 {
		return fmt.Errorf("invalid amt.timeout %d: must be at least 1", c.AMT.Timeout)
	}
	if c.Control.Enabled && (c.Control.Port < 1 || c.Control.Port > 65535) {
		return fmt.Errorf("invalid control.port %d: must be between 1 and 65535", c.Control.Port)
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		return fmt.Errorf("invalid mqtt.qos %d: must be 0, 1 or 2", c.MQTT.QOS)
	}
	for _, p := range c.Partitions {
		if _, err := types.PartitionNumber(p.ID); err != nil {
			return fmt.Errorf("invalid partitions entry: %v", err)
		}
	}
	for _, p := range c.PGMs {
		if p.Number < 1 || p.Number > types.MaxPGMs {
			return fmt.Errorf("invalid pgms entry %q: number must be between 1 and %d", p.Name, types.MaxPGMs)
		}
	}
	for _, z := range c.Zones {
		if z.Number < 1 {
			return fmt.Errorf("invalid zones entry %q: number must be at least 1", z.Name)
		}
	}
	return nil
}

// ServerMode reports whether the bridge waits for the panel to dial in.
func (c *AMTConfig) ServerMode() bool {
	return c.Host == ""
}

func (c *AMTConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *AMTConfig) ReconnectDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Second
}

func (c *AMTConfig) ScanDuration() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

// Zone returns the configured name and device class for a zone, if any.
func (c *Config) Zone(number int) (ZoneConfig, bool) {
	for _, z := range c.Zones {
		if z.Number == number {
			return z, true
		}
	}
	return ZoneConfig{}, false
}

func (c *Config) Partition(letter string) (PartitionConfig, bool) {
	for _, p := range c.Partitions {
		if p.ID == letter {
			return p, true
		}
	}
	return PartitionConfig{}, false
}
