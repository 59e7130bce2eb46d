package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/panel"
	"github.com/daemonp/amt2mqtt/internal/types"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	stateOn  = "ON"
	stateOff = "OFF"

	commandTimeout = 30 * time.Second
)

// Panel is the part of the panel coordinator driven over MQTT.
type Panel interface {
	Name() string
	Status() *types.PanelStatus
	AddListener(l panel.Listener)

	Arm(ctx context.Context, credential string) error
	Disarm(ctx context.Context, credential string) error
	ArmStay(ctx context.Context, credential string) error
	ArmPartition(ctx context.Context, partition, credential string) error
	DisarmPartition(ctx context.Context, partition, credential string) error
	ArmStayPartition(ctx context.Context, partition, credential string) error
	ActivatePGM(ctx context.Context, number int) error
	DeactivatePGM(ctx context.Context, number int) error
	SirenOn(ctx context.Context) error
	SirenOff(ctx context.Context) error
	BypassOpenZones(ctx context.Context) error
}

type MQTT struct {
	config *config.MQTTConfig
	panel  Panel
	log    *log.Logger
	client mqtt.Client
	topics *Topics

	mu        sync.Mutex
	published map[string]string
	onConnect []func()
}

func NewMQTT(cfg *config.MQTTConfig, p Panel, logger *log.Logger) *MQTT {
	m := &MQTT{
		config:    cfg,
		panel:     p,
		log:       logger,
		topics:    NewTopics(cfg.Prefix),
		published: map[string]string{},
	}
	p.AddListener(m.PublishStatus)
	return m
}

func (m *MQTT) Connect() error {
	broker := BrokerURL(m.config.Host, m.config.Port, m.config.CA != "" || m.config.Cert != "")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
	opts.SetAutoReconnect(true)
	// Panel commands block for seconds; run handlers concurrently.
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(m.onConnected)
	opts.SetConnectionLostHandler(m.onDisconnect)

	if strings.HasPrefix(broker, "ssl://") {
		tlsConfig, err := m.tlsConfig()
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), true)

	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	m.log.Info("Connected to MQTT broker: %s", broker)
	return nil
}

func (m *MQTT) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !m.config.RejectUnauthorized,
	}
	if m.config.CA != "" {
		pem, err := os.ReadFile(m.config.CA)
		if err != nil {
			return nil, fmt.Errorf("error reading mqtt.ca: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", m.config.CA)
		}
		tlsConfig.RootCAs = pool
	}
	if m.config.Cert != "" || m.config.Key != "" {
		cert, err := tls.LoadX509KeyPair(m.config.Cert, m.config.Key)
		if err != nil {
			return nil, fmt.Errorf("error loading mqtt client certificate: %v", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// OnConnect registers fn to run after every (re)connection to the broker.
func (m *MQTT) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

func (m *MQTT) onConnected(client mqtt.Client) {
	m.log.Info("MQTT connection established")

	m.mu.Lock()
	m.published = map[string]string{}
	hooks := append([]func(){}, m.onConnect...)
	m.mu.Unlock()

	m.Publish(m.topics.Status(), onlinePayload, true)
	m.subscribeTopics()
	for _, fn := range hooks {
		fn()
	}
	m.PublishStatus(m.panel.Status())
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	for _, topic := range m.topics.Subscriptions() {
		token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
		} else {
			m.log.Debug("Subscribed to topic: %s", topic)
		}
	}
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	m.log.Debug("Received message on topic %s", topic)

	target, err := m.topics.ParseCommandTopic(topic)
	if err != nil {
		m.log.Warning("Received message on unknown topic: %s", topic)
		return
	}
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		m.log.Warning("Ignoring command on %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := m.dispatch(ctx, target, cmd); err != nil {
		m.log.Error("Command %s on %s failed: %v", cmd.Action, topic, err)
	}
}

func (m *MQTT) dispatch(ctx context.Context, target Target, cmd Command) error {
	switch target.Kind {
	case "panel":
		switch cmd.Action {
		case "arm":
			return m.panel.Arm(ctx, cmd.Code)
		case "disarm":
			return m.panel.Disarm(ctx, cmd.Code)
		case "arm_stay":
			return m.panel.ArmStay(ctx, cmd.Code)
		case "siren_on":
			return m.panel.SirenOn(ctx)
		case "siren_off":
			return m.panel.SirenOff(ctx)
		case "bypass_open_zones":
			return m.panel.BypassOpenZones(ctx)
		}
	case "partition":
		switch cmd.Action {
		case "arm":
			return m.panel.ArmPartition(ctx, target.Partition, cmd.Code)
		case "disarm":
			return m.panel.DisarmPartition(ctx, target.Partition, cmd.Code)
		case "arm_stay":
			return m.panel.ArmStayPartition(ctx, target.Partition, cmd.Code)
		}
	case "pgm":
		switch cmd.Action {
		case "on":
			return m.panel.ActivatePGM(ctx, target.PGM)
		case "off":
			return m.panel.DeactivatePGM(ctx, target.PGM)
		}
	}
	return fmt.Errorf("unknown %s command: %s", target.Kind, cmd.Action)
}

type stateMessage struct {
	*types.PanelStatus
	State string `json:"state"`
}

// statusMessages renders a status into topic/payload pairs.
func statusMessages(topics *Topics, status *types.PanelStatus) (map[string]string, error) {
	state, err := json.Marshal(stateMessage{PanelStatus: status, State: status.State().String()})
	if err != nil {
		return nil, err
	}
	messages := map[string]string{topics.State(): string(state)}

	for _, p := range status.Partitions {
		if p.Enabled {
			messages[topics.PartitionState(p.Letter)] = p.State().String()
		}
	}
	for i, open := range status.ZonesOpen {
		messages[topics.ZoneState(i+1)] = onOff(open)
	}
	for i, on := range status.PGMs {
		messages[topics.PGMState(i+1)] = onOff(on)
	}
	return messages, nil
}

func onOff(b bool) string {
	if b {
		return stateOn
	}
	return stateOff
}

// PublishStatus publishes every topic whose payload changed since the last
// connection to the broker.
func (m *MQTT) PublishStatus(status *types.PanelStatus) {
	if status == nil || m.client == nil || !m.client.IsConnected() {
		return
	}
	messages, err := statusMessages(m.topics, status)
	if err != nil {
		m.log.Error("Failed to marshal panel status: %v", err)
		return
	}
	for topic, payload := range messages {
		m.mu.Lock()
		same := m.published[topic] == payload
		m.mu.Unlock()
		if same {
			continue
		}
		if m.publish(topic, payload, true) {
			m.mu.Lock()
			m.published[topic] = payload
			m.mu.Unlock()
		}
	}
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.topics.Status(), offlinePayload, true)
		m.client.Disconnect(250)
	}
}
