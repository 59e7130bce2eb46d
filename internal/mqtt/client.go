package mqtt

import "encoding/json"

// MQTTClient is the publishing side used by the Home Assistant discovery.
type MQTTClient interface {
	GetPrefix() string
	Topics() *Topics
	Publish(topic string, payload interface{}, retain bool)
}

var _ MQTTClient = (*MQTT)(nil)

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

func (m *MQTT) Publish(topic string, message interface{}, retain bool) {
	m.publish(topic, message, retain)
}

func (m *MQTT) publish(topic string, message interface{}, retain bool) bool {
	if m.client == nil {
		return false
	}
	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		var err error
		payload, err = json.Marshal(message)
		if err != nil {
			m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
			return false
		}
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
		return false
	}
	m.log.Debug("Published message to topic: %s", topic)
	return true
}
