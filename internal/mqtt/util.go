package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BrokerURL builds the paho broker address. A host may carry its own
// scheme (mqtt://, mqtts://, tcp://, ssl://) and port.
func BrokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	switch {
	case strings.HasPrefix(host, "mqtts://"), strings.HasPrefix(host, "ssl://"):
		scheme = "ssl"
	case strings.HasPrefix(host, "mqtt://"), strings.HasPrefix(host, "tcp://"):
		scheme = "tcp"
	}
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	parts := strings.Split(host, ":")
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%d", &port)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, parts[0], port)
}

// Command is a decoded command payload.
type Command struct {
	Action string `json:"action"`
	Code   string `json:"code"`
}

// ParseCommand accepts a plain action ("arm") or JSON
// ({"action":"arm","code":"1234"}). Actions are lower cased and Home
// Assistant alarm panel payloads are mapped to their native names.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	var cmd Command
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return Command{}, fmt.Errorf("invalid command payload: %v", err)
		}
	} else {
		cmd.Action = text
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	switch cmd.Action {
	case "arm_away":
		cmd.Action = "arm"
	case "arm_home", "arm_night", "stay":
		cmd.Action = "arm_stay"
	}
	if cmd.Action == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	return cmd, nil
}
