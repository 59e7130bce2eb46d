package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) State() string {
	return fmt.Sprintf("%s/state", t.prefix)
}

func (t *Topics) Command() string {
	return fmt.Sprintf("%s/command", t.prefix)
}

func (t *Topics) PartitionState(letter string) string {
	return fmt.Sprintf("%s/partition/%s/state", t.prefix, strings.ToLower(letter))
}

func (t *Topics) PartitionCommand(letter string) string {
	return fmt.Sprintf("%s/partition/%s/command", t.prefix, strings.ToLower(letter))
}

func (t *Topics) ZoneState(number int) string {
	return fmt.Sprintf("%s/zone/%d/state", t.prefix, number)
}

func (t *Topics) PGMState(number int) string {
	return fmt.Sprintf("%s/pgm/%d/state", t.prefix, number)
}

func (t *Topics) PGMCommand(number int) string {
	return fmt.Sprintf("%s/pgm/%d/command", t.prefix, number)
}

// Subscriptions lists the command topic filters.
func (t *Topics) Subscriptions() []string {
	return []string{
		t.Command(),
		fmt.Sprintf("%s/partition/+/command", t.prefix),
		fmt.Sprintf("%s/pgm/+/command", t.prefix),
	}
}

// Target identifies what a command topic addresses.
type Target struct {
	Kind      string // "panel", "partition" or "pgm"
	Partition string
	PGM       int
}

// ParseCommandTopic maps a command topic back to its target.
func (t *Topics) ParseCommandTopic(topic string) (Target, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return Target{}, fmt.Errorf("topic %s outside prefix %s", topic, t.prefix)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] == "command":
		return Target{Kind: "panel"}, nil
	case len(parts) == 3 && parts[0] == "partition" && parts[2] == "command":
		return Target{Kind: "partition", Partition: strings.ToUpper(parts[1])}, nil
	case len(parts) == 3 && parts[0] == "pgm" && parts[2] == "command":
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return Target{}, fmt.Errorf("invalid PGM number in %s", topic)
		}
		return Target{Kind: "pgm", PGM: n}, nil
	}
	return Target{}, fmt.Errorf("unknown command topic %s", topic)
}
