package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/panel"
	"github.com/daemonp/amt2mqtt/internal/types"
)

type fakePanel struct {
	calls     []string
	listeners int
	status    *types.PanelStatus
}

func (f *fakePanel) record(format string, args ...interface{}) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakePanel) Name() string                       { return "Test Panel" }
func (f *fakePanel) Status() *types.PanelStatus          { return f.status }
func (f *fakePanel) AddListener(l panel.Listener)        { f.listeners++ }
func (f *fakePanel) Arm(_ context.Context, c string) error     { return f.record("arm %s", c) }
func (f *fakePanel) Disarm(_ context.Context, c string) error  { return f.record("disarm %s", c) }
func (f *fakePanel) ArmStay(_ context.Context, c string) error { return f.record("stay %s", c) }
func (f *fakePanel) ArmPartition(_ context.Context, p, c string) error {
	return f.record("arm %s %s", p, c)
}
func (f *fakePanel) DisarmPartition(_ context.Context, p, c string) error {
	return f.record("disarm %s %s", p, c)
}
func (f *fakePanel) ArmStayPartition(_ context.Context, p, c string) error {
	return f.record("stay %s %s", p, c)
}
func (f *fakePanel) ActivatePGM(_ context.Context, n int) error   { return f.record("pgm on %d", n) }
func (f *fakePanel) DeactivatePGM(_ context.Context, n int) error { return f.record("pgm off %d", n) }
func (f *fakePanel) SirenOn(_ context.Context) error              { return f.record("siren on") }
func (f *fakePanel) SirenOff(_ context.Context) error             { return f.record("siren off") }
func (f *fakePanel) BypassOpenZones(_ context.Context) error      { return f.record("bypass open") }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    Command
		wantErr bool
	}{
		{"arm", Command{Action: "arm"}, false},
		{" DISARM \n", Command{Action: "disarm"}, false},
		{"ARM_AWAY", Command{Action: "arm"}, false},
		{"arm_home", Command{Action: "arm_stay"}, false},
		{`{"action":"arm_home","code":"1234"}`, Command{Action: "arm_stay", Code: "1234"}, false},
		{`{"action":"disarm","code":""}`, Command{Action: "disarm"}, false},
		{`{"action":`, Command{}, true},
		{"", Command{}, true},
		{`{"code":"1234"}`, Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("amt2mqtt")
	tests := map[string]string{
		topics.Status():              "amt2mqtt/status",
		topics.State():               "amt2mqtt/state",
		topics.Command():             "amt2mqtt/command",
		topics.PartitionState("B"):   "amt2mqtt/partition/b/state",
		topics.PartitionCommand("C"): "amt2mqtt/partition/c/command",
		topics.ZoneState(12):         "amt2mqtt/zone/12/state",
		topics.PGMState(3):           "amt2mqtt/pgm/3/state",
		topics.PGMCommand(3):         "amt2mqtt/pgm/3/command",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("topic = %q, want %q", got, want)
		}
	}
}

func TestParseCommandTopic(t *testing.T) {
	topics := NewTopics("amt2mqtt")
	tests := []struct {
		topic   string
		want    Target
		wantErr bool
	}{
		{"amt2mqtt/command", Target{Kind: "panel"}, false},
		{"amt2mqtt/partition/b/command", Target{Kind: "partition", Partition: "B"}, false},
		{"amt2mqtt/pgm/4/command", Target{Kind: "pgm", PGM: 4}, false},
		{"amt2mqtt/pgm/x/command", Target{}, true},
		{"amt2mqtt/zone/1/state", Target{}, true},
		{"other/command", Target{}, true},
	}
	for _, tt := range tests {
		got, err := topics.ParseCommandTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommandTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCommandTopic(%q) = %+v, want %+v", tt.topic, got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		tls  bool
		want string
	}{
		{"localhost", 1883, false, "tcp://localhost:1883"},
		{"localhost", 8883, true, "ssl://localhost:8883"},
		{"mqtt://broker:1884", 1883, false, "tcp://broker:1884"},
		{"mqtts://broker", 8883, false, "ssl://broker:8883"},
		{"ssl://broker", 8883, false, "ssl://broker:8883"},
		{"broker:2000", 1883, false, "tcp://broker:2000"},
	}
	for _, tt := range tests {
		if got := BrokerURL(tt.host, tt.port, tt.tls); got != tt.want {
			t.Errorf("BrokerURL(%q, %d, %v) = %q, want %q", tt.host, tt.port, tt.tls, got, tt.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	fp := &fakePanel{}
	m := NewMQTT(&config.MQTTConfig{Prefix: "amt2mqtt"}, fp, log.NewNop())
	if fp.listeners != 1 {
		t.Fatalf("listeners = %d, want 1", fp.listeners)
	}

	ctx := context.Background()
	steps := []struct {
		target Target
		cmd    Command
	}{
		{Target{Kind: "panel"}, Command{Action: "arm", Code: "1234"}},
		{Target{Kind: "panel"}, Command{Action: "arm_stay"}},
		{Target{Kind: "panel"}, Command{Action: "siren_off"}},
		{Target{Kind: "panel"}, Command{Action: "bypass_open_zones"}},
		{Target{Kind: "partition", Partition: "B"}, Command{Action: "disarm", Code: "9999"}},
		{Target{Kind: "pgm", PGM: 2}, Command{Action: "on"}},
		{Target{Kind: "pgm", PGM: 2}, Command{Action: "off"}},
	}
	for _, s := range steps {
		if err := m.dispatch(ctx, s.target, s.cmd); err != nil {
			t.Fatalf("dispatch(%+v, %+v) error = %v", s.target, s.cmd, err)
		}
	}
	want := []string{"arm 1234", "stay ", "siren off", "bypass open", "disarm B 9999", "pgm on 2", "pgm off 2"}
	if fmt.Sprint(fp.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %q, want %q", fp.calls, want)
	}

	if err := m.dispatch(ctx, Target{Kind: "pgm", PGM: 1}, Command{Action: "toggle"}); err == nil {
		t.Error("dispatch(toggle) error = nil")
	}
	if err := m.dispatch(ctx, Target{Kind: "partition", Partition: "A"}, Command{Action: "siren_on"}); err == nil {
		t.Error("dispatch(partition siren_on) error = nil")
	}
}

func TestStatusMessages(t *testing.T) {
	status := &types.PanelStatus{
		Connected: true,
		Armed:     true,
		Stay:      true,
		ZonesOpen: []bool{true, false, false},
		PGMs:      []bool{false, true},
		Partitions: []types.PartitionStatus{
			{Letter: "A", Enabled: true, Armed: true},
			{Letter: "B", Enabled: false},
		},
	}
	topics := NewTopics("amt2mqtt")
	messages, err := statusMessages(topics, status)
	if err != nil {
		t.Fatalf("statusMessages() error = %v", err)
	}

	var state map[string]interface{}
	if err := json.Unmarshal([]byte(messages[topics.State()]), &state); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if state["state"] != "armed_home" || state["armed"] != true || state["connected"] != true {
		t.Errorf("state payload = %v", state)
	}

	checks := map[string]string{
		topics.PartitionState("A"): "armed_away",
		topics.ZoneState(1):        "ON",
		topics.ZoneState(3):        "OFF",
		topics.PGMState(2):         "ON",
	}
	for topic, want := range checks {
		if messages[topic] != want {
			t.Errorf("%s = %q, want %q", topic, messages[topic], want)
		}
	}
	if _, ok := messages[topics.PartitionState("B")]; ok {
		t.Error("disabled partition B was published")
	}
	if len(messages) != 1+1+3+2 {
		t.Errorf("len(messages) = %d, want 7", len(messages))
	}
}

func TestPublishWithoutBroker(t *testing.T) {
	m := NewMQTT(&config.MQTTConfig{Prefix: "amt2mqtt"}, &fakePanel{}, log.NewNop())
	m.PublishStatus(&types.PanelStatus{Connected: true})
	if m.publish("amt2mqtt/test", "x", false) {
		t.Error("publish() = true without a client")
	}
	if m.GetPrefix() != "amt2mqtt" || m.Topics().State() != "amt2mqtt/state" {
		t.Errorf("prefix = %q", m.GetPrefix())
	}
}
