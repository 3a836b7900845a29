package lutron

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(c bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = c
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// fakeSink implements CommandSink for testing.
type fakeSink struct {
	mu       sync.Mutex
	commands []Command
	err      error
	status   Status
}

func (s *fakeSink) TrySendCommand(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *fakeSink) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func lastAck(t *testing.T, client *MockMQTTClient) AckMessage {
	t.Helper()
	pubs := client.GetPublished()
	for i := len(pubs) - 1; i >= 0; i-- {
		if pubs[i].Topic == AckTopic("hub") {
			var ack AckMessage
			if err := json.Unmarshal(pubs[i].Payload, &ack); err != nil {
				t.Fatalf("invalid ack JSON: %v", err)
			}
			if pubs[i].Retained {
				t.Error("acks must not be retained")
			}
			return ack
		}
	}
	t.Fatal("no ack published")
	return AckMessage{}
}

func TestPublisherCommandIntake(t *testing.T) {
	client := NewMockMQTTClient()
	sink := &fakeSink{status: Status{State: StateOnline}}
	p := NewPublisher("hub", client, sink, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"raw line", `{"id":"c1","line":"#OUTPUT,12,1,75"}`, "#OUTPUT,12,1,75"},
		{"structured level", `{"id":"c2","target":"output","integration_id":12,"action":1,"params":["50.00"],"fade_seconds":2}`, "#OUTPUT,12,1,50.00,2.00"},
		{"structured press", `{"id":"c3","target":"DEVICE","integration_id":5,"action":3,"params":["3"]}`, "#DEVICE,5,3,3"},
		{"query", `{"id":"c4","target":"OUTPUT","query":true,"integration_id":12,"action":1}`, "?OUTPUT,12,1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.SimulateMessage(CommandTopic("hub"), []byte(tt.payload))

			ack := lastAck(t, client)
			if ack.Status != AckAccepted || ack.Command != tt.want || ack.Protocol != "lutron" {
				t.Errorf("ack = %+v, want accepted %q", ack, tt.want)
			}

			sink.mu.Lock()
			last := sink.commands[len(sink.commands)-1]
			sink.mu.Unlock()
			if last.String() != tt.want {
				t.Errorf("queued %q, want %q", last.String(), tt.want)
			}
		})
	}
}

func TestPublisherAckQueuedWhileOffline(t *testing.T) {
	client := NewMockMQTTClient()
	sink := &fakeSink{status: Status{State: StateOffline, Reason: ReasonCommunicationError}}
	p := NewPublisher("hub", client, sink, nil)
	p.Start() //nolint:errcheck

	client.SimulateMessage(CommandTopic("hub"), []byte(`{"id":"c1","line":"#OUTPUT,12,1,75"}`))
	if ack := lastAck(t, client); ack.Status != AckQueued || ack.CommandID != "c1" {
		t.Errorf("ack = %+v, want queued", ack)
	}
}

func TestPublisherCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		sinkErr error
		code    string
	}{
		{"bad json", `{"id":`, nil, ErrCodeInvalidCommand},
		{"bad line", `{"id":"c1","line":"hello"}`, nil, ErrCodeInvalidCommand},
		{"bad target", `{"id":"c1","target":"LIGHT","integration_id":1}`, nil, ErrCodeInvalidCommand},
		{"missing id", `{"id":"c1","target":"OUTPUT","action":1}`, nil, ErrCodeInvalidCommand},
		{"negative fade", `{"id":"c1","target":"OUTPUT","integration_id":1,"action":1,"fade_seconds":-1}`, nil, ErrCodeInvalidCommand},
		{"queue full", `{"id":"c1","line":"#OUTPUT,12,1,75"}`, ErrQueueFull, ErrCodeQueueFull},
		{"closed", `{"id":"c1","line":"#OUTPUT,12,1,75"}`, ErrClosed, ErrCodeBridgeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			p := NewPublisher("hub", client, &fakeSink{err: tt.sinkErr}, nil)
			p.Start() //nolint:errcheck

			client.SimulateMessage(CommandTopic("hub"), []byte(tt.payload))
			ack := lastAck(t, client)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.code {
				t.Errorf("ack = %+v, want failed with %s", ack, tt.code)
			}
		})
	}
}

func TestPublisherStop(t *testing.T) {
	client := NewMockMQTTClient()
	sink := &fakeSink{status: Status{State: StateOnline}}
	p := NewPublisher("hub", client, sink, nil)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	client.SimulateMessage(CommandTopic("hub"), []byte(`{"id":"c1","line":"#OUTPUT,12,1,75"}`))
	if len(sink.commands) != 0 || len(client.GetPublished()) != 0 {
		t.Error("commands must be ignored after Stop")
	}
}

func TestPublisherObserve(t *testing.T) {
	client := NewMockMQTTClient()
	p := NewPublisher("hub", client, &fakeSink{}, nil)

	p.ObserveStatus("hub", Status{State: StateOnline, Since: time.Now()})
	p.ObserveMessage("hub", Message{Type: TypeOutput, IntegrationID: 12, Params: []string{"1", "75.00"}}, true)
	p.ObserveMessage("hub", Message{Type: TypeDevice, IntegrationID: 5, Params: []string{"3", "3"}}, false)

	pubs := client.GetPublished()
	if len(pubs) != 3 {
		t.Fatalf("published %d messages, want 3", len(pubs))
	}

	if pubs[0].Topic != StatusTopic("hub") || !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Errorf("status publish = %+v", pubs[0])
	}
	var status map[string]any
	if err := json.Unmarshal(pubs[0].Payload, &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status["state"] != "online" || status["bridge"] != "hub" {
		t.Errorf("status payload = %v", status)
	}

	if pubs[1].Topic != StateTopic("hub", 12) || !pubs[1].Retained {
		t.Errorf("level publish = %+v, want retained state", pubs[1])
	}
	var state StateMessage
	if err := json.Unmarshal(pubs[1].Payload, &state); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if !state.Handled || state.Type != TypeOutput || state.Params[1] != "75.00" {
		t.Errorf("state = %+v", state)
	}

	if pubs[2].Topic != StateTopic("hub", 5) || pubs[2].Retained {
		t.Errorf("button publish = %+v, button events must not be retained", pubs[2])
	}
}

func TestPublisherSkipsWhenDisconnected(t *testing.T) {
	client := NewMockMQTTClient()
	client.setConnected(false)
	p := NewPublisher("hub", client, &fakeSink{}, nil)

	p.ObserveStatus("hub", Status{State: StateOnline})
	if n := len(client.GetPublished()); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
}

func TestPublisherAsBridgeObserver(t *testing.T) {
	b, dialer, _ := newTestBridge(t, testLIPConfig())
	client := NewMockMQTTClient()
	p := NewPublisher(b.ID(), client, b, nil)
	b.AddObserver(p)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	if err := b.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	dialer.transport(0).send("~OUTPUT,12,1,75.00")

	waitUntil(t, "state publish", func() bool {
		for _, pub := range client.GetPublished() {
			if pub.Topic == StateTopic(b.ID(), 12) {
				return true
			}
		}
		return false
	})

	client.SimulateMessage(CommandTopic(b.ID()), []byte(`{"id":"c9","line":"#OUTPUT,12,1,10"}`))
	waitUntil(t, "command written", func() bool { return dialer.transport(0).wrote("#OUTPUT,12,1,10") })
	if ack := lastAck(t, client); ack.Status != AckAccepted {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommandMessageToCommand(t *testing.T) {
	msg := CommandMessage{Target: "output", IntegrationID: 3, Action: ActionOutputLevel, Params: []string{"20.00"}, DelaySeconds: 1.5}
	cmd, err := msg.ToCommand()
	if err != nil {
		t.Fatalf("ToCommand() error: %v", err)
	}
	if cmd.Delay != 1500*time.Millisecond || cmd.Target != TypeOutput {
		t.Errorf("ToCommand() = %+v", cmd)
	}

	sys := CommandMessage{Target: TypeSystem, Query: true, Action: ActionSystemTime}
	if cmd, err := sys.ToCommand(); err != nil || cmd.String() != "?SYSTEM,1" {
		t.Errorf("SYSTEM ToCommand() = %v, %v", cmd, err)
	}

	if _, err := (CommandMessage{Line: "bogus"}).ToCommand(); err == nil {
		t.Error("ToCommand() should reject an unparseable line")
	}
	if _, err := (CommandMessage{Target: "OUTPUT"}).ToCommand(); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("ToCommand() without id error = %v", err)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{CommandTopic("main-hub"), "graylogic/command/lutron/main-hub"},
		{AckTopic("main-hub"), "graylogic/ack/lutron/main-hub"},
		{StateTopic("main-hub", 12), "graylogic/state/lutron/main-hub/12"},
		{StatusTopic("main-hub"), "graylogic/status/lutron/main-hub"},
		{HealthTopic("main-hub"), "graylogic/health/lutron/main-hub"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}
