package lutron

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MQTTClient is the subset of the MQTT client the bridge needs.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// CommandSink accepts commands from the MQTT intake. *Bridge implements it.
type CommandSink interface {
	TrySendCommand(cmd Command) error
	Status() Status
}

// Publisher mirrors bridge traffic onto MQTT and feeds MQTT commands back
// into the bridge. It is registered as a bridge Observer.
type Publisher struct {
	bridgeID string
	client   MQTTClient
	sink     CommandSink
	logger   Logger
}

// NewPublisher creates a publisher for one bridge.
func NewPublisher(bridgeID string, client MQTTClient, sink CommandSink, logger Logger) *Publisher {
	return &Publisher{bridgeID: bridgeID, client: client, sink: sink, logger: logger}
}

// Start subscribes to the bridge's command topic.
func (p *Publisher) Start() error {
	if err := p.client.Subscribe(CommandTopic(p.bridgeID), 1, p.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	logInfo(p.logger, "listening for commands", "bridge_id", p.bridgeID, "topic", CommandTopic(p.bridgeID))
	return nil
}

// Stop unsubscribes from the command topic. Status and state topics keep
// their retained values.
func (p *Publisher) Stop() error {
	return p.client.Unsubscribe(CommandTopic(p.bridgeID))
}

// ObserveStatus publishes the retained bridge status.
func (p *Publisher) ObserveStatus(bridgeID string, st Status) {
	p.publish(StatusTopic(bridgeID), NewStatusMessage(bridgeID, st), true)
}

// ObserveMessage publishes an inbound message. Level and occupancy updates
// are retained as the last known state; button events are not.
func (p *Publisher) ObserveMessage(bridgeID string, msg Message, handled bool) {
	retained := msg.Type != TypeDevice
	p.publish(StateTopic(bridgeID, msg.IntegrationID), NewStateMessage(bridgeID, msg, handled), retained)
}

func (p *Publisher) handleCommand(_ string, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logWarn(p.logger, "invalid command payload", "bridge_id", p.bridgeID, "error", err)
		p.publish(AckTopic(p.bridgeID), NewAckError(p.bridgeID, msg, ErrCodeInvalidCommand, err.Error()), false)
		return
	}

	cmd, err := msg.ToCommand()
	if err != nil {
		p.publish(AckTopic(p.bridgeID), NewAckError(p.bridgeID, msg, ErrCodeInvalidCommand, err.Error()), false)
		return
	}

	if err := p.sink.TrySendCommand(cmd); err != nil {
		code := ErrCodeBridgeError
		if errors.Is(err, ErrQueueFull) {
			code = ErrCodeQueueFull
		}
		p.publish(AckTopic(p.bridgeID), NewAckError(p.bridgeID, msg, code, err.Error()), false)
		return
	}

	status := AckQueued
	if p.sink.Status().Online() {
		status = AckAccepted
	}
	p.publish(AckTopic(p.bridgeID), NewAckMessage(p.bridgeID, msg, status, cmd.String()), false)
}

func (p *Publisher) publish(topic string, v any, retained bool) {
	if !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logError(p.logger, "encoding MQTT payload", "topic", topic, "error", err)
		return
	}
	if err := p.client.Publish(topic, payload, 1, retained); err != nil {
		logWarn(p.logger, "MQTT publish failed", "topic", topic, "error", err)
	}
}
