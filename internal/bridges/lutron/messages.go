package lutron

import (
	"fmt"
	"strings"
	"time"
)

// MQTT payloads exchanged between Gray Logic Core and the Lutron bridge.

// protocolName is the protocol identifier carried in payloads.
const protocolName = "lutron"

// CommandMessage is sent from Core to the bridge.
// Topic: graylogic/command/lutron/{bridge}
//
// Either Line carries a raw LIP command ("#OUTPUT,12,1,75") or the
// structured fields describe one. Line wins when both are present.
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Line string `json:"line,omitempty"`

	Target        MessageType `json:"target,omitempty"`
	Query         bool        `json:"query,omitempty"`
	IntegrationID int         `json:"integration_id,omitempty"`
	Action        int         `json:"action,omitempty"`
	Params        []string    `json:"params,omitempty"`
	FadeSeconds   float64     `json:"fade_seconds,omitempty"`
	DelaySeconds  float64     `json:"delay_seconds,omitempty"`

	// Source indicates where the command originated ("api", "automation", "scene").
	Source string `json:"source,omitempty"`
}

// ToCommand converts the message to a bridge command.
func (m CommandMessage) ToCommand() (Command, error) {
	if m.Line != "" {
		return ParseCommand(m.Line)
	}

	target := MessageType(strings.ToUpper(string(m.Target)))
	if !target.valid() {
		return Command{}, fmt.Errorf("%w: target %q", ErrUnsupportedCommand, m.Target)
	}
	if target.hasIntegrationID() && m.IntegrationID <= 0 {
		return Command{}, fmt.Errorf("%w: integration_id is required for %s", ErrUnsupportedCommand, target)
	}
	if m.FadeSeconds < 0 || m.DelaySeconds < 0 {
		return Command{}, fmt.Errorf("%w: negative fade or delay", ErrUnsupportedCommand)
	}

	cmd := Command{
		Target:        target,
		Operation:     OpExecute,
		IntegrationID: m.IntegrationID,
		Action:        m.Action,
		Params:        m.Params,
	}
	if m.Query {
		cmd.Operation = OpQuery
	}
	if cmd.isLevelSet() {
		cmd.Fade = time.Duration(m.FadeSeconds * float64(time.Second))
		cmd.Delay = time.Duration(m.DelaySeconds * float64(time.Second))
	}
	return cmd, nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means the command was queued while the bridge was online.
	AckAccepted AckStatus = "accepted"

	// AckQueued means the command is held until the hub is reachable again.
	AckQueued AckStatus = "queued"

	// AckFailed means the command could not be parsed or queued.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a CommandMessage.
// Topic: graylogic/ack/lutron/{bridge}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Bridge    string    `json:"bridge"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Command   string    `json:"command,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
	ErrCodeQueueFull      = "QUEUE_FULL"
)

// StateMessage mirrors one inbound message from the hub.
// Topic: graylogic/state/lutron/{bridge}/{integration_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Bridge        string      `json:"bridge"`
	Timestamp     time.Time   `json:"timestamp"`
	Protocol      string      `json:"protocol"`
	Type          MessageType `json:"type"`
	IntegrationID int         `json:"integration_id"`
	Sub           int         `json:"sub,omitempty"`
	Params        []string    `json:"params"`
	Handled       bool        `json:"handled"`
}

// StatusMessage reports a bridge status change.
// Topic: graylogic/status/lutron/{bridge}
// QoS: 1, Retained: Yes
type StatusMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Reason    Reason    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Since     time.Time `json:"since"`
}

// HealthStatus represents the operational status of the bridge process.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is published by the broker as the last will.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge health.
// Topic: graylogic/health/lutron/{bridge}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge             string            `json:"bridge"`
	Timestamp          time.Time         `json:"timestamp"`
	Status             HealthStatus      `json:"status"`
	Version            string            `json:"version"`
	UptimeSeconds      int64             `json:"uptime_seconds"`
	Connection         *ConnectionStatus `json:"connection,omitempty"`
	Statistics         *Stats            `json:"statistics,omitempty"`
	HandlersRegistered int               `json:"handlers_registered"`
	Reason             string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the hub connection.
type ConnectionStatus struct {
	State          State      `json:"state"`
	Reason         Reason     `json:"reason,omitempty"`
	Protocol       Protocol   `json:"protocol"`
	Address        string     `json:"address"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// NewAckMessage creates an acknowledgment for cmd.
func NewAckMessage(bridgeID string, cmd CommandMessage, status AckStatus, command string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Status:    status,
		Protocol:  protocolName,
		Command:   command,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(bridgeID string, cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(bridgeID, cmd, AckFailed, "")
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for an inbound message.
func NewStateMessage(bridgeID string, msg Message, handled bool) StateMessage {
	return StateMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Protocol:      protocolName,
		Type:          msg.Type,
		IntegrationID: msg.IntegrationID,
		Sub:           msg.Sub,
		Params:        msg.Params,
		Handled:       handled,
	}
}

// NewStatusMessage creates a status message.
func NewStatusMessage(bridgeID string, st Status) StatusMessage {
	return StatusMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		State:     st.State,
		Reason:    st.Reason,
		Detail:    st.Detail,
		Since:     st.Since.UTC(),
	}
}

// NewLWTMessage creates the Last Will and Testament payload.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the command intake topic.
// Example: graylogic/command/lutron/main-hub
func CommandTopic(bridgeID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocolName, bridgeID)
}

// AckTopic returns the acknowledgment topic.
func AckTopic(bridgeID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocolName, bridgeID)
}

// StateTopic returns the state topic for one integration id.
// Example: graylogic/state/lutron/main-hub/12
func StateTopic(bridgeID string, integrationID int) string {
	return fmt.Sprintf("%s/state/%s/%s/%d", TopicPrefix, protocolName, bridgeID, integrationID)
}

// StatusTopic returns the bridge status topic.
func StatusTopic(bridgeID string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefix, protocolName, bridgeID)
}

// HealthTopic returns the health topic.
func HealthTopic(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s/%s", TopicPrefix, protocolName, bridgeID)
}
