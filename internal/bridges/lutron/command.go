package lutron

import (
	"strconv"
	"time"
)

// MessageType is the LIP command/monitoring type shared by both protocols.
type MessageType string

// Message and command types.
const (
	TypeOutput     MessageType = "OUTPUT"
	TypeDevice     MessageType = "DEVICE"
	TypeSystem     MessageType = "SYSTEM"
	TypeTimeclock  MessageType = "TIMECLOCK"
	TypeMode       MessageType = "MODE"
	TypeSysvar     MessageType = "SYSVAR"
	TypeGroup      MessageType = "GROUP"
	TypeMonitoring MessageType = "MONITORING"
)

// hasIntegrationID reports whether commands of this type address an integration id.
// SYSTEM and MONITORING address the hub itself.
func (t MessageType) hasIntegrationID() bool {
	return t != TypeSystem && t != TypeMonitoring
}

func (t MessageType) valid() bool {
	switch t {
	case TypeOutput, TypeDevice, TypeSystem, TypeTimeclock, TypeMode, TypeSysvar, TypeGroup, TypeMonitoring:
		return true
	}
	return false
}

// Operation distinguishes an execute (#) from a query (?).
type Operation int

// Command operations.
const (
	OpExecute Operation = iota
	OpQuery
)

func (o Operation) prefix() string {
	if o == OpQuery {
		return "?"
	}
	return "#"
}

func (o Operation) String() string {
	if o == OpQuery {
		return "query"
	}
	return "execute"
}

// OUTPUT actions.
const (
	ActionOutputLevel = 1
	ActionOutputRaise = 2
	ActionOutputLower = 3
	ActionOutputStop  = 4
)

// DEVICE component actions, carried as the first parameter.
const (
	DeviceActionPress   = 3
	DeviceActionRelease = 4
)

// GROUP occupancy states, carried as the second parameter of action 3.
const (
	ActionGroupState    = 3
	OccupancyOccupied   = 3
	OccupancyUnoccupied = 4
	OccupancyUnknown    = 255
)

// SYSTEM actions.
const (
	ActionSystemTime = 1
)

// MONITORING classes and their enable/disable values.
const (
	MonitorButton    = 3
	MonitorLED       = 4
	MonitorZone      = 5
	MonitorOccupancy = 6
	MonitorScene     = 8
	MonitorSysvar    = 10
	MonitorPrompt    = 12

	monitorEnable  = 1
	monitorDisable = 2
)

// Command is an outbound instruction for the hub. Commands are immutable
// values; the queue preserves their submission order.
//
// For DEVICE commands Action is the component number and Params[0] is the
// component action (DeviceActionPress, DeviceActionRelease). For SYSTEM and
// MONITORING commands IntegrationID is ignored.
type Command struct {
	Target        MessageType   `json:"target"`
	Operation     Operation     `json:"operation"`
	IntegrationID int           `json:"integration_id,omitempty"`
	Action        int           `json:"action"`
	Params        []string      `json:"params,omitempty"`
	Fade          time.Duration `json:"fade,omitempty"`
	Delay         time.Duration `json:"delay,omitempty"`

	// leap carries a protocol-level request (discovery, ping, subscribe)
	// that bypasses translation.
	leap *leapRequest
}

// Execute builds an execute (#) command.
func Execute(target MessageType, id, action int, params ...string) Command {
	return Command{Target: target, Operation: OpExecute, IntegrationID: id, Action: action, Params: params}
}

// Query builds a query (?) command.
func Query(target MessageType, id, action int) Command {
	return Command{Target: target, Operation: OpQuery, IntegrationID: id, Action: action}
}

// SetLevel builds an OUTPUT level command with optional fade and delay.
func SetLevel(id int, level float64, fade, delay time.Duration) Command {
	cmd := Execute(TypeOutput, id, ActionOutputLevel, formatLevel(level))
	cmd.Fade = fade
	cmd.Delay = delay
	return cmd
}

// Press builds a DEVICE component press.
func Press(deviceID, component int) Command {
	return Execute(TypeDevice, deviceID, component, strconv.Itoa(DeviceActionPress))
}

// Release builds a DEVICE component release.
func Release(deviceID, component int) Command {
	return Execute(TypeDevice, deviceID, component, strconv.Itoa(DeviceActionRelease))
}

// String returns the LIP wire form, or a short description for
// protocol-level LEAP requests.
func (c Command) String() string {
	if c.leap != nil {
		return c.leap.CommuniqueType + " " + c.leap.Header.URL
	}
	line, err := FormatCommand(c)
	if err != nil {
		return string(c.Target) + "(invalid)"
	}
	return line
}

// isLevelSet reports whether fade and delay apply to this command.
func (c Command) isLevelSet() bool {
	return c.Target == TypeOutput && c.Operation == OpExecute && c.Action == ActionOutputLevel
}

// Message is an inbound update parsed from the hub. Sub is zero when the
// frame carried no sub-id.
type Message struct {
	Type          MessageType `json:"type"`
	IntegrationID int         `json:"integration_id"`
	Sub           int         `json:"sub,omitempty"`
	Params        []string    `json:"params"`
}

func formatLevel(level float64) string {
	return strconv.FormatFloat(level, 'f', 2, 64)
}
