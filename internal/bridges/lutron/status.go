package lutron

import (
	"fmt"
	"time"
)

// State is the connection state of a bridge.
type State int

// Bridge states in connection order.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateInitializing
	StateOnline
	StateOffline
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateInitializing:   "initializing",
	StateOnline:         "online",
	StateOffline:        "offline",
}

// String returns the lower-case state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler so states serialise by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason qualifies an offline status.
type Reason string

// Offline reasons.
const (
	ReasonNone               Reason = ""
	ReasonConfigurationError Reason = "CONFIGURATION_ERROR"
	ReasonCommunicationError Reason = "COMMUNICATION_ERROR"
	ReasonBridgeOffline      Reason = "BRIDGE_OFFLINE"

	// ReasonDutyCycle is reported by RF device handlers when the hub refuses
	// traffic because its transmit duty cycle is exhausted.
	ReasonDutyCycle Reason = "DUTY_CYCLE"
)

// Status is a snapshot of the bridge connection state.
type Status struct {
	State  State     `json:"state"`
	Reason Reason    `json:"reason,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Since  time.Time `json:"since"`
}

// Online reports whether the bridge is ready to carry commands.
func (s Status) Online() bool {
	return s.State == StateOnline
}

// Retrying reports whether the bridge will reconnect without intervention.
func (s Status) Retrying() bool {
	return s.State == StateOffline && s.Reason != ReasonConfigurationError
}

func (s Status) String() string {
	switch {
	case s.Reason != ReasonNone && s.Detail != "":
		return fmt.Sprintf("%s(%s: %s)", s.State, s.Reason, s.Detail)
	case s.Reason != ReasonNone:
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	default:
		return s.State.String()
	}
}

// sameAs ignores Since so repeated transitions into one state are not re-announced.
func (s Status) sameAs(o Status) bool {
	return s.State == o.State && s.Reason == o.Reason && s.Detail == o.Detail
}
