package lutron

import (
	"context"
	"fmt"
)

// Protocol selects the wire protocol spoken to the hub.
type Protocol string

// Supported protocols.
const (
	ProtocolLIP  Protocol = "lip"
	ProtocolLEAP Protocol = "leap"
)

// protocol is the per-variant connection behaviour.
type protocol interface {
	name() string

	// handshake authenticates an established transport. It must honour
	// ctx and classify failures as ErrConfiguration or ErrCommunication.
	handshake(ctx context.Context, t Transport, cfg Config) error

	// newCodec returns a codec for one session.
	newCodec(reg *Registry, cfg Config, logger Logger) codec
}

// codec translates between Commands/Messages and wire lines for one session.
type codec interface {
	encode(cmd Command) (string, error)
	decode(line string) (decoded, error)

	// initCommands are written by a new session before anything queued.
	initCommands() []Command

	// probe is the keepalive request.
	probe() Command

	// awaitsDiscovery reports whether Online must wait for decode to
	// report discovery complete.
	awaitsDiscovery() bool
}

// decoded is the result of decoding one inbound line.
type decoded struct {
	messages []Message

	// followUp commands are enqueued after dispatch (LEAP button subscriptions).
	followUp []Command

	// discovered is set once the codec has the discovery data it needs.
	discovered bool

	// failed ends the session: the hub refused a request discovery needs.
	failed error
}

func protocolFor(p Protocol) (protocol, error) {
	switch p {
	case ProtocolLIP:
		return lipProtocol{}, nil
	case ProtocolLEAP:
		return leapProtocol{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrConfiguration, p)
	}
}
