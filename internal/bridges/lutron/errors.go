package lutron

import (
	"errors"
	"fmt"
)

// Domain errors for the Lutron bridge package.
//
// Connection failures are classified by wrapping one of the two root
// classes: ErrConfiguration (no automatic retry) or ErrCommunication
// (retried). Use errors.Is to classify.
var (
	// ErrConfiguration covers bad credentials, unreadable key material and
	// invalid addresses. The bridge stays offline until the config changes.
	ErrConfiguration = errors.New("lutron: configuration error")

	// ErrCommunication covers I/O failures, timeouts and lost connections.
	ErrCommunication = errors.New("lutron: communication error")

	// ErrProtocol is returned for a frame that cannot be parsed. Only the
	// offending frame is dropped.
	ErrProtocol = errors.New("lutron: protocol error")

	// ErrNotFound is returned when a zone, button or handler lookup misses.
	ErrNotFound = errors.New("lutron: not found")

	// ErrUnsupportedCommand is returned when a command has no wire form in
	// the active protocol.
	ErrUnsupportedCommand = errors.New("lutron: unsupported command")

	// ErrQueueFull is returned when the outbound queue is at capacity.
	ErrQueueFull = errors.New("lutron: command queue full")

	// ErrClosed is returned by operations on a closed bridge.
	ErrClosed = errors.New("lutron: bridge closed")
)

// Specific failure kinds, each wrapping one of the root classes above.
var (
	// ErrLoginRejected means the hub kept re-prompting for a login.
	ErrLoginRejected = fmt.Errorf("%w: login rejected", ErrConfiguration)

	// ErrSafeMode means the hub answered with the SAFE> prompt. This is
	// usually transient, so it is retried like any other I/O failure.
	ErrSafeMode = fmt.Errorf("%w: hub is in safe mode", ErrCommunication)

	// ErrConnectionLost is returned when the stream ends or a read fails.
	ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrCommunication)

	// ErrKeepaliveTimeout is recorded when a probe goes unanswered.
	ErrKeepaliveTimeout = fmt.Errorf("%w: keepalive timeout", ErrCommunication)

	// ErrDiscoveryTimeout is recorded when a LEAP session does not finish
	// discovery within the connect timeout.
	ErrDiscoveryTimeout = fmt.Errorf("%w: discovery timeout", ErrCommunication)

	// ErrDiscoveryFailed is returned when the hub refuses a discovery read.
	ErrDiscoveryFailed = fmt.Errorf("%w: discovery failed", ErrCommunication)

	// ErrUnrecognisedFrame is returned for LIP lines that match no frame shape.
	ErrUnrecognisedFrame = fmt.Errorf("%w: unrecognised frame", ErrProtocol)
)

// reasonFor maps a connection error to the offline reason it implies.
func reasonFor(err error) Reason {
	if errors.Is(err, ErrConfiguration) {
		return ReasonConfigurationError
	}
	return ReasonCommunicationError
}
