package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic topic.
const TopicPrefix = "graylogic"

// Topics builds the service-level and wildcard topics. Per-bridge topics
// (command, ack, state, status, health) are built by the lutron package.
type Topics struct{}

// ServiceStatus returns the retained online/offline topic of the bridge
// service itself.
//
// Example: graylogic/system/lutron/status
func (Topics) ServiceStatus() string {
	return fmt.Sprintf("%s/system/%s/status", TopicPrefix, "lutron")
}

// AllCommands matches the command topics of every hub.
//
// Example: graylogic/command/lutron/+
func (Topics) AllCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AllStates matches every state topic of every hub.
//
// Example: graylogic/state/lutron/#
func (Topics) AllStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/#", TopicPrefix, protocol)
}
