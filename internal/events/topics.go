package events

import "fmt"

// DefaultTopicPrefix is used when the configured prefix is empty
const DefaultTopicPrefix = "minerctl"

// Topics builds the MQTT topics the controller publishes on
//
//	topics := events.Topics{Prefix: "minerctl"}
//	topics.State("10.0.0.5") // "minerctl/state/10.0.0.5"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained topic holding a miner's acknowledged state
func (t Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), address)
}

// Event returns the topic receiving every transition attempt for a miner
func (t Topics) Event(address string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), address)
}

// SystemStatus returns the retained online/offline topic of the controller
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}
