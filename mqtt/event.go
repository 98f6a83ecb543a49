package mqtt

import "fmt"

// EventKind classifies what Poll returned.
type EventKind int

const (
	// EventPublish is an incoming application message.
	EventPublish EventKind = iota
	// EventConnected is emitted after a (re)connect to the broker.
	EventConnected
	// EventSubscribed is emitted after the broker acknowledged a subscription.
	EventSubscribed
)

func (k EventKind) String() string {
	switch k {
	case EventPublish:
		return "publish"
	case EventConnected:
		return "connected"
	case EventSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one protocol event delivered by Poll.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
}
