package bus

// Handler receives parsed messages. Handlers of one bus run one at a time, in
// arrival order.
type Handler func(Envelope)

// Message is a topic and payload, used for last-will messages.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the publish/subscribe transport between nodes and the manager.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(filter string, h Handler) error
	// Err delivers a fatal transport error once reconnecting has been given up.
	Err() <-chan error
	Close()
}
