package bus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadTopic is returned for topics outside the cmd/ and data/ scheme.
var ErrBadTopic = errors.New("bad topic")

// Kind identifies what a message is about.
type Kind string

const (
	// Broadcast commands, manager to every node.
	KindScan   Kind = "scan"
	KindSelect Kind = "select"
	KindStop   Kind = "stop"
	KindEnd    Kind = "end"

	// Node lifecycle, node to manager.
	KindRegister Kind = "register"
	KindReady    Kind = "ready"
	KindCrash    Kind = "crash"

	// Manager to one node.
	KindRegAck Kind = "regack"

	// Telemetry batch, node to manager.
	KindData Kind = "data"
)

// All is the node placeholder of broadcast topics.
const All = "all"

// Envelope is a message parsed at the transport boundary. Node is the node the
// topic names: the sender of lifecycle and data messages, the addressee of
// targeted commands, empty for broadcasts.
type Envelope struct {
	Node    string
	Kind    Kind
	Payload []byte
}

// Broadcast reports whether the message went to every node.
func (e Envelope) Broadcast() bool {
	return e.Node == ""
}

// BroadcastTopic is cmd/all/<kind>.
func BroadcastTopic(kind Kind) string {
	return "cmd/" + All + "/" + string(kind)
}

// CommandTopic is cmd/<node>/<kind>.
func CommandTopic(node string, kind Kind) string {
	return "cmd/" + node + "/" + string(kind)
}

// DataTopic is data/<node>.
func DataTopic(node string) string {
	return "data/" + node
}

// Parse turns a topic and payload into an Envelope.
func Parse(topic string, payload []byte) (Envelope, error) {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 3 && parts[0] == "cmd" && parts[1] != "" && parts[2] != "":
		env := Envelope{Kind: Kind(parts[2]), Payload: payload}
		if parts[1] != All {
			env.Node = parts[1]
		}
		return env, nil
	case len(parts) == 2 && parts[0] == "data" && parts[1] != "" && parts[1] != All:
		return Envelope{Node: parts[1], Kind: KindData, Payload: payload}, nil
	}
	return Envelope{}, fmt.Errorf("%w: %q", ErrBadTopic, topic)
}

// ValidNodeID reports whether id can be used as a topic level.
func ValidNodeID(id string) bool {
	return id != "" && id != All && !strings.ContainsAny(id, "/+#")
}

// Match reports whether topic matches an MQTT subscription filter with the
// + and # wildcards.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
