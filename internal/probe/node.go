package probe

import (
	"WiFiSpectra/internal/bus"
	"WiFiSpectra/internal/capture"
	"WiFiSpectra/internal/model"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Emitter publishes the engine's telemetry batches on data/<id>.
func Emitter(b bus.Bus, id string) capture.Emitter {
	topic := bus.DataTopic(id)
	return func(kind model.PayloadKind, payload []byte) error {
		return b.Publish(topic, payload)
	}
}

// Will is the last-will message of a capture node.
func Will(id string) *bus.Message {
	return &bus.Message{Topic: bus.CommandTopic(id, bus.KindCrash)}
}

// Node runs one capture node: it registers with the manager, feeds manager
// commands into the capture engine and leaves gracefully on shutdown.
type Node struct {
	id       string
	bus      bus.Bus
	engine   *capture.Engine
	interval time.Duration
	log      *zap.SugaredLogger

	mu         sync.Mutex
	registered bool
	target     model.APRecord
	regAck     chan struct{}
}

// NewNode creates a node. interval is the pause between register attempts.
func NewNode(id string, b bus.Bus, engine *capture.Engine, interval time.Duration, log *zap.SugaredLogger) *Node {
	return &Node{
		id:       id,
		bus:      b,
		engine:   engine,
		interval: interval,
		log:      log,
		regAck:   make(chan struct{}, 1),
	}
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Registered reports whether the manager acknowledged this node.
func (n *Node) Registered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registered
}

// Run registers and captures until ctx is cancelled. An end command sends
// the node back to registration.
func (n *Node) Run(ctx context.Context) error {
	subs := []string{
		"cmd/" + bus.All + "/+",
		bus.CommandTopic(n.id, bus.KindRegAck),
		bus.CommandTopic(n.id, bus.KindSelect),
	}
	for _, filter := range subs {
		if err := n.bus.Subscribe(filter, n.handle); err != nil {
			return err
		}
	}

	for {
		if err := n.register(ctx); err != nil {
			return nil
		}

		n.engine.Reset()
		if err := n.bus.Publish(bus.CommandTopic(n.id, bus.KindReady), nil); err != nil {
			n.log.Warnf("Failed to announce readiness: %v", err)
		}
		n.mu.Lock()
		target := n.target
		n.mu.Unlock()
		if !target.BSSID.IsZero() {
			n.log.Infof("Resuming capture of %s", target.BSSID)
			n.engine.Override(capture.SelectAP(target))
		}

		if err := n.engine.Run(ctx); err != nil {
			n.leave()
			return nil
		}
		n.log.Info("Capture ended, registering again")
	}
}

// register publishes register messages until the manager acknowledges one.
func (n *Node) register(ctx context.Context) error {
	n.mu.Lock()
	n.registered = false
	n.mu.Unlock()
	select {
	case <-n.regAck:
	default:
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	topic := bus.CommandTopic(n.id, bus.KindRegister)
	for {
		if err := n.bus.Publish(topic, nil); err != nil {
			n.log.Warnf("Failed to register: %v", err)
		}
		select {
		case <-n.regAck:
			n.log.Infof("Registered as %s", n.id)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.log.Debug("No acknowledgement yet, registering again")
		}
	}
}

// leave unregisters from the manager. Registering a known node removes it.
func (n *Node) leave() {
	n.mu.Lock()
	registered := n.registered
	n.registered = false
	n.mu.Unlock()
	if !registered {
		return
	}
	if err := n.bus.Publish(bus.CommandTopic(n.id, bus.KindRegister), nil); err != nil {
		n.log.Warnf("Failed to unregister: %v", err)
		return
	}
	n.log.Info("Unregistered from manager")
}

func (n *Node) handle(env bus.Envelope) {
	if !env.Broadcast() && env.Node != n.id {
		return
	}

	n.mu.Lock()
	registered := n.registered
	n.mu.Unlock()

	switch env.Kind {
	case bus.KindRegAck:
		n.mu.Lock()
		n.registered = true
		n.mu.Unlock()
		select {
		case n.regAck <- struct{}{}:
		default:
		}

	case bus.KindEnd:
		n.mu.Lock()
		n.registered = false
		n.mu.Unlock()
		n.engine.Override(capture.End())

	case bus.KindStop:
		n.mu.Lock()
		n.target = model.APRecord{}
		n.mu.Unlock()
		n.engine.Override(capture.Stop())

	case bus.KindScan:
		if !registered {
			n.log.Debug("Ignoring scan while unregistered")
			return
		}
		channels, err := model.DecodeScanCommand(env.Payload)
		if err != nil {
			n.log.Warnf("Ignoring scan: %v", err)
			return
		}
		n.engine.Override(capture.Scan(channels))

	case bus.KindSelect:
		ap, err := model.DecodeSelectCommand(env.Payload)
		if err != nil {
			n.log.Warnf("Ignoring select: %v", err)
			return
		}
		// The target is remembered even before registration completes, so
		// a select sent right after recovery is not lost.
		n.mu.Lock()
		n.target = ap
		n.mu.Unlock()
		if registered {
			n.engine.Override(capture.SelectAP(ap))
		}
	}
}
