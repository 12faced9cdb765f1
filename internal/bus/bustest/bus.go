// Package bustest provides an in-memory Bus for tests.
package bustest

import (
	"WiFiSpectra/internal/bus"
	"sync"
)

// Broker connects in-memory clients. Deliveries are synchronous: Publish
// returns after every matching handler has run.
type Broker struct {
	mu      sync.Mutex
	clients []*Client
	log     []bus.Message
}

func NewBroker() *Broker {
	return &Broker{}
}

// Client returns a new connected client. will is delivered by Kill.
func (br *Broker) Client(will *bus.Message) *Client {
	c := &Client{broker: br, will: will, errCh: make(chan error, 1)}
	br.mu.Lock()
	br.clients = append(br.clients, c)
	br.mu.Unlock()
	return c
}

// Published returns every message published so far, in order.
func (br *Broker) Published() []bus.Message {
	br.mu.Lock()
	defer br.mu.Unlock()
	return append([]bus.Message(nil), br.log...)
}

// PublishedTo returns the payloads published on topic.
func (br *Broker) PublishedTo(topic string) [][]byte {
	var out [][]byte
	for _, m := range br.Published() {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Reset forgets the published messages.
func (br *Broker) Reset() {
	br.mu.Lock()
	br.log = nil
	br.mu.Unlock()
}

func (br *Broker) deliver(topic string, payload []byte) {
	br.mu.Lock()
	br.log = append(br.log, bus.Message{Topic: topic, Payload: payload})
	var targets []bus.Handler
	for _, c := range br.clients {
		targets = append(targets, c.matching(topic)...)
	}
	br.mu.Unlock()

	env, err := bus.Parse(topic, payload)
	if err != nil {
		return
	}
	for _, h := range targets {
		h(env)
	}
}

type sub struct {
	filter  string
	handler bus.Handler
}

// Client is one in-memory connection.
type Client struct {
	broker *Broker
	will   *bus.Message
	errCh  chan error

	mu     sync.Mutex
	subs   []sub
	closed bool
}

func (c *Client) matching(topic string) []bus.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	var out []bus.Handler
	for _, s := range c.subs {
		if bus.Match(s.filter, topic) {
			out = append(out, s.handler)
		}
	}
	return out
}

func (c *Client) Publish(topic string, payload []byte) error {
	c.broker.deliver(topic, payload)
	return nil
}

func (c *Client) Subscribe(filter string, h bus.Handler) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub{filter: filter, handler: h})
	c.mu.Unlock()
	return nil
}

func (c *Client) Err() <-chan error { return c.errCh }

// Fail reports a fatal transport error on Err.
func (c *Client) Fail(err error) { c.errCh <- err }

// Close disconnects gracefully; the will is not delivered.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Kill disconnects ungracefully and delivers the will.
func (c *Client) Kill() {
	c.Close()
	if c.will != nil {
		c.broker.deliver(c.will.Topic, c.will.Payload)
	}
}
