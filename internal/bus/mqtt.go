package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	tokenTimeout = 10 * time.Second
	inboxSize    = 256
)

// MQTTOptions configures an MQTT bus connection.
type MQTTOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectRetries int
	RetryBackoff   time.Duration
	KeepAlive      time.Duration
	Will           *Message
}

type subscription struct {
	filter  string
	handler Handler
}

type inbound struct {
	env     Envelope
	handler Handler
}

// MQTTBus is a Bus backed by an MQTT broker.
type MQTTBus struct {
	client mqtt.Client
	opts   MQTTOptions
	log    *zap.SugaredLogger

	mu           sync.Mutex
	subs         []subscription
	reconnecting int

	inbox     chan inbound
	errCh     chan error
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// MQTTLogToZap routes the paho client's internal logging to logger.
func MQTTLogToZap(logger *zap.Logger) {
	mqtt.WARN, _ = zap.NewStdLogAt(logger, zapcore.DebugLevel)
	mqtt.ERROR, _ = zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	mqtt.CRITICAL, _ = zap.NewStdLogAt(logger, zapcore.ErrorLevel)
}

// DialMQTT connects to the broker, retrying up to opts.ConnectRetries times
// with a linearly growing pause.
func DialMQTT(opts MQTTOptions, log *zap.SugaredLogger) (*MQTTBus, error) {
	if opts.ConnectRetries < 1 {
		opts.ConnectRetries = 1
	}
	b := &MQTTBus{
		opts:  opts,
		log:   log,
		inbox: make(chan inbound, inboxSize),
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}

	co := mqtt.NewClientOptions().AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(false)
	if opts.KeepAlive > 0 {
		co.SetKeepAlive(opts.KeepAlive)
	}
	if opts.RetryBackoff > 0 {
		co.SetMaxReconnectInterval(opts.RetryBackoff * time.Duration(opts.ConnectRetries))
	}
	if opts.Will != nil {
		co.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.QoS, false)
	}
	co.SetOnConnectHandler(b.onConnect)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warnf("Connection to %s lost: %v", opts.BrokerURL, err)
	})
	co.SetReconnectingHandler(b.onReconnecting)
	b.client = mqtt.NewClient(co)

	var lastErr error
	for attempt := 1; attempt <= opts.ConnectRetries; attempt++ {
		token := b.client.Connect()
		if !token.WaitTimeout(tokenTimeout) {
			lastErr = fmt.Errorf("connect timed out")
		} else {
			lastErr = token.Error()
		}
		if lastErr == nil {
			break
		}
		b.log.Warnf("Connect to %s failed (attempt %d/%d): %v", opts.BrokerURL, attempt, opts.ConnectRetries, lastErr)
		if attempt < opts.ConnectRetries {
			time.Sleep(opts.RetryBackoff * time.Duration(attempt))
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.BrokerURL, lastErr)
	}

	b.wg.Add(1)
	go b.dispatch()
	b.log.Infof("Connected to %s as %s", opts.BrokerURL, opts.ClientID)
	return b, nil
}

func (b *MQTTBus) onConnect(c mqtt.Client) {
	b.mu.Lock()
	b.reconnecting = 0
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	// Sessions are clean, so subscriptions are renewed on every connect.
	for _, s := range subs {
		if err := b.subscribe(s); err != nil {
			b.log.Errorf("Failed to resubscribe to %s: %v", s.filter, err)
		}
	}
}

func (b *MQTTBus) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	b.mu.Lock()
	b.reconnecting++
	n := b.reconnecting
	b.mu.Unlock()

	b.log.Infof("Reconnecting to %s (attempt %d/%d)", b.opts.BrokerURL, n, b.opts.ConnectRetries)
	if n > b.opts.ConnectRetries {
		select {
		case b.errCh <- fmt.Errorf("lost connection to %s after %d reconnect attempts", b.opts.BrokerURL, n-1):
		default:
		}
	}
}

// Publish sends payload on topic and waits for the broker to accept it.
func (b *MQTTBus) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, b.opts.QoS, false, payload)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for every topic matching filter.
func (b *MQTTBus) Subscribe(filter string, h Handler) error {
	s := subscription{filter: filter, handler: h}
	if err := b.subscribe(s); err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return nil
}

func (b *MQTTBus) subscribe(s subscription) error {
	token := b.client.Subscribe(s.filter, b.opts.QoS, func(_ mqtt.Client, m mqtt.Message) {
		env, err := Parse(m.Topic(), m.Payload())
		if err != nil {
			b.log.Warnf("Dropping message: %v", err)
			return
		}
		select {
		case b.inbox <- inbound{env: env, handler: s.handler}:
		case <-b.done:
		}
	})
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscription to %s timed out", s.filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.filter, err)
	}
	return nil
}

// dispatch runs handlers outside the paho router so that handlers may publish.
func (b *MQTTBus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case in := <-b.inbox:
			in.handler(in.env)
		case <-b.done:
			return
		}
	}
}

// Err delivers a fatal transport error.
func (b *MQTTBus) Err() <-chan error {
	return b.errCh
}

// Close disconnects from the broker. A graceful disconnect does not trigger
// the last-will message.
func (b *MQTTBus) Close() {
	b.closeOnce.Do(func() {
		b.client.Disconnect(250)
		close(b.done)
		b.wg.Wait()
		b.log.Info("Disconnected from broker")
	})
}
