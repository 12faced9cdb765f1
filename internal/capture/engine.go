package capture

import (
	"WiFiSpectra/internal/channel"
	"WiFiSpectra/internal/engine/protocol"
	"WiFiSpectra/internal/model"
	"WiFiSpectra/pkg/pcap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the tunables of a capture engine.
type Config struct {
	Channels     []int
	Dwell        time.Duration
	IdleSleep    time.Duration
	PollInterval time.Duration
	APMax        int
	PktMax       int
}

// DefaultConfig returns the defaults capture nodes run with.
func DefaultConfig() Config {
	return Config{
		Channels:     channel.DefaultList(),
		Dwell:        150 * time.Millisecond,
		IdleSleep:    time.Second,
		PollInterval: 10 * time.Millisecond,
		APMax:        50,
		PktMax:       10,
	}
}

// Emitter receives the encoded telemetry batches produced by SEND.
type Emitter func(kind model.PayloadKind, payload []byte) error

// Recorder is handed every frame accepted during targeted capture.
type Recorder interface {
	Enqueue(frame pcap.Frame)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the pause used while idle or when no frame is ready.
// The default pause ends early when a command is posted.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithRecorder dumps accepted frames.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the per-node capture state machine. Step and Run must be called
// from a single goroutine; Override may be called from any goroutine.
type Engine struct {
	cfg        Config
	controller channel.Controller
	source     pcap.FrameSource
	emit       Emitter
	log        *zap.SugaredLogger
	recorder   Recorder
	metrics    *Metrics
	now        func() time.Time
	sleep      func(time.Duration)

	mu        sync.Mutex
	state     State
	prevState State
	pending   *Command
	selected  model.APRecord
	wake      chan struct{}

	aps      *APList
	pkts     *PacketList
	channels []int
	chanIdx  int
	lastHop  time.Time
	started  time.Time
	scanDone bool
	sending  model.PayloadKind
}

// NewEngine creates an engine in IDLE.
func NewEngine(cfg Config, controller channel.Controller, source pcap.FrameSource, emit Emitter, log *zap.SugaredLogger, opts ...Option) *Engine {
	if len(cfg.Channels) == 0 {
		cfg.Channels = channel.DefaultList()
	}
	e := &Engine{
		cfg:        cfg,
		controller: controller,
		source:     source,
		emit:       emit,
		log:        log,
		now:        time.Now,
		state:      StateIdle,
		prevState:  StateIdle,
		wake:       make(chan struct{}, 1),
		aps:        NewAPList(cfg.APMax),
		pkts:       NewPacketList(cfg.PktMax),
		channels:   cfg.Channels,
	}
	e.sleep = e.interruptibleSleep
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Override posts a command for the state loop. It replaces any command the
// loop has not picked up yet.
func (e *Engine) Override(cmd Command) {
	e.mu.Lock()
	if e.pending != nil {
		e.log.Debugf("Command %s replaces unobserved %s", cmd.Kind, e.pending.Kind)
	}
	e.pending = &cmd
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Reset puts a stopped engine back into IDLE and drops any pending command.
// It must not be called while Run is active.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = StateIdle
	e.prevState = StateIdle
	e.pending = nil
	e.mu.Unlock()

	select {
	case <-e.wake:
	default:
	}
	e.pkts.Reset()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PrevState returns the state before the last transition.
func (e *Engine) PrevState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prevState
}

// Selected returns the access point targeted by packet capture.
func (e *Engine) Selected() (model.APRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, !e.selected.BSSID.IsZero()
}

// APs returns the access points found by the current or last sweep.
func (e *Engine) APs() []model.APRecord { return e.aps.Items() }

// Run steps the engine until it reaches END or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := e.Step()
		if t.From != t.To {
			e.log.Debugf("%s -> %s", t.From, t.To)
		}
		if t.To == StateEnd {
			return nil
		}
	}
}

// Step runs one loop iteration. A pending command is applied instead of the
// current state's handler.
func (e *Engine) Step() Transition {
	e.mu.Lock()
	cmd := e.pending
	e.pending = nil
	from := e.state
	e.mu.Unlock()

	t := Transition{From: from}
	if cmd != nil {
		t.To = e.apply(*cmd)
		t.Forced = true
	} else {
		t.To, t.Sent = e.handle(from)
	}

	e.mu.Lock()
	e.prevState = from
	e.state = t.To
	e.mu.Unlock()
	return t
}

func (e *Engine) apply(cmd Command) State {
	switch cmd.Kind {
	case CmdSelectAP:
		e.mu.Lock()
		e.selected = cmd.AP
		e.mu.Unlock()
		e.switchChannel(int(cmd.AP.Channel))
		e.pkts.Reset()
		e.log.Infof("Capturing %s (%s) on channel %d", cmd.AP.DisplaySSID(), cmd.AP.BSSID, cmd.AP.Channel)
		return StatePktCap
	case CmdScan:
		e.channels = channel.Filter(cmd.Channels)
		return StateSearchStart
	case CmdStop:
		e.pkts.Reset()
		return StateIdle
	case CmdEnd:
		return StateEnd
	}
	e.log.Warnf("Ignoring unknown command %d", cmd.Kind)
	return e.State()
}

func (e *Engine) handle(s State) (State, model.PayloadKind) {
	switch s {
	case StateIdle:
		e.sleep(e.cfg.IdleSleep)
		return StateIdle, ""
	case StateSearchStart:
		return e.searchStart(), ""
	case StateSearchLoop:
		return e.searchLoop(), ""
	case StatePktCap:
		return e.packetCapture(), ""
	case StateSend:
		return e.send()
	}
	return StateEnd, ""
}

func (e *Engine) searchStart() State {
	e.aps.Reset()
	e.pkts.Reset()
	e.chanIdx = 0
	e.scanDone = false
	e.switchChannel(e.channels[0])
	e.started = e.now()
	e.lastHop = e.started
	e.log.Infof("Sweeping channels %v", e.channels)
	return StateSearchLoop
}

func (e *Engine) searchLoop() State {
	if e.now().Sub(e.lastHop) >= e.cfg.Dwell {
		e.chanIdx++
		if e.chanIdx >= len(e.channels) {
			e.scanDone = true
		} else {
			e.switchChannel(e.channels[e.chanIdx])
			e.lastHop = e.now()
		}
	}

	if e.scanDone {
		n := e.aps.Len()
		e.log.Infof("Sweep finished in %s with %d access points", e.now().Sub(e.started).Round(time.Millisecond), n)
		if n == 0 {
			return StateIdle
		}
		e.sending = model.KindAPList
		return StateSend
	}

	frame, info, ok := e.nextBeacon()
	if !ok {
		return StateSearchLoop
	}
	ap := info.AP
	ap.Timestamp = timestampOf(frame, e.now)
	added, err := e.aps.Upsert(ap)
	switch {
	case errors.Is(err, ErrListFull):
		e.log.Debugf("AP list full, dropping %s", ap.BSSID)
	case added:
		e.metrics.apDiscovered()
		e.log.Debugf("Found %s (%s) on channel %d", ap.DisplaySSID(), ap.BSSID, ap.Channel)
	}
	return StateSearchLoop
}

func (e *Engine) packetCapture() State {
	target, ok := e.Selected()
	if !ok {
		e.sleep(e.cfg.PollInterval)
		return StatePktCap
	}

	frame, info, ok := e.nextBeacon()
	if !ok || info.AP.BSSID != target.BSSID {
		return StatePktCap
	}

	ap := info.AP
	ap.Timestamp = timestampOf(frame, e.now)
	if ap.Channel == 0 {
		ap.Channel = target.Channel
	}
	if err := e.pkts.Append(model.PacketRecord{Radio: info.Radio, AP: ap}); err != nil {
		e.sending = model.KindPktList
		return StateSend
	}
	e.metrics.packet()
	if e.recorder != nil {
		e.recorder.Enqueue(frame)
	}

	if e.pkts.Full() {
		e.sending = model.KindPktList
		return StateSend
	}
	return StatePktCap
}

func (e *Engine) send() (State, model.PayloadKind) {
	kind := e.sending
	var (
		payload []byte
		err     error
		next    State
	)
	switch kind {
	case model.KindAPList:
		payload, err = model.EncodeAPList(e.aps.Items())
		next = StateIdle
	case model.KindPktList:
		payload, err = model.EncodePacketList(e.pkts.Items())
		e.pkts.Reset()
		next = StatePktCap
	default:
		return StateIdle, ""
	}

	if err != nil {
		e.log.Errorf("Failed to encode %s: %v", kind, err)
		return next, ""
	}
	if err := e.emit(kind, payload); err != nil {
		e.log.Warnf("Failed to emit %s: %v", kind, err)
	} else {
		e.metrics.batch(string(kind))
	}
	return next, kind
}

// nextBeacon reads one frame and decodes it. It pauses for the poll interval
// when the source has nothing to offer.
func (e *Engine) nextBeacon() (pcap.Frame, *model.PacketInfo, bool) {
	frame, err := e.source.ReadFrame()
	if err != nil {
		if !errors.Is(err, pcap.ErrNoFrame) {
			e.log.Warnf("Failed to read frame: %v", err)
		}
		e.sleep(e.cfg.PollInterval)
		return frame, nil, false
	}
	e.metrics.frameRead()

	info, err := protocol.Decode(frame.Data)
	if err != nil {
		if !errors.Is(err, protocol.ErrNotBeacon) {
			e.metrics.frameDropped()
		}
		return frame, nil, false
	}
	e.metrics.beacon()
	return frame, info, true
}

// switchChannel failures are left to the controller; the sweep goes on.
func (e *Engine) switchChannel(ch int) {
	if err := e.controller.SwitchChannel(ch); err != nil {
		e.log.Warnf("Failed to switch to channel %d: %v", ch, err)
	}
}

func (e *Engine) interruptibleSleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.wake:
	}
}

func timestampOf(f pcap.Frame, now func() time.Time) uint64 {
	if !f.CaptureInfo.Timestamp.IsZero() {
		return uint64(f.CaptureInfo.Timestamp.UnixMilli())
	}
	return uint64(now().UnixMilli())
}
