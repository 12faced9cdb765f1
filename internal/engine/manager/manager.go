package manager

import (
	"WiFiSpectra/internal/bus"
	"WiFiSpectra/internal/channel"
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/consensus"
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/registry"
	"WiFiSpectra/internal/results"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrStopped        = errors.New("manager stopped")
	ErrNoReadyNodes   = errors.New("no live capture nodes")
	ErrScanInProgress = errors.New("scan in progress")
	ErrUnknownAP      = errors.New("access point is not seen by every node")
)

// Phase is where the manager is in the capture cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseSelecting
	PhaseCapturing
)

func (p Phase) String() string {
	switch p {
	case PhaseSearching:
		return "searching"
	case PhaseSelecting:
		return "selecting"
	case PhaseCapturing:
		return "capturing"
	}
	return "idle"
}

// Config holds the manager tunables.
type Config struct {
	MaxClients      int
	CrashTimeout    time.Duration
	Window          int
	DefaultChannels []int
}

// ConfigFrom extracts the orchestration settings of a manager configuration.
func ConfigFrom(cfg *config.ManagerConfig) Config {
	return Config{
		MaxClients:      cfg.MaxClients,
		CrashTimeout:    cfg.CrashTimeout,
		Window:          cfg.Stats.Window,
		DefaultChannels: cfg.DefaultChannels,
	}
}

// SampleFeed receives every normalized sample the manager records.
type SampleFeed interface {
	Publish(rec model.SampleRecord) error
}

type options struct {
	feed       SampleFeed
	registerer prometheus.Registerer
	regOpts    []registry.Option
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*options)

// WithFeed mirrors recorded samples to feed.
func WithFeed(feed SampleFeed) Option {
	return func(o *options) { o.feed = feed }
}

// WithMetrics registers the manager metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRegistryOptions passes options to the node registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(o *options) { o.regOpts = append(o.regOpts, opts...) }
}

// WithClock replaces the clock stamping capture starts.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Manager coordinates the capture nodes through one scan, select and capture
// cycle at a time.
//
// mu guards the cycle state. It is taken before the registry lock, never
// after, and is released before anything is published. Result sinks are
// written and closed under sinkMu only.
type Manager struct {
	cfg     Config
	bus     bus.Bus
	nodes   *registry.Registry
	sinks   results.Opener
	feed    SampleFeed
	metrics *Metrics
	now     func() time.Time
	log     *zap.SugaredLogger

	mu           sync.Mutex
	phase        Phase
	participants map[string]bool
	common       []model.APRecord
	selected     model.APRecord
	started      time.Time
	stopped      bool
	done         chan struct{}

	sinkMu  sync.Mutex
	capture atomic.Uint64 // bumped whenever the open sinks are detached
}

// New creates a manager. Call Start to begin handling node messages.
func New(cfg Config, b bus.Bus, sinks results.Opener, log *zap.SugaredLogger, opts ...Option) *Manager {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		cfg:   cfg,
		bus:   b,
		sinks: sinks,
		feed:  o.feed,
		now:   o.now,
		log:   log,
		done:  make(chan struct{}),
	}
	regOpts := append([]registry.Option{registry.OnExpire(m.onExpire)}, o.regOpts...)
	m.nodes = registry.New(cfg.MaxClients, cfg.CrashTimeout, cfg.Window, log.Named("registry"), regOpts...)
	if o.registerer != nil {
		m.metrics = NewMetrics(o.registerer, m.nodes)
	}
	return m
}

// Start subscribes to node lifecycle and telemetry messages.
func (m *Manager) Start() error {
	filters := []string{
		bus.CommandTopic("+", bus.KindRegister),
		bus.CommandTopic("+", bus.KindReady),
		bus.CommandTopic("+", bus.KindCrash),
		bus.DataTopic("+"),
	}
	for _, f := range filters {
		if err := m.bus.Subscribe(f, m.handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", f, err)
		}
	}
	m.log.Infof("Manager started, accepting up to %d nodes", m.cfg.MaxClients)
	return nil
}

// Done is closed once End has been called.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Close stops the crash timers and releases every result sink.
func (m *Manager) Close() {
	m.sinkMu.Lock()
	m.nodes.Close()
	m.sinkMu.Unlock()
	if err := m.sinks.Close(); err != nil {
		m.log.Warnf("Failed to close result store: %v", err)
	}
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// CommonAPs returns the access points of the last completed scan.
func (m *Manager) CommonAPs() []model.APRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.APRecord(nil), m.common...)
}

// Selected returns the access point being captured.
func (m *Manager) Selected() (model.APRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, m.phase == PhaseCapturing
}

// Nodes returns the status of every registered node.
func (m *Manager) Nodes() []registry.Info {
	return m.nodes.List()
}

// Scan starts a discovery sweep on every live node. An empty channel list
// sweeps the configured default channels.
func (m *Manager) Scan(channels []int) error {
	if len(channels) == 0 {
		channels = m.cfg.DefaultChannels
	}
	channels = channel.Filter(channels)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	participants := make(map[string]bool)
	m.nodes.Each(func(e *registry.Entry) {
		if !e.Crashed() {
			participants[e.ID] = true
		}
	})
	if len(participants) == 0 {
		m.mu.Unlock()
		return ErrNoReadyNodes
	}

	sinks := m.detachSinksLocked()
	m.nodes.Each(func(e *registry.Entry) {
		e.APs = nil
		e.Finished = false
		if participants[e.ID] {
			e.Ready = true
		}
	})
	m.participants = participants
	m.common = nil
	m.selected = model.APRecord{}
	m.setPhaseLocked(PhaseSearching)
	m.mu.Unlock()

	m.closeSinks(sinks)
	payload, err := model.EncodeScanCommand(channels)
	if err != nil {
		return err
	}
	m.metrics.scan()
	m.log.Infof("Scanning channels %v with %d nodes", channels, len(participants))
	return m.publish(bus.BroadcastTopic(bus.KindScan), payload)
}

// Select starts capturing bssid, which must be one of the common access
// points. Every ready node gets fresh statistics and a new result sink.
func (m *Manager) Select(bssid model.BSSID) (model.APRecord, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return model.APRecord{}, ErrStopped
	}
	if m.phase == PhaseSearching {
		m.mu.Unlock()
		return model.APRecord{}, ErrScanInProgress
	}
	ap, ok := consensus.Find(m.common, bssid)
	if !ok {
		m.mu.Unlock()
		return model.APRecord{}, fmt.Errorf("%w: %s", ErrUnknownAP, bssid)
	}

	old := m.detachSinksLocked()
	gen := m.capture.Load()
	m.started = m.now()
	started := m.started
	var ids []string
	m.nodes.Each(func(e *registry.Entry) {
		if !e.Ready {
			return
		}
		e.Stats.Reset()
		e.Samples = 0
		e.Capture = gen
		ids = append(ids, e.ID)
	})
	m.selected = ap
	m.setPhaseLocked(PhaseCapturing)
	m.mu.Unlock()

	m.closeSinks(old)
	for _, id := range ids {
		m.openSink(id, ap, started, gen)
	}
	payload, err := model.EncodeSelectCommand(ap)
	if err != nil {
		return ap, err
	}
	m.log.Infof("Capturing %s (%s) on channel %d with %d nodes", ap.DisplaySSID(), ap.BSSID, ap.Channel, len(ids))
	return ap, m.publish(bus.BroadcastTopic(bus.KindSelect), payload)
}

// SelectIndex selects the i-th common access point, counting from zero.
func (m *Manager) SelectIndex(i int) (model.APRecord, error) {
	aps := m.CommonAPs()
	if i < 0 || i >= len(aps) {
		return model.APRecord{}, fmt.Errorf("%w: no entry %d", ErrUnknownAP, i)
	}
	return m.Select(aps[i].BSSID)
}

// Stop halts the capture on every node and closes the result sinks.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	sinks := m.detachSinksLocked()
	m.selected = model.APRecord{}
	m.setPhaseLocked(PhaseIdle)
	m.mu.Unlock()

	m.closeSinks(sinks)
	m.log.Info("Stopping capture")
	return m.publish(bus.BroadcastTopic(bus.KindStop), nil)
}

// End tells every node to finish and marks the manager done.
func (m *Manager) End() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	sinks := m.detachSinksLocked()
	m.selected = model.APRecord{}
	m.setPhaseLocked(PhaseIdle)
	m.mu.Unlock()

	m.closeSinks(sinks)
	m.log.Info("Ending the session")
	err := m.publish(bus.BroadcastTopic(bus.KindEnd), nil)
	close(m.done)
	return err
}

func (m *Manager) handle(env bus.Envelope) {
	if env.Broadcast() {
		return
	}
	switch env.Kind {
	case bus.KindRegister:
		m.onRegister(env.Node)
	case bus.KindReady:
		if m.nodes.SetReady(env.Node) {
			m.log.Debugf("Node %s is ready", env.Node)
		}
	case bus.KindCrash:
		m.onCrash(env.Node)
	case bus.KindData:
		m.onData(env.Node, env.Payload)
	}
}

func (m *Manager) onRegister(id string) {
	out, err := m.nodes.Register(id)
	switch out {
	case registry.Rejected:
		m.metrics.reject()
		m.log.Warnf("Registration of %s refused: %v", id, err)
		return
	case registry.Unregistered:
		m.metrics.forget(id)
		m.mu.Lock()
		delete(m.participants, id)
		m.checkScanLocked()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	phase := m.phase
	target := m.selected
	started := m.started
	gen := m.capture.Load()
	joined := false
	switch {
	case out == registry.Recovered && phase == PhaseSearching:
		// Its sweep was lost with the crash; it joins the next scan.
		delete(m.participants, id)
		m.checkScanLocked()
	case out == registry.Recovered && phase == PhaseCapturing:
		// Joining a capture it was not part of: start from scratch.
		m.nodes.Update(id, func(e *registry.Entry) {
			if e.Capture == gen {
				return
			}
			e.Stats.Reset()
			e.Samples = 0
			e.Capture = gen
			joined = true
		})
	}
	m.mu.Unlock()

	if joined {
		m.openSink(id, target, started, gen)
	}
	m.publish(bus.CommandTopic(id, bus.KindRegAck), nil)
	if out == registry.Recovered && phase == PhaseCapturing {
		payload, err := model.EncodeSelectCommand(target)
		if err != nil {
			m.log.Errorf("Failed to encode select for %s: %v", id, err)
			return
		}
		m.log.Infof("Resending %s to recovered node %s", target.BSSID, id)
		m.publish(bus.CommandTopic(id, bus.KindSelect), payload)
	}
}

func (m *Manager) onCrash(id string) {
	if !m.nodes.MarkCrashed(id) {
		return
	}
	m.mu.Lock()
	m.checkScanLocked()
	m.mu.Unlock()
}

func (m *Manager) onExpire(id string) {
	m.metrics.forget(id)
	m.mu.Lock()
	delete(m.participants, id)
	m.checkScanLocked()
	m.mu.Unlock()
}

func (m *Manager) onData(id string, payload []byte) {
	batch, err := model.DecodeBatch(payload)
	if err != nil {
		m.log.Warnf("Dropping telemetry from %s: %v", id, err)
		return
	}
	switch batch.Kind {
	case model.KindAPList:
		m.onAPList(id, batch.APs)
	case model.KindPktList:
		m.onPackets(id, batch.Packets)
	}
}

func (m *Manager) onAPList(id string, aps []model.APRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseSearching || !m.participants[id] {
		m.log.Debugf("Ignoring AP list from %s", id)
		return
	}
	accepted := m.nodes.Update(id, func(e *registry.Entry) {
		if e.Ready {
			e.APs = aps
			e.Finished = true
		}
	})
	if accepted {
		m.log.Infof("Node %s found %d access points", id, len(aps))
	}
	m.checkScanLocked()
}

// checkScanLocked completes the scan once every ready participant reported.
func (m *Manager) checkScanLocked() {
	if m.phase != PhaseSearching {
		return
	}
	ready := 0
	var reports []consensus.Report
	m.nodes.Each(func(e *registry.Entry) {
		if !e.Ready || !m.participants[e.ID] {
			return
		}
		ready++
		if e.Finished {
			reports = append(reports, consensus.Report{Node: e.ID, APs: e.APs})
		}
	})
	if len(reports) < ready {
		return
	}

	m.common = consensus.Common(reports)
	m.metrics.setCommon(len(m.common))
	m.setPhaseLocked(PhaseSelecting)
	m.log.Infof("Scan finished: %d access points seen by all %d nodes", len(m.common), ready)
}

func (m *Manager) onPackets(id string, pkts []model.PacketRecord) {
	m.mu.Lock()
	if m.phase != PhaseCapturing {
		m.mu.Unlock()
		return
	}
	target := m.selected
	gen := m.capture.Load()
	var (
		records []model.SampleRecord
		sink    model.Writer
	)
	m.nodes.Update(id, func(e *registry.Entry) {
		if !e.Ready || e.Capture != gen {
			return
		}
		for _, p := range pkts {
			if p.AP.BSSID != target.BSSID {
				continue
			}
			s := e.Stats.Add(int32(p.Radio.AntennaSignal))
			if !s.Baseline {
				continue
			}
			records = append(records, model.SampleRecord{
				NodeID:      id,
				Timestamp:   p.AP.Timestamp,
				Raw:         s.Raw,
				Average:     s.Average,
				Deviation:   s.Deviation,
				Variability: s.Variability,
			})
		}
		e.Samples += uint64(len(records))
		sink = e.Sink
	})
	m.mu.Unlock()

	if len(records) > 0 {
		m.record(id, gen, sink, records)
	}
}

func (m *Manager) record(id string, gen uint64, sink model.Writer, records []model.SampleRecord) {
	m.sinkMu.Lock()
	if sink != nil && m.capture.Load() == gen {
		for _, rec := range records {
			if err := sink.Write(rec); err != nil {
				m.log.Warnf("Failed to write sample of %s: %v", id, err)
				break
			}
		}
		if err := sink.Flush(); err != nil {
			m.log.Warnf("Failed to flush samples of %s: %v", id, err)
		}
	}
	m.sinkMu.Unlock()

	for _, rec := range records {
		if m.feed != nil {
			if err := m.feed.Publish(rec); err != nil {
				m.log.Warnf("Failed to publish sample of %s: %v", id, err)
			}
		}
		m.metrics.sample(id, rec.Average)
	}
}

// openSink creates the result sink of id for capture gen and attaches it,
// unless that capture ended in the meantime.
func (m *Manager) openSink(id string, ap model.APRecord, started time.Time, gen uint64) {
	w, err := m.sinks.Open(id, started)
	if err != nil {
		m.log.Errorf("Failed to open result sink of %s: %v", id, err)
		return
	}
	if err := w.WriteHeader(ap); err != nil {
		m.log.Warnf("Failed to write result header of %s: %v", id, err)
	}

	attached := false
	m.mu.Lock()
	if m.capture.Load() == gen {
		m.nodes.Update(id, func(e *registry.Entry) {
			if e.Sink == nil && e.Capture == gen {
				e.Sink = w
				attached = true
			}
		})
	}
	m.mu.Unlock()

	if !attached {
		if err := w.Close(); err != nil {
			m.log.Warnf("Failed to close result sink of %s: %v", id, err)
		}
	}
}

func (m *Manager) detachSinksLocked() []model.Writer {
	m.capture.Add(1)
	var sinks []model.Writer
	m.nodes.Each(func(e *registry.Entry) {
		if e.Sink != nil {
			sinks = append(sinks, e.Sink)
			e.Sink = nil
		}
	})
	return sinks
}

func (m *Manager) closeSinks(sinks []model.Writer) {
	if len(sinks) == 0 {
		return
	}
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			m.log.Warnf("Failed to close result sink: %v", err)
		}
	}
}

func (m *Manager) setPhaseLocked(p Phase) {
	if m.phase != p {
		m.log.Debugf("Phase %s -> %s", m.phase, p)
	}
	m.phase = p
	m.metrics.setPhase(p)
}

func (m *Manager) publish(topic string, payload []byte) error {
	if err := m.bus.Publish(topic, payload); err != nil {
		m.log.Warnf("Failed to publish %s: %v", topic, err)
		return err
	}
	return nil
}
