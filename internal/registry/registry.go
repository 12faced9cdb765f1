package registry

import (
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/stats"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrFull is returned when a new node would exceed the client limit.
var ErrFull = errors.New("registry full")

// Outcome is what a register call did.
type Outcome int

const (
	Rejected Outcome = iota
	Registered
	Recovered
	Unregistered
)

func (o Outcome) String() string {
	switch o {
	case Registered:
		return "registered"
	case Recovered:
		return "recovered"
	case Unregistered:
		return "unregistered"
	}
	return "rejected"
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a timer calling f after d on its own goroutine.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Entry is the manager's view of one capture node.
type Entry struct {
	ID       string
	Ready    bool
	Finished bool // reported its AP list for the current scan
	APs      []model.APRecord
	Stats    *stats.RollingStats
	Sink     model.Writer
	Samples  uint64
	Capture  uint64 // capture the Stats and Sink belong to, zero for none

	crashed bool
	timer   Timer
	gen     uint64
}

// Crashed reports whether the node is inside its crash window.
func (e *Entry) Crashed() bool { return e.crashed }

// Info is a copy of an entry's status.
type Info struct {
	ID        string  `json:"id"`
	Ready     bool    `json:"ready"`
	Crashed   bool    `json:"crashed"`
	Finished  bool    `json:"finished"`
	APCount   int     `json:"ap_count"`
	Samples   uint64  `json:"samples"`
	Baseline  bool    `json:"baseline"`
	Average   float64 `json:"average"`
	Capturing bool    `json:"capturing"`
}

func (e *Entry) info() Info {
	return Info{
		ID:        e.ID,
		Ready:     e.Ready,
		Crashed:   e.crashed,
		Finished:  e.Finished,
		APCount:   len(e.APs),
		Samples:   e.Samples,
		Baseline:  e.Stats.BaselineEstablished(),
		Average:   e.Stats.Average(),
		Capturing: e.Sink != nil,
	}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithAfterFunc replaces the crash timer implementation.
func WithAfterFunc(f AfterFunc) Option {
	return func(r *Registry) { r.afterFunc = f }
}

// OnExpire is called, without any registry lock held, after a crashed node
// has been removed.
func OnExpire(f func(id string)) Option {
	return func(r *Registry) { r.onExpire = f }
}

// Registry tracks the lifecycle of capture nodes. It is safe for concurrent
// use; crash timers fire on their own goroutines.
type Registry struct {
	maxClients   int
	crashTimeout time.Duration
	window       int
	afterFunc    AfterFunc
	onExpire     func(id string)
	log          *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	gen     uint64
}

// New creates a registry admitting up to maxClients nodes. window sizes each
// node's rolling statistics.
func New(maxClients int, crashTimeout time.Duration, window int, log *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		maxClients:   maxClients,
		crashTimeout: crashTimeout,
		window:       window,
		afterFunc:    realAfterFunc,
		log:          log,
		entries:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register handles a register message. A crashed node is recovered with its
// history intact; a live node is unregistered; an unknown node is added.
func (r *Registry) Register(id string) (Outcome, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	switch {
	case ok && e.crashed:
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.crashed = false
		e.Ready = true
		r.mu.Unlock()
		r.log.Infof("Node %s recovered", id)
		return Recovered, nil

	case ok:
		sink := r.removeLocked(id)
		r.mu.Unlock()
		closeSink(sink, id, r.log)
		r.log.Infof("Node %s unregistered", id)
		return Unregistered, nil

	case len(r.entries) >= r.maxClients:
		r.mu.Unlock()
		r.log.Warnf("Rejecting node %s: %d clients already registered", id, r.maxClients)
		return Rejected, ErrFull
	}

	r.entries[id] = &Entry{ID: id, Ready: true, Stats: stats.NewRollingStats(r.window)}
	r.order = append(r.order, id)
	r.mu.Unlock()
	r.log.Infof("Node %s registered", id)
	return Registered, nil
}

// MarkCrashed takes a node out of the ready set and arms its crash timer.
// It reports whether the node is known.
func (r *Registry) MarkCrashed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Ready = false
	if e.crashed {
		return true
	}
	e.crashed = true
	r.gen++
	gen := r.gen
	e.gen = gen
	e.timer = r.afterFunc(r.crashTimeout, func() { r.expire(id, gen) })
	r.log.Warnf("Node %s crashed, removing it in %s unless it comes back", id, r.crashTimeout)
	return true
}

func (r *Registry) expire(id string, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !e.crashed || e.gen != gen {
		r.mu.Unlock()
		return
	}
	sink := r.removeLocked(id)
	r.mu.Unlock()

	closeSink(sink, id, r.log)
	r.log.Infof("Node %s did not come back and was removed", id)
	if r.onExpire != nil {
		r.onExpire(id)
	}
}

func (r *Registry) removeLocked(id string) model.Writer {
	e := r.entries[id]
	delete(r.entries, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.Sink
}

func closeSink(sink model.Writer, id string, log *zap.SugaredLogger) {
	if sink == nil {
		return
	}
	if err := sink.Close(); err != nil {
		log.Warnf("Failed to close result sink of %s: %v", id, err)
	}
}

// SetReady marks a known, live node ready.
func (r *Registry) SetReady(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.crashed {
		return false
	}
	e.Ready = true
	return true
}

// Update runs fn on the entry of id under the registry lock. fn must not
// block.
func (r *Registry) Update(id string, fn func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		fn(e)
	}
	return ok
}

// Each runs fn on every entry in registration order under the registry lock.
func (r *Registry) Each(fn func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		fn(r.entries[id])
	}
}

// Info returns the status of one node.
func (r *Registry) Info(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// List returns the status of every node in registration order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].info())
	}
	return out
}

// Len is the number of registered nodes, crashed ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ReadyCount is the number of ready nodes.
func (r *Registry) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Ready {
			n++
		}
	}
	return n
}

// Close stops every crash timer and closes every open sink.
func (r *Registry) Close() {
	r.mu.Lock()
	var sinks []model.Writer
	var ids []string
	for _, id := range r.order {
		e := r.entries[id]
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		if e.Sink != nil {
			sinks = append(sinks, e.Sink)
			ids = append(ids, id)
			e.Sink = nil
		}
	}
	r.mu.Unlock()

	for i, s := range sinks {
		closeSink(s, ids[i], r.log)
	}
}
