package registry

import (
	"WiFiSpectra/internal/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// fire runs the most recent timer, even if it was stopped, the way a real
// timer can race with Stop.
func (ft *fakeTimers) fire() {
	ft.mu.Lock()
	t := ft.timers[len(ft.timers)-1]
	ft.mu.Unlock()
	t.f()
}

type closeCounter struct {
	closed int
}

func (c *closeCounter) WriteHeader(model.APRecord) error { return nil }
func (c *closeCounter) Write(model.SampleRecord) error   { return nil }
func (c *closeCounter) Flush() error                     { return nil }
func (c *closeCounter) Close() error                     { c.closed++; return nil }

func newRegistry(t *testing.T, max int, opts ...Option) (*Registry, *fakeTimers) {
	ft := &fakeTimers{}
	opts = append([]Option{WithAfterFunc(ft.afterFunc)}, opts...)
	return New(max, time.Minute, 4, zaptest.NewLogger(t).Sugar(), opts...), ft
}

func TestRegisterNewNode(t *testing.T) {
	r, _ := newRegistry(t, 2)
	out, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, Registered, out)

	info, ok := r.Info("a")
	require.True(t, ok)
	assert.True(t, info.Ready)
	assert.False(t, info.Crashed)
	assert.Equal(t, 1, r.ReadyCount())
}

func TestRegisterTogglesLiveNode(t *testing.T) {
	r, _ := newRegistry(t, 2)
	sink := &closeCounter{}
	_, _ = r.Register("a")
	r.Update("a", func(e *Entry) { e.Sink = sink })

	out, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, Unregistered, out)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, sink.closed)
}

func TestRegisterOverCapacity(t *testing.T) {
	r, _ := newRegistry(t, 2)
	_, _ = r.Register("a")
	_, _ = r.Register("b")

	out, err := r.Register("c")
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, Rejected, out)
	assert.Equal(t, 2, r.Len())
	_, ok := r.Info("c")
	assert.False(t, ok)
}

func TestCrashRecoveryKeepsHistory(t *testing.T) {
	r, ft := newRegistry(t, 2)
	_, _ = r.Register("a")
	aps := []model.APRecord{{BSSID: model.BSSID{1}}, {BSSID: model.BSSID{2}}}
	r.Update("a", func(e *Entry) {
		e.APs = aps
		e.Stats.Add(-40)
		e.Samples = 1
	})

	require.True(t, r.MarkCrashed("a"))
	info, _ := r.Info("a")
	assert.False(t, info.Ready)
	assert.True(t, info.Crashed)
	assert.Equal(t, 0, r.ReadyCount())
	require.Len(t, ft.timers, 1)
	assert.Equal(t, time.Minute, ft.timers[0].d)

	out, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, Recovered, out)
	assert.True(t, ft.timers[0].stopped)

	info, ok := r.Info("a")
	require.True(t, ok)
	assert.True(t, info.Ready)
	assert.False(t, info.Crashed)
	assert.Equal(t, 2, info.APCount)
	assert.Equal(t, uint64(1), info.Samples)
	assert.Equal(t, -40.0, info.Average)

	// A timer that raced with the recovery removes nothing.
	ft.fire()
	assert.Equal(t, 1, r.Len())
}

func TestCrashTimerExpiryRemovesNode(t *testing.T) {
	var expired []string
	r, ft := newRegistry(t, 2, OnExpire(func(id string) { expired = append(expired, id) }))
	sink := &closeCounter{}
	_, _ = r.Register("a")
	r.Update("a", func(e *Entry) {
		e.APs = []model.APRecord{{BSSID: model.BSSID{1}}}
		e.Sink = sink
	})

	r.MarkCrashed("a")
	ft.fire()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []string{"a"}, expired)
	assert.Equal(t, 1, sink.closed)

	// Coming back after expiry creates a brand-new record.
	out, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, Registered, out)
	info, _ := r.Info("a")
	assert.True(t, info.Ready)
	assert.Equal(t, 0, info.APCount)
	assert.Equal(t, uint64(0), info.Samples)
}

func TestMarkCrashedTwiceArmsOneTimer(t *testing.T) {
	r, ft := newRegistry(t, 2)
	_, _ = r.Register("a")
	assert.True(t, r.MarkCrashed("a"))
	assert.True(t, r.MarkCrashed("a"))
	assert.Len(t, ft.timers, 1)
	assert.False(t, r.MarkCrashed("ghost"))
}

func TestSetReadyIgnoresCrashedNodes(t *testing.T) {
	r, _ := newRegistry(t, 2)
	_, _ = r.Register("a")
	r.Update("a", func(e *Entry) { e.Ready = false })
	assert.True(t, r.SetReady("a"))

	r.MarkCrashed("a")
	assert.False(t, r.SetReady("a"))
	assert.False(t, r.SetReady("ghost"))
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r, _ := newRegistry(t, 3)
	_, _ = r.Register("b")
	_, _ = r.Register("a")
	_, _ = r.Register("c")
	_, _ = r.Register("a") // toggled off

	var ids []string
	for _, info := range r.List() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestRealTimerExpiry(t *testing.T) {
	done := make(chan string, 1)
	r := New(1, 10*time.Millisecond, 4, zaptest.NewLogger(t).Sugar(), OnExpire(func(id string) { done <- id }))
	_, _ = r.Register("a")
	r.MarkCrashed("a")

	select {
	case id := <-done:
		assert.Equal(t, "a", id)
	case <-time.After(5 * time.Second):
		t.Fatal("crash timer never fired")
	}
	assert.Equal(t, 0, r.Len())
}
