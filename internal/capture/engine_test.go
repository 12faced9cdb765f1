package capture

import (
	"WiFiSpectra/internal/model"
	"WiFiSpectra/pkg/pcap"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// beacon builds a radiotap header carrying only the antenna signal, followed
// by a beacon for bssid advertising ssid on ch.
func beacon(bssid model.BSSID, ssid string, ch byte, signal int8) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[4:8], 1<<5)
	buf = append(buf, byte(signal))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))

	buf = append(buf, 0x80, 0x00, 0x00, 0x00)
	buf = append(buf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	buf = append(buf, bssid[:]...)
	buf = append(buf, bssid[:]...)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, make([]byte, 12)...)
	buf = append(buf, 0x00, byte(len(ssid)))
	buf = append(buf, ssid...)
	return append(buf, 0x03, 0x01, ch)
}

func bssid(last byte) model.BSSID {
	return model.BSSID{0x02, 0x00, 0x00, 0x00, 0x00, last}
}

type scriptedSource struct {
	frames [][]byte
}

func (s *scriptedSource) ReadFrame() (pcap.Frame, error) {
	if len(s.frames) == 0 {
		return pcap.Frame{}, pcap.ErrNoFrame
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return pcap.Frame{Data: f}, nil
}

func (s *scriptedSource) Close() error { return nil }

type recordingController struct {
	channels []int
}

func (c *recordingController) SwitchChannel(ch int) error {
	c.channels = append(c.channels, ch)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

type sent struct {
	kind    model.PayloadKind
	payload []byte
}

type harness struct {
	engine *Engine
	source *scriptedSource
	ctrl   *recordingController
	clock  *fakeClock
	sent   []sent
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	h := &harness{
		source: &scriptedSource{},
		ctrl:   &recordingController{},
		clock:  &fakeClock{t: time.Unix(1700000000, 0)},
	}
	emit := func(kind model.PayloadKind, payload []byte) error {
		h.sent = append(h.sent, sent{kind: kind, payload: payload})
		return nil
	}
	opts = append([]Option{WithClock(h.clock.now), WithSleep(h.clock.sleep)}, opts...)
	h.engine = NewEngine(cfg, h.ctrl, h.source, emit, zaptest.NewLogger(t).Sugar(), opts...)
	return h
}

// stepUntilLeaving steps while the engine stays in s and returns the
// transition out of it.
func (h *harness) stepUntilLeaving(t *testing.T, s State) Transition {
	t.Helper()
	for i := 0; i < 10000; i++ {
		tr := h.engine.Step()
		if tr.To != s {
			return tr
		}
	}
	t.Fatalf("engine never left %s", s)
	return Transition{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Channels = []int{1, 6, 11}
	return cfg
}

func TestSweepWithoutBeaconsReturnsToIdle(t *testing.T) {
	h := newHarness(t, testConfig())

	h.engine.Override(Scan([]int{1, 6, 11}))
	tr := h.engine.Step()
	assert.Equal(t, Transition{From: StateIdle, To: StateSearchStart, Forced: true}, tr)

	tr = h.engine.Step()
	assert.Equal(t, StateSearchLoop, tr.To)

	start := h.clock.t
	tr = h.stepUntilLeaving(t, StateSearchLoop)
	assert.Equal(t, StateSearchLoop, tr.From)
	assert.Equal(t, StateIdle, tr.To)
	assert.Equal(t, 0, len(h.engine.APs()))
	assert.Equal(t, []int{1, 6, 11}, h.ctrl.channels)
	assert.GreaterOrEqual(t, h.clock.t.Sub(start), 3*150*time.Millisecond)
	assert.Empty(t, h.sent)
}

func TestSweepWithBeaconSendsAPList(t *testing.T) {
	h := newHarness(t, testConfig())
	h.source.frames = [][]byte{beacon(bssid(1), "lab", 6, -40)}

	h.engine.Override(Scan(nil))
	h.engine.Step()
	h.engine.Step()
	tr := h.stepUntilLeaving(t, StateSearchLoop)
	assert.Equal(t, StateSearchLoop, tr.From)
	assert.Equal(t, StateSend, tr.To)

	tr = h.engine.Step()
	assert.Equal(t, StateIdle, tr.To)
	assert.Equal(t, model.KindAPList, tr.Sent)

	require.Len(t, h.sent, 1)
	batch, err := model.DecodeBatch(h.sent[0].payload)
	require.NoError(t, err)
	require.Len(t, batch.APs, 1)
	assert.Equal(t, bssid(1), batch.APs[0].BSSID)
	assert.Equal(t, "lab", batch.APs[0].SSID)
	assert.Equal(t, uint16(6), batch.APs[0].Channel)

	// An empty scan list sweeps every 2.4 GHz channel.
	assert.Len(t, h.ctrl.channels, 13)
}

func TestAPListBoundedAndUnique(t *testing.T) {
	cfg := testConfig()
	cfg.APMax = 3
	h := newHarness(t, cfg)
	h.source.frames = [][]byte{
		beacon(bssid(1), "a", 1, -40),
		beacon(bssid(2), "b", 1, -40),
		beacon(bssid(1), "a", 1, -41),
		beacon(bssid(3), "c", 6, -40),
		beacon(bssid(4), "d", 6, -40),
		beacon(bssid(2), "b", 6, -40),
	}

	h.engine.Override(Scan([]int{1, 6, 11}))
	h.engine.Step()
	h.engine.Step()
	h.stepUntilLeaving(t, StateSearchLoop)

	aps := h.engine.APs()
	require.Len(t, aps, 3)
	seen := map[model.BSSID]bool{}
	for _, ap := range aps {
		assert.False(t, seen[ap.BSSID], "duplicate %s", ap.BSSID)
		seen[ap.BSSID] = true
	}
	assert.False(t, seen[bssid(4)], "AP over the limit must be dropped")
	// A repeated sighting refreshes the channel of the known entry.
	assert.Equal(t, uint16(6), aps[1].Channel)
}

func TestAPListUpsert(t *testing.T) {
	l := NewAPList(1)
	added, err := l.Upsert(model.APRecord{BSSID: bssid(1), Channel: 1, Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.Upsert(model.APRecord{BSSID: bssid(1), SSID: "late", Timestamp: 2})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, model.APRecord{BSSID: bssid(1), SSID: "late", Channel: 1, Timestamp: 2}, l.Items()[0])

	_, err = l.Upsert(model.APRecord{BSSID: bssid(2)})
	assert.ErrorIs(t, err, ErrListFull)
	assert.Equal(t, 1, l.Len())
}

func TestPacketCaptureFiltersSelectedBSSID(t *testing.T) {
	cfg := testConfig()
	cfg.PktMax = 2
	h := newHarness(t, cfg)
	target := model.APRecord{SSID: "lab", BSSID: bssid(1), Channel: 6}
	h.source.frames = [][]byte{
		beacon(bssid(2), "other", 6, -30),
		beacon(bssid(1), "lab", 6, -50),
		beacon(bssid(2), "other", 6, -31),
		beacon(bssid(1), "lab", 6, -52),
		beacon(bssid(1), "lab", 6, -53),
	}

	h.engine.Override(SelectAP(target))
	tr := h.engine.Step()
	assert.Equal(t, StatePktCap, tr.To)
	assert.Equal(t, []int{6}, h.ctrl.channels)

	tr = h.stepUntilLeaving(t, StatePktCap)
	assert.Equal(t, StateSend, tr.To)

	tr = h.engine.Step()
	assert.Equal(t, StatePktCap, tr.To)
	assert.Equal(t, model.KindPktList, tr.Sent)

	require.Len(t, h.sent, 1)
	batch, err := model.DecodeBatch(h.sent[0].payload)
	require.NoError(t, err)
	require.Len(t, batch.Packets, 2)
	for _, p := range batch.Packets {
		assert.Equal(t, bssid(1), p.AP.BSSID)
	}
	assert.Equal(t, int8(-50), batch.Packets[0].Radio.AntennaSignal)
	assert.Equal(t, int8(-52), batch.Packets[1].Radio.AntennaSignal)

	// Capture resumes with an empty list.
	h.engine.Step()
	assert.Len(t, h.source.frames, 0)
	assert.Equal(t, StatePktCap, h.engine.State())
}

func TestPacketCaptureWithoutSelectionAcceptsNothing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.engine.Override(SelectAP(model.APRecord{}))
	h.engine.Step()
	h.source.frames = [][]byte{beacon(model.BSSID{}, "zero", 1, -40)}

	for i := 0; i < 5; i++ {
		tr := h.engine.Step()
		assert.Equal(t, StatePktCap, tr.To)
	}
	_, ok := h.engine.Selected()
	assert.False(t, ok)
	assert.Len(t, h.source.frames, 1, "no frame is read without a target")
}

func TestOverrideLastWriteWins(t *testing.T) {
	h := newHarness(t, testConfig())

	h.engine.Override(Scan([]int{1}))
	h.engine.Override(SelectAP(model.APRecord{BSSID: bssid(1), Channel: 1}))
	h.engine.Override(Stop())

	tr := h.engine.Step()
	assert.Equal(t, Transition{From: StateIdle, To: StateIdle, Forced: true}, tr)
	assert.Empty(t, h.ctrl.channels, "superseded commands never run")

	tr = h.engine.Step()
	assert.False(t, tr.Forced, "a command applies to exactly one transition")
}

func TestOverridePreemptsCapture(t *testing.T) {
	h := newHarness(t, testConfig())
	h.engine.Override(SelectAP(model.APRecord{BSSID: bssid(1), Channel: 11}))
	h.engine.Step()

	h.engine.Override(Stop())
	tr := h.engine.Step()
	assert.Equal(t, StatePktCap, tr.From)
	assert.Equal(t, StateIdle, tr.To)
	assert.Equal(t, StatePktCap, h.engine.PrevState())

	// The target is remembered across a stop.
	ap, ok := h.engine.Selected()
	assert.True(t, ok)
	assert.Equal(t, bssid(1), ap.BSSID)
}

func TestRunStopsOnEnd(t *testing.T) {
	cfg := testConfig()
	cfg.IdleSleep = time.Hour
	e := NewEngine(cfg, &recordingController{}, &scriptedSource{}, func(model.PayloadKind, []byte) error { return nil }, zaptest.NewLogger(t).Sugar())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.Override(End())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, StateEnd, e.State())
}

func TestRunHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.IdleSleep = time.Millisecond
	e := NewEngine(cfg, &recordingController{}, &scriptedSource{}, func(model.PayloadKind, []byte) error { return nil }, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
}

type frameRecorder struct {
	frames []pcap.Frame
}

func (r *frameRecorder) Enqueue(f pcap.Frame) { r.frames = append(r.frames, f) }

func TestMetricsAndRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	rec := &frameRecorder{}
	cfg := testConfig()
	cfg.PktMax = 1
	h := newHarness(t, cfg, WithMetrics(m), WithRecorder(rec))
	h.source.frames = [][]byte{
		{0x00, 0x00},
		beacon(bssid(2), "other", 6, -30),
		beacon(bssid(1), "lab", 6, -50),
	}

	h.engine.Override(SelectAP(model.APRecord{BSSID: bssid(1), Channel: 6}))
	h.engine.Step()
	h.stepUntilLeaving(t, StatePktCap)
	h.engine.Step()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.framesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.beacons))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesEmitted.WithLabelValues(string(model.KindPktList))))
	require.Len(t, rec.frames, 1)
}
