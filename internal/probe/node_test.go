package probe

import (
	"WiFiSpectra/internal/bus"
	"WiFiSpectra/internal/bus/bustest"
	"WiFiSpectra/internal/capture"
	"WiFiSpectra/internal/channel"
	"WiFiSpectra/internal/model"
	"WiFiSpectra/pkg/pcap"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var labBSSID = model.BSSID{0x02, 0, 0, 0, 0, 0x01}

func beacon(bssid model.BSSID, ssid string, ch byte) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[4:8], 1<<5)
	buf = append(buf, 0xc4) // -60 dBm
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

// loopSource hands out the same beacon forever.
type loopSource struct {
	mu    sync.Mutex
	frame []byte
}

func (s *loopSource) ReadFrame() (pcap.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return pcap.Frame{}, pcap.ErrNoFrame
	}
	return pcap.Frame{Data: s.frame}, nil
}

func (s *loopSource) Close() error { return nil }

// fakeManager acknowledges registrations the way the manager does: a second
// register from a known node removes it.
type fakeManager struct {
	*bustest.Client

	mu    sync.Mutex
	known map[string]bool
}

func newFakeManager(t *testing.T, broker *bustest.Broker) *fakeManager {
	m := &fakeManager{Client: broker.Client(nil), known: make(map[string]bool)}
	require.NoError(t, m.Subscribe("cmd/+/register", m.onRegister))
	require.NoError(t, m.Subscribe(bus.BroadcastTopic(bus.KindEnd), func(bus.Envelope) {
		m.mu.Lock()
		m.known = make(map[string]bool)
		m.mu.Unlock()
	}))
	return m
}

func (m *fakeManager) onRegister(env bus.Envelope) {
	m.mu.Lock()
	added := !m.known[env.Node]
	m.known[env.Node] = added
	m.mu.Unlock()
	if added {
		_ = m.Publish(bus.CommandTopic(env.Node, bus.KindRegAck), nil)
	}
}

type testNode struct {
	node   *Node
	broker *bustest.Broker
	mgr    *bustest.Client
	cancel context.CancelFunc
	done   chan error
}

func startNode(t *testing.T, ack bool, src pcap.FrameSource) *testNode {
	t.Helper()
	broker := bustest.NewBroker()
	log := zaptest.NewLogger(t).Sugar()

	mgr := broker.Client(nil)
	if ack {
		mgr = newFakeManager(t, broker).Client
	}

	client := broker.Client(Will("node-1"))
	cfg := capture.DefaultConfig()
	cfg.Dwell = 5 * time.Millisecond
	cfg.IdleSleep = 5 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.PktMax = 3
	engine := capture.NewEngine(cfg, channel.Nop{}, src, Emitter(client, "node-1"), log)
	node := NewNode("node-1", client, engine, 20*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNode{node: node, broker: broker, mgr: mgr, cancel: cancel, done: make(chan error, 1)}
	go func() { tn.done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-tn.done
	})
	return tn
}

func (tn *testNode) count(topic string) int {
	return len(tn.broker.PublishedTo(topic))
}

func (tn *testNode) waitReady(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tn.count("cmd/node-1/ready") == n }, 5*time.Second, 5*time.Millisecond)
}

func TestNodeRegistersAndAnnouncesReady(t *testing.T) {
	tn := startNode(t, true, &loopSource{})

	tn.waitReady(t, 1)
	assert.True(t, tn.node.Registered())
	assert.Equal(t, 1, tn.count("cmd/node-1/register"))
}

func TestNodeRetriesRegistration(t *testing.T) {
	tn := startNode(t, false, &loopSource{})

	require.Eventually(t, func() bool { return tn.count("cmd/node-1/register") >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, tn.node.Registered())
	assert.Equal(t, 0, tn.count("cmd/node-1/ready"))
}

func TestNodeScanReportsAPList(t *testing.T) {
	tn := startNode(t, true, &loopSource{frame: beacon(labBSSID, "lab", 6)})
	tn.waitReady(t, 1)

	payload, err := model.EncodeScanCommand([]int{1, 6})
	require.NoError(t, err)
	require.NoError(t, tn.mgr.Publish(bus.BroadcastTopic(bus.KindScan), payload))

	require.Eventually(t, func() bool { return tn.count("data/node-1") >= 1 }, 5*time.Second, 5*time.Millisecond)
	batch, err := model.DecodeBatch(tn.broker.PublishedTo("data/node-1")[0])
	require.NoError(t, err)
	assert.Equal(t, model.KindAPList, batch.Kind)
	require.Len(t, batch.APs, 1)
	assert.Equal(t, labBSSID, batch.APs[0].BSSID)
}

func TestNodeSelectStreamsPackets(t *testing.T) {
	tn := startNode(t, true, &loopSource{frame: beacon(labBSSID, "lab", 6)})
	tn.waitReady(t, 1)

	payload, err := model.EncodeSelectCommand(model.APRecord{SSID: "lab", BSSID: labBSSID, Channel: 6})
	require.NoError(t, err)
	require.NoError(t, tn.mgr.Publish(bus.BroadcastTopic(bus.KindSelect), payload))

	require.Eventually(t, func() bool { return tn.count("data/node-1") >= 1 }, 5*time.Second, 5*time.Millisecond)
	batch, err := model.DecodeBatch(tn.broker.PublishedTo("data/node-1")[0])
	require.NoError(t, err)
	assert.Equal(t, model.KindPktList, batch.Kind)
	require.Len(t, batch.Packets, 3)
	assert.Equal(t, int8(-60), batch.Packets[0].Radio.AntennaSignal)
}

func TestNodeIgnoresMalformedCommands(t *testing.T) {
	tn := startNode(t, true, &loopSource{frame: beacon(labBSSID, "lab", 6)})
	tn.waitReady(t, 1)

	mgr := tn.mgr
	require.NoError(t, mgr.Publish(bus.BroadcastTopic(bus.KindScan), []byte("not json")))
	require.NoError(t, mgr.Publish(bus.BroadcastTopic(bus.KindSelect), []byte(`{"ssid":"lab"}`)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, tn.count("data/node-1"))
	assert.Equal(t, capture.StateIdle, tn.node.engine.State())
}

func TestNodeEndReRegisters(t *testing.T) {
	tn := startNode(t, true, &loopSource{})
	tn.waitReady(t, 1)

	require.NoError(t, tn.mgr.Publish(bus.BroadcastTopic(bus.KindEnd), nil))

	tn.waitReady(t, 2)
	assert.Equal(t, 2, tn.count("cmd/node-1/register"))
}

func TestNodeLeavesGracefully(t *testing.T) {
	tn := startNode(t, true, &loopSource{})
	tn.waitReady(t, 1)

	tn.cancel()
	select {
	case err := <-tn.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	tn.done <- nil // for cleanup

	// The second register toggles the node off at the manager.
	assert.Equal(t, 2, tn.count("cmd/node-1/register"))
	assert.False(t, tn.node.Registered())
}

func TestNodeResumesRememberedTarget(t *testing.T) {
	tn := startNode(t, true, &loopSource{frame: beacon(labBSSID, "lab", 6)})
	tn.waitReady(t, 1)

	mgr := tn.mgr
	payload, err := model.EncodeSelectCommand(model.APRecord{SSID: "lab", BSSID: labBSSID, Channel: 6})
	require.NoError(t, err)
	require.NoError(t, mgr.Publish(bus.BroadcastTopic(bus.KindSelect), payload))
	require.Eventually(t, func() bool { return tn.count("data/node-1") >= 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Publish(bus.BroadcastTopic(bus.KindEnd), nil))
	tn.waitReady(t, 2)
	tn.broker.Reset()

	// Capture picks up again without a new select.
	require.Eventually(t, func() bool { return tn.count("data/node-1") >= 1 }, 5*time.Second, 5*time.Millisecond)
	target, ok := tn.node.engine.Selected()
	require.True(t, ok)
	assert.Equal(t, labBSSID, target.BSSID)
}
