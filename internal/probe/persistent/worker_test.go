package persistent

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/pkg/pcap"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerDumpsFrames(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorker(config.DumpConfig{Path: dir, QueueSize: 16}, "node-1", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0)
	w.Enqueue(pcap.Frame{Data: []byte{0, 0, 8, 0, 0, 0, 0, 0}, CaptureInfo: gopacket.CaptureInfo{Timestamp: ts, Length: 8}})
	w.Enqueue(pcap.Frame{Data: []byte{1, 2, 3}})
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// The dump is a radiotap pcap that the offline reader accepts.
	r, err := pcap.NewReader(w.Path())
	require.NoError(t, err)
	defer r.Close()

	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 8, 0, 0, 0, 0, 0}, f.Data)
	assert.True(t, f.CaptureInfo.Timestamp.Equal(ts))

	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f.Data)

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, pcap.ErrNoFrame)
	assert.Zero(t, w.Dropped())
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	w := &Worker{
		frameChan: make(chan pcap.Frame, 1),
		stopChan:  make(chan struct{}),
		log:       zaptest.NewLogger(t).Sugar(),
	}
	w.Enqueue(pcap.Frame{Data: []byte{1}})
	w.Enqueue(pcap.Frame{Data: []byte{2}})
	w.Enqueue(pcap.Frame{Data: []byte{3}})
	assert.Equal(t, uint64(2), w.Dropped())
}
