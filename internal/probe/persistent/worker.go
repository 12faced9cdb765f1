package persistent

import (
	"WiFiSpectra/internal/config"
	"WiFiSpectra/pkg/pcap"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

const dumpSnapLen = 65535

// Worker writes frames accepted during targeted capture to a pcap file in
// the background, so that the capture loop never waits on disk.
type Worker struct {
	frameChan chan pcap.Frame
	stopChan  chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	file      *os.File
	writer    *pcapgo.Writer
	dropped   uint64
	mu        sync.Mutex
	log       *zap.SugaredLogger
}

// NewWorker creates the dump file for nodeID and starts the writer.
func NewWorker(cfg config.DumpConfig, nodeID string, log *zap.SugaredLogger) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	fileName := fmt.Sprintf("%s_%s.pcap", nodeID, time.Now().Format("2006-01-02_15-04-05"))
	file, err := os.OpenFile(filepath.Join(cfg.Path, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}

	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(dumpSnapLen, layers.LinkTypeIEEE80211Radio); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	w := &Worker{
		frameChan: make(chan pcap.Frame, queueSize),
		stopChan:  make(chan struct{}),
		file:      file,
		writer:    writer,
		log:       log,
	}
	w.wg.Add(1)
	go w.run()

	log.Infof("Dumping captured frames to %s", file.Name())
	return w, nil
}

// Path is the dump file location.
func (w *Worker) Path() string {
	return w.file.Name()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case f := <-w.frameChan:
			w.write(f)
		case <-w.stopChan:
			// Drain what is already queued before closing.
			for {
				select {
				case f := <-w.frameChan:
					w.write(f)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) write(f pcap.Frame) {
	ci := f.CaptureInfo
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now()
	}
	ci.CaptureLength = len(f.Data)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if err := w.writer.WritePacket(ci, f.Data); err != nil {
		w.log.Warnf("Failed to write frame to dump: %v", err)
	}
}

// Enqueue hands a frame to the writer. The frame is dropped when the queue is
// full.
func (w *Worker) Enqueue(f pcap.Frame) {
	select {
	case w.frameChan <- f:
	default:
		w.mu.Lock()
		w.dropped++
		n := w.dropped
		w.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			w.log.Warnf("Dump queue full, %d frames dropped so far", n)
		}
	}
}

// Dropped returns how many frames were dropped because the queue was full.
func (w *Worker) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Stop flushes the queue and closes the dump file.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		err = w.file.Close()
		w.log.Infof("Dump %s closed", w.file.Name())
	})
	return err
}
