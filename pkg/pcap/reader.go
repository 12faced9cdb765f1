package pcap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrNoFrame is returned by a FrameSource when no frame is available right
// now. Callers poll again after a short pause.
var ErrNoFrame = errors.New("no frame available")

// Frame is one captured radiotap frame.
type Frame struct {
	Data        []byte
	CaptureInfo gopacket.CaptureInfo
}

// FrameSource yields captured frames without blocking for long.
type FrameSource interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Reader replays frames from a pcap file recorded with radiotap headers.
type Reader struct {
	file *os.File
	r    *pcapgo.Reader
	done bool
}

// NewReader opens a pcap file for replay.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", filePath, err)
	}
	if r.LinkType() != layers.LinkTypeIEEE80211Radio {
		file.Close()
		return nil, fmt.Errorf("%s has link type %s, expected radiotap", filePath, r.LinkType())
	}
	return &Reader{file: file, r: r}, nil
}

// ReadFrame returns the next recorded frame, or ErrNoFrame once the file is
// exhausted.
func (r *Reader) ReadFrame() (Frame, error) {
	if r.done {
		return Frame{}, ErrNoFrame
	}
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.done = true
			return Frame{}, ErrNoFrame
		}
		return Frame{}, err
	}
	return Frame{Data: data, CaptureInfo: ci}, nil
}

// Close closes the pcap file.
func (r *Reader) Close() error {
	return r.file.Close()
}
