package pcap

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// BeaconFilter restricts live capture to beacon frames.
const BeaconFilter = "type mgt subtype beacon"

// LiveConfig tunes a live capture handle.
type LiveConfig struct {
	Device      string
	SnapLen     int
	BufferSize  int
	ReadTimeout time.Duration
	Filter      string
}

// LiveSource reads frames from a monitor-mode interface.
type LiveSource struct {
	handle *pcap.Handle
}

// OpenLive activates a capture handle on cfg.Device. The interface must
// deliver radiotap headers.
func OpenLive(cfg LiveConfig) (*LiveSource, error) {
	inactive, err := pcap.NewInactiveHandle(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle on %s: %w", cfg.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("failed to set snaplen: %w", err)
	}
	if err := inactive.SetBufferSize(cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("failed to set buffer size: %w", err)
	}
	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate handle on %s: %w", cfg.Device, err)
	}
	if handle.LinkType() != layers.LinkTypeIEEE80211Radio {
		handle.Close()
		return nil, fmt.Errorf("%s has link type %s, expected radiotap (is it in monitor mode?)", cfg.Device, handle.LinkType())
	}
	if cfg.Filter != "" {
		if err := handle.SetBPFFilter(cfg.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to install filter %q: %w", cfg.Filter, err)
		}
	}
	return &LiveSource{handle: handle}, nil
}

// ReadFrame returns the next frame or ErrNoFrame when the read timeout
// expires first.
func (s *LiveSource) ReadFrame() (Frame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return Frame{}, ErrNoFrame
		}
		return Frame{}, err
	}
	return Frame{Data: data, CaptureInfo: ci}, nil
}

// Close releases the capture handle.
func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
