package capture

import (
	"WiFiSpectra/internal/model"
	"errors"
)

// ErrListFull is returned when a bounded list rejects an insertion.
var ErrListFull = errors.New("list full")

// APList holds the access points found during one discovery sweep, unique by
// BSSID and bounded in size.
type APList struct {
	max   int
	items []model.APRecord
	index map[model.BSSID]int
}

func NewAPList(max int) *APList {
	return &APList{max: max, items: make([]model.APRecord, 0, max), index: make(map[model.BSSID]int, max)}
}

// Upsert adds ap, or refreshes the timestamp and channel of an already known
// BSSID. It reports whether a new entry was added.
func (l *APList) Upsert(ap model.APRecord) (bool, error) {
	if i, ok := l.index[ap.BSSID]; ok {
		known := &l.items[i]
		known.Timestamp = ap.Timestamp
		if ap.Channel != 0 {
			known.Channel = ap.Channel
		}
		if known.SSID == "" {
			known.SSID = ap.SSID
		}
		return false, nil
	}
	if len(l.items) >= l.max {
		return false, ErrListFull
	}
	l.index[ap.BSSID] = len(l.items)
	l.items = append(l.items, ap)
	return true, nil
}

func (l *APList) Len() int { return len(l.items) }

// Items returns a copy of the list in discovery order.
func (l *APList) Items() []model.APRecord {
	out := make([]model.APRecord, len(l.items))
	copy(out, l.items)
	return out
}

func (l *APList) Reset() {
	l.items = l.items[:0]
	for k := range l.index {
		delete(l.index, k)
	}
}

// PacketList buffers captured packets until a batch is full.
type PacketList struct {
	max   int
	items []model.PacketRecord
}

func NewPacketList(max int) *PacketList {
	return &PacketList{max: max, items: make([]model.PacketRecord, 0, max)}
}

func (l *PacketList) Append(p model.PacketRecord) error {
	if len(l.items) >= l.max {
		return ErrListFull
	}
	l.items = append(l.items, p)
	return nil
}

func (l *PacketList) Len() int { return len(l.items) }

// Full reports whether the next Append would be rejected.
func (l *PacketList) Full() bool { return len(l.items) >= l.max }

func (l *PacketList) Reset() { l.items = l.items[:0] }

func (l *PacketList) Items() []model.PacketRecord {
	out := make([]model.PacketRecord, len(l.items))
	copy(out, l.items)
	return out
}
