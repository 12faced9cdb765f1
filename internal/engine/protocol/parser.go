package protocol

import (
	"WiFiSpectra/internal/channel"
	"WiFiSpectra/internal/model"
	"encoding/binary"
	"errors"

	"github.com/google/gopacket/layers"
)

var (
	// ErrTruncated means the buffer ends before a required header.
	ErrTruncated = errors.New("frame truncated")
	// ErrMalformed means a length field contradicts the buffer.
	ErrMalformed = errors.New("frame malformed")
	// ErrNotBeacon rejects frames that decode fine but are of no interest.
	ErrNotBeacon = errors.New("not a beacon frame")
)

const (
	radiotapHeaderLen = 8
	macHeaderLen      = 24
	beaconFixedLen    = 12 // timestamp, interval, capabilities
	fcsLen            = 4

	radiotapFlagFCS = 0x10
)

// radiotapField is the alignment and size of one radiotap field.
type radiotapField struct {
	bit   layers.RadioTapPresent
	align int
	size  int
}

// radiotapFields lists the fields the decoder understands, in ascending
// field-id order. Anything after NOISE is not interpreted.
var radiotapFields = []radiotapField{
	{layers.RadioTapPresentTSFT, 8, 8},
	{layers.RadioTapPresentFlags, 1, 1},
	{layers.RadioTapPresentRate, 1, 1},
	{layers.RadioTapPresentChannel, 2, 4},
	{layers.RadioTapPresentFHSS, 2, 2},
	{layers.RadioTapPresentDBMAntennaSignal, 1, 1},
	{layers.RadioTapPresentDBMAntennaNoise, 1, 1},
}

// radiotap holds the parts of the radiotap header the decoder needs.
type radiotap struct {
	length int
	flags  uint8
	radio  model.RadioSample
}

// Decode parses a captured radiotap + 802.11 frame. Only beacon frames are
// accepted; everything else returns ErrNotBeacon after the frame control has
// been read. Decode never reads outside raw.
func Decode(raw []byte) (*model.PacketInfo, error) {
	rt, err := parseRadiotap(raw)
	if err != nil {
		return nil, err
	}

	frame := raw[rt.length:]
	if rt.flags&radiotapFlagFCS != 0 {
		if len(frame) < fcsLen {
			return nil, ErrTruncated
		}
		frame = frame[:len(frame)-fcsLen]
	}
	if len(frame) < macHeaderLen {
		return nil, ErrTruncated
	}

	// Frame control: version(2) type(2) subtype(4) flags(8).
	fc := layers.Dot11Type(frame[0] >> 2)
	info := &model.PacketInfo{
		Radio:     rt.radio,
		FrameType: uint8(fc.MainType()),
		Subtype:   frame[0] >> 4,
	}
	if frame[0]&0x03 != 0 {
		return nil, ErrMalformed
	}
	if fc != layers.Dot11TypeMgmtBeacon {
		return info, ErrNotBeacon
	}

	copy(info.AP.BSSID[:], frame[16:22])
	if len(frame) < macHeaderLen+beaconFixedLen {
		return nil, ErrTruncated
	}
	parseBeaconTags(&info.AP, frame[macHeaderLen+beaconFixedLen:])

	if info.AP.Channel == 0 {
		info.AP.Channel = channel.FromFrequency(info.Radio.ChannelFreq)
	}
	return info, nil
}

func parseRadiotap(raw []byte) (*radiotap, error) {
	if len(raw) < radiotapHeaderLen {
		return nil, ErrTruncated
	}

	rt := &radiotap{length: int(binary.LittleEndian.Uint16(raw[2:4]))}
	if rt.length < radiotapHeaderLen {
		return nil, ErrMalformed
	}
	if rt.length > len(raw) {
		return nil, ErrTruncated
	}
	hdr := raw[:rt.length]

	present := layers.RadioTapPresent(binary.LittleEndian.Uint32(hdr[4:8]))

	// Skip over extended bitmasks without interpreting them.
	offset := radiotapHeaderLen
	word := present
	for word.EXT() {
		if offset+4 > len(hdr) {
			return nil, ErrMalformed
		}
		word = layers.RadioTapPresent(binary.LittleEndian.Uint32(hdr[offset : offset+4]))
		offset += 4
	}

	for _, f := range radiotapFields {
		if present&f.bit == 0 {
			continue
		}
		if rem := offset % f.align; rem != 0 {
			offset += f.align - rem
		}
		if offset+f.size > len(hdr) {
			return nil, ErrMalformed
		}
		field := hdr[offset : offset+f.size]
		switch f.bit {
		case layers.RadioTapPresentFlags:
			rt.flags = field[0]
		case layers.RadioTapPresentChannel:
			rt.radio.ChannelFreq = binary.LittleEndian.Uint16(field[0:2])
		case layers.RadioTapPresentDBMAntennaSignal:
			rt.radio.AntennaSignal = int8(field[0])
		case layers.RadioTapPresentDBMAntennaNoise:
			rt.radio.Noise = int8(field[0])
		}
		offset += f.size
	}

	return rt, nil
}

// parseBeaconTags walks the tagged parameters of a beacon body. A tag whose
// length runs past the buffer ends the walk.
func parseBeaconTags(ap *model.APRecord, tags []byte) {
	off := 0
	for off+2 <= len(tags) {
		id := layers.Dot11InformationElementID(tags[off])
		length := int(tags[off+1])
		start := off + 2
		end := start + length
		if end > len(tags) {
			return
		}
		value := tags[start:end]
		switch id {
		case layers.Dot11InformationElementIDSSID:
			if len(value) > model.MaxSSIDLen {
				value = value[:model.MaxSSIDLen]
			}
			ap.SSID = string(value)
		case layers.Dot11InformationElementIDDSSet:
			if len(value) >= 1 {
				ap.Channel = uint16(value[0])
			}
		}
		off = end
	}
}
