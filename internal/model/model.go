package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxSSIDLen is the longest SSID an 802.11 network can advertise.
const MaxSSIDLen = 32

// BSSID is the 6-byte hardware address of an access point.
type BSSID [6]byte

// ParseBSSID parses the "xx:xx:xx:xx:xx:xx" form.
func ParseBSSID(s string) (BSSID, error) {
	var b BSSID
	if len(s) != 17 {
		return b, fmt.Errorf("invalid bssid %q: expected 17 characters", s)
	}
	for i := 0; i < 6; i++ {
		if i > 0 && s[i*3-1] != ':' {
			return b, fmt.Errorf("invalid bssid %q: missing separator", s)
		}
		hi, ok1 := fromHex(s[i*3])
		lo, ok2 := fromHex(s[i*3+1])
		if !ok1 || !ok2 {
			return b, fmt.Errorf("invalid bssid %q: bad hex digit", s)
		}
		b[i] = hi<<4 | lo
	}
	return b, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// String renders the address in lowercase colon-separated form.
func (b BSSID) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// IsZero reports whether the address is all zeroes. A zero BSSID never
// identifies a real access point.
func (b BSSID) IsZero() bool {
	return b == BSSID{}
}

func (b BSSID) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *BSSID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBSSID(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// RadioSample is the physical-layer metadata of one captured frame.
type RadioSample struct {
	ChannelFreq   uint16 `json:"channel_freq"`
	AntennaSignal int8   `json:"antenna_signal"`
	Noise         int8   `json:"noise"`
}

// APRecord identifies one access point. BSSID is the unique key.
type APRecord struct {
	SSID      string
	BSSID     BSSID
	Channel   uint16
	Timestamp uint64 // milliseconds since the Unix epoch of the last sighting
}

// DisplaySSID returns the SSID or a placeholder for hidden networks.
func (a APRecord) DisplaySSID() string {
	if a.SSID == "" {
		return "<hidden>"
	}
	return a.SSID
}

// PacketInfo is what the frame decoder extracts from one beacon frame.
type PacketInfo struct {
	Radio     RadioSample
	FrameType uint8
	Subtype   uint8
	AP        APRecord
}

// PacketRecord is one captured frame attributed to an access point.
type PacketRecord struct {
	Radio RadioSample
	AP    APRecord
}
