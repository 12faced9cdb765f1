package model

import (
	"encoding/json"
	"fmt"
)

// PayloadKind tags the content of a telemetry batch sent by a capture node.
type PayloadKind string

const (
	KindAPList  PayloadKind = "AP_LIST"
	KindPktList PayloadKind = "PKT_LIST"
)

// Batch is the envelope published on data/<nodeId>.
type Batch struct {
	Type  PayloadKind     `json:"type"`
	Count int             `json:"count"`
	Data  json.RawMessage `json:"data"`
}

// APEntry is the wire form of an access point in AP_LIST batches and in the
// select command.
type APEntry struct {
	SSID    string `json:"ssid"`
	BSSID   BSSID  `json:"bssid"`
	Channel uint16 `json:"channel"`
}

// PacketAP is the access point part of a PKT_LIST entry. ChannelFreq carries
// the AP's channel number, as the capture nodes always have.
type PacketAP struct {
	ChannelFreq uint16 `json:"channel_freq"`
	SSID        string `json:"ssid"`
	BSSID       BSSID  `json:"bssid"`
	Timestamp   uint64 `json:"timestamp"`
}

// PacketEntry is the wire form of one PacketRecord.
type PacketEntry struct {
	Radio RadioSample `json:"radio"`
	AP    PacketAP    `json:"ap"`
}

func ToAPEntry(ap APRecord) APEntry {
	return APEntry{SSID: ap.SSID, BSSID: ap.BSSID, Channel: ap.Channel}
}

func (e APEntry) Record() APRecord {
	ssid := e.SSID
	if len(ssid) > MaxSSIDLen {
		ssid = ssid[:MaxSSIDLen]
	}
	return APRecord{SSID: ssid, BSSID: e.BSSID, Channel: e.Channel}
}

// EncodeAPList builds an AP_LIST batch.
func EncodeAPList(aps []APRecord) ([]byte, error) {
	entries := make([]APEntry, 0, len(aps))
	for _, ap := range aps {
		entries = append(entries, ToAPEntry(ap))
	}
	return encodeBatch(KindAPList, len(entries), entries)
}

// EncodePacketList builds a PKT_LIST batch.
func EncodePacketList(pkts []PacketRecord) ([]byte, error) {
	entries := make([]PacketEntry, 0, len(pkts))
	for _, p := range pkts {
		entries = append(entries, PacketEntry{
			Radio: p.Radio,
			AP: PacketAP{
				ChannelFreq: p.AP.Channel,
				SSID:        p.AP.SSID,
				BSSID:       p.AP.BSSID,
				Timestamp:   p.AP.Timestamp,
			},
		})
	}
	return encodeBatch(KindPktList, len(entries), entries)
}

func encodeBatch(kind PayloadKind, count int, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", kind, err)
	}
	return json.Marshal(Batch{Type: kind, Count: count, Data: raw})
}

// DecodedBatch is a parsed telemetry batch. Only the slice matching Kind is set.
type DecodedBatch struct {
	Kind    PayloadKind
	APs     []APRecord
	Packets []PacketRecord
}

// DecodeBatch parses a telemetry batch published by a capture node.
func DecodeBatch(payload []byte) (*DecodedBatch, error) {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	out := &DecodedBatch{Kind: b.Type}
	switch b.Type {
	case KindAPList:
		var entries []APEntry
		if err := json.Unmarshal(b.Data, &entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal AP_LIST data: %w", err)
		}
		for _, e := range entries {
			out.APs = append(out.APs, e.Record())
		}
	case KindPktList:
		var entries []PacketEntry
		if err := json.Unmarshal(b.Data, &entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal PKT_LIST data: %w", err)
		}
		for _, e := range entries {
			out.Packets = append(out.Packets, PacketRecord{
				Radio: e.Radio,
				AP: APRecord{
					SSID:      e.AP.SSID,
					BSSID:     e.AP.BSSID,
					Channel:   e.AP.ChannelFreq,
					Timestamp: e.AP.Timestamp,
				},
			})
		}
	default:
		return nil, fmt.Errorf("unknown batch type %q", b.Type)
	}
	return out, nil
}
