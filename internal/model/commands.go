package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EncodeScanCommand builds the payload of a scan broadcast: a JSON list of
// channel numbers.
func EncodeScanCommand(channels []int) ([]byte, error) {
	if channels == nil {
		channels = []int{}
	}
	return json.Marshal(channels)
}

// DecodeScanCommand accepts a JSON list of channels or an object with a
// "channels" list. An empty payload means no explicit list.
func DecodeScanCommand(payload []byte) ([]int, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	var channels []int
	if payload[0] == '{' {
		var obj struct {
			Channels []int `json:"channels"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("invalid scan payload: %w", err)
		}
		return obj.Channels, nil
	}
	if err := json.Unmarshal(payload, &channels); err != nil {
		return nil, fmt.Errorf("invalid scan payload: %w", err)
	}
	return channels, nil
}

// EncodeSelectCommand builds the payload of a select command.
func EncodeSelectCommand(ap APRecord) ([]byte, error) {
	return json.Marshal(ToAPEntry(ap))
}

// DecodeSelectCommand parses a select payload. The bssid is required.
func DecodeSelectCommand(payload []byte) (APRecord, error) {
	var raw struct {
		SSID    string `json:"ssid"`
		BSSID   *BSSID `json:"bssid"`
		Channel uint16 `json:"channel"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return APRecord{}, fmt.Errorf("invalid select payload: %w", err)
	}
	if raw.BSSID == nil || raw.BSSID.IsZero() {
		return APRecord{}, errors.New("invalid select payload: missing bssid")
	}
	return APEntry{SSID: raw.SSID, BSSID: *raw.BSSID, Channel: raw.Channel}.Record(), nil
}
