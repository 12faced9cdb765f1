package channel

import (
	"errors"
	"fmt"
)

// ErrUnsupportedChannel is returned for channels outside the 2.4 GHz band.
// The 5 GHz band is not mapped.
var ErrUnsupportedChannel = errors.New("unsupported channel")

const (
	MinChannel = 1
	MaxChannel = 13
)

// Frequency returns the centre frequency in MHz of a 2.4 GHz channel.
func Frequency(ch int) (uint16, error) {
	if ch < MinChannel || ch > MaxChannel {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedChannel, ch)
	}
	return uint16(2407 + ch*5), nil
}

// FromFrequency maps a 2.4 GHz centre frequency back to its channel number.
// It returns 0 when the frequency is not a known 2.4 GHz channel.
func FromFrequency(freq uint16) uint16 {
	if freq < 2412 || freq > 2472 || (freq-2407)%5 != 0 {
		return 0
	}
	return (freq - 2407) / 5
}

// Valid reports whether ch can be tuned.
func Valid(ch int) bool {
	return ch >= MinChannel && ch <= MaxChannel
}

// DefaultList is the sweep used when no channel list is configured.
func DefaultList() []int {
	list := make([]int, 0, MaxChannel)
	for ch := MinChannel; ch <= MaxChannel; ch++ {
		list = append(list, ch)
	}
	return list
}

// Filter drops untunable channels. An empty result falls back to DefaultList.
func Filter(chans []int) []int {
	out := make([]int, 0, len(chans))
	for _, ch := range chans {
		if Valid(ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return DefaultList()
	}
	return out
}
