package channel

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFrequency(t *testing.T) {
	f, err := Frequency(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(2412), f)

	f, err = Frequency(13)
	require.NoError(t, err)
	assert.Equal(t, uint16(2472), f)

	_, err = Frequency(36)
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	_, err = Frequency(0)
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestFromFrequency(t *testing.T) {
	assert.Equal(t, uint16(6), FromFrequency(2437))
	assert.Equal(t, uint16(0), FromFrequency(5180))
	assert.Equal(t, uint16(0), FromFrequency(2438))
}

func TestFilter(t *testing.T) {
	assert.Equal(t, []int{1, 6, 11}, Filter([]int{1, 6, 11, 36, -1, 14}))
	assert.Equal(t, DefaultList(), Filter(nil))
	assert.Len(t, DefaultList(), 13)
}

func TestIWControllerCommand(t *testing.T) {
	var got string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		got = name + " " + strings.Join(args, " ")
		return nil, nil
	}
	c := NewIWController("mon0", run, zaptest.NewLogger(t).Sugar())

	require.NoError(t, c.SwitchChannel(11))
	assert.Equal(t, "iw dev mon0 set freq 2462", got)

	got = ""
	assert.ErrorIs(t, c.SwitchChannel(149), ErrUnsupportedChannel)
	assert.Empty(t, got)
}

func TestIWControllerFailure(t *testing.T) {
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("device busy"), errors.New("exit status 240")
	}
	c := NewIWController("mon0", run, zaptest.NewLogger(t).Sugar())
	err := c.SwitchChannel(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
}

func TestNodeID(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	id := NodeID(&Interface{Name: "wlan0", HardwareAddr: mac})
	assert.True(t, strings.HasSuffix(id, "_00:11:22:33:44:55"), id)
}
