package channel

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Controller retunes the capture radio.
type Controller interface {
	SwitchChannel(ch int) error
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// IWController switches channel through the iw(8) utility.
type IWController struct {
	iface   string
	timeout time.Duration
	run     Runner
	log     *zap.SugaredLogger
}

// NewIWController creates a controller for the monitor interface iface.
// A nil runner executes commands on the host.
func NewIWController(iface string, run Runner, log *zap.SugaredLogger) *IWController {
	if run == nil {
		run = execRunner
	}
	return &IWController{iface: iface, timeout: 2 * time.Second, run: run, log: log}
}

// SwitchChannel tunes the interface to the centre frequency of ch.
func (c *IWController) SwitchChannel(ch int) error {
	freq, err := Frequency(ch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	out, err := c.run(ctx, "iw", "dev", c.iface, "set", "freq", strconv.Itoa(int(freq)))
	if err != nil {
		return fmt.Errorf("failed to set %s to channel %d (%d MHz): %w: %s", c.iface, ch, freq, err, out)
	}
	c.log.Debugf("Set %s to channel %d (%d MHz)", c.iface, ch, freq)
	return nil
}

// Nop accepts every channel without touching hardware. It is used when
// frames are replayed from a file.
type Nop struct{}

func (Nop) SwitchChannel(ch int) error {
	if !Valid(ch) {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannel, ch)
	}
	return nil
}
