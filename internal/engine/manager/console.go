package manager

import (
	"WiFiSpectra/internal/model"
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

const consoleHelp = `commands:
  nodes                  list capture nodes
  scan [ch,ch,...]       sweep the given channels, or the defaults
  aps                    list the access points seen by every node
  select <index|bssid>   capture one of them
  stop                   stop capturing
  end                    end the session
  quit                   leave the console, nodes keep running
`

// RunConsole reads operator commands from in, one per line, until in is
// exhausted, quit or end is entered, ctx is cancelled or the manager ends.
func (m *Manager) RunConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if done := m.execute(strings.TrimSpace(line), out); done {
				return nil
			}
			fmt.Fprint(out, "> ")
		}
	}
}

// execute runs one console command and reports whether the console is done.
func (m *Manager) execute(line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "help", "?":
		fmt.Fprint(out, consoleHelp)

	case "nodes":
		m.printNodes(out)

	case "scan":
		channels, err := parseChannels(args)
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		if err := m.Scan(channels); err != nil {
			fmt.Fprintf(out, "scan failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "scanning")

	case "aps":
		m.printAPs(out)

	case "select":
		if len(args) != 1 {
			fmt.Fprintln(out, "usage: select <index|bssid>")
			return false
		}
		var (
			ap  model.APRecord
			err error
		)
		if i, convErr := strconv.Atoi(args[0]); convErr == nil {
			ap, err = m.SelectIndex(i)
		} else if bssid, parseErr := model.ParseBSSID(args[0]); parseErr == nil {
			ap, err = m.Select(bssid)
		} else {
			err = parseErr
		}
		if err != nil {
			fmt.Fprintf(out, "select failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "capturing %s (%s) on channel %d\n", ap.DisplaySSID(), ap.BSSID, ap.Channel)

	case "stop":
		if err := m.Stop(); err != nil {
			fmt.Fprintf(out, "stop failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "stopped")

	case "end":
		if err := m.End(); err != nil {
			fmt.Fprintf(out, "end failed: %v\n", err)
		}
		return true

	case "quit", "exit":
		return true

	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (m *Manager) printNodes(out io.Writer) {
	nodes := m.Nodes()
	if len(nodes) == 0 {
		fmt.Fprintln(out, "no nodes registered")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tREADY\tCRASHED\tAPS\tSAMPLES\tAVERAGE")
	for _, n := range nodes {
		avg := "-"
		if n.Baseline {
			avg = fmt.Sprintf("%.2f", n.Average)
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%d\t%d\t%s\n", n.ID, n.Ready, n.Crashed, n.APCount, n.Samples, avg)
	}
	tw.Flush()
}

func (m *Manager) printAPs(out io.Writer) {
	aps := m.CommonAPs()
	if len(aps) == 0 {
		fmt.Fprintf(out, "no common access points (%s)\n", m.Phase())
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSSID\tBSSID\tCHANNEL")
	for i, ap := range aps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i, ap.DisplaySSID(), ap.BSSID, ap.Channel)
	}
	tw.Flush()
}

// parseChannels accepts channels separated by commas, spaces or both.
func parseChannels(args []string) ([]int, error) {
	var channels []int
	for _, arg := range args {
		for _, f := range strings.Split(arg, ",") {
			if f == "" {
				continue
			}
			ch, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("invalid channel %q", f)
			}
			channels = append(channels, ch)
		}
	}
	return channels, nil
}
