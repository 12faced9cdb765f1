package main

import (
	"WiFiSpectra/internal/engine/protocol"
	"WiFiSpectra/internal/logging"
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/results"
	"WiFiSpectra/internal/stats"
	"WiFiSpectra/pkg/pcap"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type apSummary struct {
	ap     model.APRecord
	frames int
	sum    int64
	min    int8
	max    int8
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "pcap-analyzer <file.pcap>",
		Short:        "Lists the access points of a radiotap capture and replays RSSI statistics offline",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         analyze,
	}
	rootCmd.Flags().String("bssid", "", "replay the rolling statistics of this access point")
	rootCmd.Flags().Int("window", 100, "sample window of the rolling statistics")
	rootCmd.Flags().String("out", "", "write the sample records as CSV into this directory")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func analyze(cmd *cobra.Command, args []string) error {
	bssidFlag, _ := cmd.Flags().GetString("bssid")
	window, _ := cmd.Flags().GetInt("window")
	outDir, _ := cmd.Flags().GetString("out")
	level, _ := cmd.Flags().GetString("log-level")

	log, err := logging.New(level)
	if err != nil {
		return err
	}
	defer log.Sync()

	var target model.BSSID
	if bssidFlag != "" {
		if target, err = model.ParseBSSID(bssidFlag); err != nil {
			return err
		}
		if window <= 0 {
			return fmt.Errorf("window must be positive, got %d", window)
		}
	}

	// 1. Open the capture.
	reader, err := pcap.NewReader(args[0])
	if err != nil {
		log.Errorf("Failed to open pcap file: %v", err)
		return err
	}
	defer reader.Close()
	log.Infof("Reading frames from '%s'...", args[0])

	// 2. Optional offline replay of one AP through the rolling statistics.
	var (
		rolling *stats.RollingStats
		sink    model.Writer
		emitted int
	)
	if !target.IsZero() {
		rolling = stats.NewRollingStats(window)
	}

	// 3. Decode every frame.
	aps := make(map[model.BSSID]*apSummary)
	var total, rejected int
	for {
		frame, err := reader.ReadFrame()
		if errors.Is(err, pcap.ErrNoFrame) {
			break
		}
		if err != nil {
			log.Errorf("Failed to read frame: %v", err)
			return err
		}
		total++

		info, err := protocol.Decode(frame.Data)
		if err != nil {
			rejected++
			log.Debugf("Frame %d skipped: %v", total, err)
			continue
		}
		info.AP.Timestamp = uint64(frame.CaptureInfo.Timestamp.UnixMilli())

		s, ok := aps[info.AP.BSSID]
		if !ok {
			s = &apSummary{ap: info.AP, min: info.Radio.AntennaSignal, max: info.Radio.AntennaSignal}
			aps[info.AP.BSSID] = s
		}
		s.observe(info)

		if rolling == nil || info.AP.BSSID != target {
			continue
		}
		if sink == nil && outDir != "" {
			if sink, err = openSink(outDir, info.AP, log); err != nil {
				return err
			}
			defer sink.Close()
		}
		sample := rolling.Add(int32(info.Radio.AntennaSignal))
		if !sample.Baseline {
			continue
		}
		emitted++
		if sink != nil {
			rec := model.SampleRecord{
				NodeID:      "replay",
				Timestamp:   info.AP.Timestamp,
				Raw:         sample.Raw,
				Average:     sample.Average,
				Deviation:   sample.Deviation,
				Variability: sample.Variability,
			}
			if err := sink.Write(rec); err != nil {
				log.Errorf("Failed to write sample: %v", err)
				return err
			}
		}
	}
	log.Infof("Finished: %d frames, %d beacons, %d rejected.", total, total-rejected, rejected)

	// 4. Report.
	printAPs(os.Stdout, aps)
	if rolling != nil {
		if _, ok := aps[target]; !ok {
			return fmt.Errorf("no beacons of %s in %s", target, args[0])
		}
		fmt.Printf("\n%s: %d records, average %.3f dBm, variability %.3f\n",
			target, emitted, rolling.Average(), rolling.Variability())
		if !rolling.BaselineEstablished() {
			fmt.Printf("baseline not established, fewer than %d samples\n", window)
		}
	}
	return nil
}

func (s *apSummary) observe(info *model.PacketInfo) {
	if info.AP.SSID != "" {
		s.ap.SSID = info.AP.SSID
	}
	if info.AP.Channel != 0 {
		s.ap.Channel = info.AP.Channel
	}
	s.ap.Timestamp = info.AP.Timestamp
	sig := info.Radio.AntennaSignal
	s.frames++
	s.sum += int64(sig)
	if sig < s.min {
		s.min = sig
	}
	if sig > s.max {
		s.max = sig
	}
}

func openSink(dir string, ap model.APRecord, log *zap.SugaredLogger) (model.Writer, error) {
	w, err := results.CSVOpener{Dir: dir}.Open("replay", time.Now())
	if err != nil {
		log.Errorf("Failed to create result file: %v", err)
		return nil, err
	}
	if err := w.WriteHeader(ap); err != nil {
		w.Close()
		return nil, err
	}
	if c, ok := w.(*results.CSVWriter); ok {
		log.Infof("Writing samples to %s", c.Path())
	}
	return w, nil
}

func printAPs(out *os.File, aps map[model.BSSID]*apSummary) {
	list := make([]*apSummary, 0, len(aps))
	for _, s := range aps {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].frames != list[j].frames {
			return list[i].frames > list[j].frames
		}
		return list[i].ap.BSSID.String() < list[j].ap.BSSID.String()
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BSSID\tSSID\tCHANNEL\tFRAMES\tAVG\tMIN\tMAX")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\t%d\t%d\n", s.ap.BSSID, s.ap.DisplaySSID(), s.ap.Channel,
			s.frames, float64(s.sum)/float64(s.frames), s.min, s.max)
	}
	tw.Flush()
}
