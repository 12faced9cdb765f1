package main

import (
	"WiFiSpectra/internal/bus"
	"WiFiSpectra/internal/capture"
	"WiFiSpectra/internal/channel"
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/logging"
	"WiFiSpectra/internal/probe"
	"WiFiSpectra/internal/probe/persistent"
	"WiFiSpectra/pkg/pcap"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "wfs-node",
		Short:        "Capture node: sweeps channels and samples beacon RSSI for the manager",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().StringP("device", "d", "", "monitor-mode capture interface (overrides the config)")
	rootCmd.Flags().StringP("config", "c", "configs/node.yaml", "path to the node configuration")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("replay", "", "read frames from a pcap file instead of a live interface")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	device, _ := cmd.Flags().GetString("device")
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	replay, _ := cmd.Flags().GetString("replay")

	log, err := logging.New(level)
	if err != nil {
		return err
	}
	defer log.Sync()

	// 1. Load configuration, flags win over the file.
	cfg, err := config.LoadNodeConfigWith(configPath, func(c *config.NodeConfig) {
		if device != "" {
			c.Device = device
		}
		if replay != "" {
			c.ReplayFile = replay
		}
	})
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return err
	}

	// 2. Resolve the interface and the node id.
	var iface *channel.Interface
	if cfg.Device != "" {
		if iface, err = channel.LookupInterface(cfg.Device); err != nil {
			log.Errorf("%v", err)
			return err
		}
		if !iface.Up {
			log.Warnf("Interface %s is down", iface.Name)
		}
	}
	id := cfg.Transport.ClientID
	if id == "" {
		id = channel.NodeID(iface)
	}
	if !bus.ValidNodeID(id) {
		err := fmt.Errorf("invalid node id %q", id)
		log.Errorf("%v", err)
		return err
	}
	log = log.With("node", id)

	// 3. Open the frame source and the channel controller.
	source, controller, err := openSource(cfg, log)
	if err != nil {
		log.Errorf("Failed to open capture source: %v", err)
		return err
	}
	defer source.Close()

	// 4. Connect to the broker with our crash notice as last will.
	bus.MQTTLogToZap(log.Desugar())
	b, err := bus.DialMQTT(bus.MQTTOptions{
		BrokerURL:      cfg.Transport.BrokerURL(),
		ClientID:       id,
		Username:       cfg.Transport.Username,
		Password:       cfg.Transport.Password,
		QoS:            cfg.Transport.QoS,
		ConnectRetries: cfg.Transport.ConnectRetries,
		RetryBackoff:   cfg.Transport.RetryBackoff,
		KeepAlive:      cfg.Transport.KeepAlive,
		Will:           probe.Will(id),
	}, log.Named("bus"))
	if err != nil {
		log.Errorf("Failed to connect to broker: %v", err)
		return err
	}
	defer b.Close()

	// 5. Metrics, and the optional dump of accepted frames.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []capture.Option{capture.WithMetrics(capture.NewMetrics(reg))}
	if cfg.Dump.Enabled {
		w, err := persistent.NewWorker(cfg.Dump, id, log.Named("dump"))
		if err != nil {
			log.Errorf("Failed to start frame dump: %v", err)
			return err
		}
		defer w.Stop()
		opts = append(opts, capture.WithRecorder(w))
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	engine := capture.NewEngine(capture.Config{
		Channels:     cfg.Channels,
		Dwell:        cfg.Dwell,
		IdleSleep:    cfg.IdleSleep,
		PollInterval: cfg.PollInterval,
		APMax:        cfg.APMax,
		PktMax:       cfg.PktMax,
	}, controller, source, probe.Emitter(b, id), log.Named("capture"), opts...)
	node := probe.NewNode(id, b, engine, cfg.RegisterInterval, log.Named("node"))

	// 6. Run until a signal arrives or the broker is gone for good.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Infof("Received %s, leaving", s)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case err := <-b.Err():
		cancel()
		<-done
		log.Errorf("Transport failed: %v", err)
		return err
	}
}

func openSource(cfg *config.NodeConfig, log *zap.SugaredLogger) (pcap.FrameSource, channel.Controller, error) {
	if cfg.ReplayFile != "" {
		r, err := pcap.NewReader(cfg.ReplayFile)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Replaying %s", cfg.ReplayFile)
		return r, channel.Nop{}, nil
	}

	src, err := pcap.OpenLive(pcap.LiveConfig{
		Device:      cfg.Device,
		SnapLen:     cfg.SnapLen,
		BufferSize:  cfg.BufferSize,
		ReadTimeout: cfg.ReadTimeout,
		Filter:      pcap.BeaconFilter,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Capturing on %s", cfg.Device)
	return src, channel.NewIWController(cfg.Device, nil, log.Named("channel")), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.SugaredLogger) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Infof("Metrics server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}
