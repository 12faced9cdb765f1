package main

import (
	"WiFiSpectra/internal/bus"
	"WiFiSpectra/internal/config"
	"WiFiSpectra/internal/engine/manager"
	"WiFiSpectra/internal/feed"
	"WiFiSpectra/internal/logging"
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/results"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "wfs-manager",
		Short:        "Coordinates capture nodes through scan, select and capture",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "configs/manager.yaml", "path to the manager configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the manager with the operator console on stdin",
		Args:  cobra.NoArgs,
		RunE:  runManager,
	}
	runCmd.Flags().Bool("no-console", false, "do not read operator commands from stdin")
	rootCmd.AddCommand(runCmd)

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the normalized samples published on NATS",
		Args:  cobra.NoArgs,
		RunE:  tailSamples,
	}
	tailCmd.Flags().String("node", "", "only show samples of this node")
	rootCmd.AddCommand(tailCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.ManagerConfig, *zap.SugaredLogger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	log, err := logging.New(level)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadManagerConfig(configPath)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func runManager(cmd *cobra.Command, args []string) error {
	noConsole, _ := cmd.Flags().GetBool("no-console")
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	// 1. Broker connection. If the manager dies the nodes are told to end.
	bus.MQTTLogToZap(log.Desugar())
	b, err := bus.DialMQTT(bus.MQTTOptions{
		BrokerURL:      cfg.Transport.BrokerURL(),
		ClientID:       cfg.Transport.ClientID,
		Username:       cfg.Transport.Username,
		Password:       cfg.Transport.Password,
		QoS:            cfg.Transport.QoS,
		ConnectRetries: cfg.Transport.ConnectRetries,
		RetryBackoff:   cfg.Transport.RetryBackoff,
		KeepAlive:      cfg.Transport.KeepAlive,
		Will:           &bus.Message{Topic: bus.BroadcastTopic(bus.KindEnd)},
	}, log.Named("bus"))
	if err != nil {
		log.Errorf("Failed to connect to broker: %v", err)
		return err
	}
	defer b.Close()

	// 2. Result sinks and the optional sample feed.
	opener, err := results.NewOpener(cfg.Results, log.Named("results"))
	if err != nil {
		log.Errorf("Failed to open result store: %v", err)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []manager.Option{manager.WithMetrics(reg)}
	if cfg.Feed.Enabled {
		pub, err := feed.NewPublisher(cfg.Feed, log.Named("feed"))
		if err != nil {
			log.Errorf("Failed to connect to NATS: %v", err)
			return err
		}
		defer pub.Close()
		opts = append(opts, manager.WithFeed(pub))
	}

	// 3. The orchestrator itself.
	m := manager.New(manager.ConfigFrom(cfg), b, opener, log.Named("manager"), opts...)
	defer m.Close()
	if err := m.Start(); err != nil {
		log.Errorf("Failed to start manager: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Operator HTTP API and gRPC health.
	if cfg.API.ListenAddr != "" {
		srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: manager.NewRouter(m, reg, log.Named("api"))}
		go func() {
			log.Infof("API server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("API server failed: %v", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
	}
	if cfg.GRPC.ListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			log.Errorf("Failed to listen on %s: %v", cfg.GRPC.ListenAddr, err)
			return err
		}
		gs := grpc.NewServer()
		health := manager.NewHealthReporter(m)
		health.Register(gs)
		go health.Run(ctx, time.Second)
		go func() {
			log.Infof("gRPC health server listening on %s", cfg.GRPC.ListenAddr)
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Errorf("gRPC server failed: %v", err)
			}
		}()
		defer gs.GracefulStop()
	}

	// 5. Console, signals and the transport watchdog.
	consoleDone := make(chan error, 1)
	if !noConsole {
		go func() { consoleDone <- m.RunConsole(ctx, os.Stdin, os.Stdout) }()
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Infof("Received %s, ending the session", s)
		m.End()
	case <-m.Done():
	case err := <-consoleDone:
		if err != nil {
			log.Warnf("Console stopped: %v", err)
		}
	case err := <-b.Err():
		log.Errorf("Transport failed: %v", err)
		return err
	}
	log.Info("Manager exiting")
	return nil
}

func tailSamples(cmd *cobra.Command, args []string) error {
	node, _ := cmd.Flags().GetString("node")
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	sub, err := feed.NewSubscriber(cfg.Feed, log.Named("feed"))
	if err != nil {
		log.Errorf("Failed to connect to NATS: %v", err)
		return err
	}
	defer sub.Close()

	err = sub.Start(node, func(rec model.SampleRecord) {
		log.Infof("%s t=%d raw=%d avg=%.3f dev=%.3f var=%.3f",
			rec.NodeID, rec.Timestamp, rec.Raw, rec.Average, rec.Deviation, rec.Variability)
	})
	if err != nil {
		log.Errorf("Failed to subscribe: %v", err)
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}
