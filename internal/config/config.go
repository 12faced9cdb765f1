package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportConfig holds the MQTT broker connection shared by both processes.
type TransportConfig struct {
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	KeepAlive      time.Duration `yaml:"keepalive"`
}

// DumpConfig enables the pcap dump of frames accepted during capture.
type DumpConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// NodeConfig is the configuration of a capture node.
type NodeConfig struct {
	Transport        TransportConfig `yaml:"transport"`
	Device           string          `yaml:"device"`
	Channels         []int           `yaml:"channels"`
	Dwell            time.Duration   `yaml:"dwell"`
	IdleSleep        time.Duration   `yaml:"idle_sleep"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	APMax            int             `yaml:"ap_max"`
	PktMax           int             `yaml:"pkt_max"`
	RegisterInterval time.Duration   `yaml:"register_interval"`
	SnapLen          int             `yaml:"snaplen"`
	BufferSize       int             `yaml:"buffer_size"`
	ReadTimeout      time.Duration   `yaml:"read_timeout"`
	ReplayFile       string          `yaml:"replay_file"`
	Dump             DumpConfig      `yaml:"dump"`
	MetricsAddr      string          `yaml:"metrics_addr"`
}

// ClickHouseConfig holds the connection of the ClickHouse result sink.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ResultsConfig selects where per-node sample records go.
type ResultsConfig struct {
	Sink       string           `yaml:"sink"` // csv or clickhouse
	Dir        string           `yaml:"dir"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type StatsConfig struct {
	Window int `yaml:"window"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type GRPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// FeedConfig mirrors normalized samples onto NATS.
type FeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ManagerConfig is the configuration of the manager.
type ManagerConfig struct {
	Transport       TransportConfig `yaml:"transport"`
	Results         ResultsConfig   `yaml:"results"`
	Stats           StatsConfig     `yaml:"stats"`
	CrashTimeout    time.Duration   `yaml:"crash_timeout"`
	MaxClients      int             `yaml:"max_clients"`
	DefaultChannels []int           `yaml:"default_channels"`
	API             APIConfig       `yaml:"api"`
	GRPC            GRPCConfig      `yaml:"grpc"`
	Feed            FeedConfig      `yaml:"feed"`
}

// LoadNodeConfig reads a capture node configuration from a YAML file.
func LoadNodeConfig(filePath string) (*NodeConfig, error) {
	return LoadNodeConfigWith(filePath, nil)
}

// LoadNodeConfigWith is LoadNodeConfig with command line overrides applied
// before defaults and validation.
func LoadNodeConfigWith(filePath string, override func(*NodeConfig)) (*NodeConfig, error) {
	var cfg NodeConfig
	if err := load(filePath, &cfg); err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadManagerConfig reads a manager configuration from a YAML file.
func LoadManagerConfig(filePath string) (*ManagerConfig, error) {
	var cfg ManagerConfig
	if err := load(filePath, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return nil
}

func (c *TransportConfig) applyDefaults() {
	if c.Broker == "" {
		c.Broker = "localhost:1883"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = 5
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
}

func (c *TransportConfig) validate() error {
	if c.Broker == "" {
		return fmt.Errorf("transport.broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("transport.qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.ConnectRetries < 1 {
		return fmt.Errorf("transport.connect_retries must be positive")
	}
	return nil
}

// BrokerURL returns the broker address with a scheme.
func (c *TransportConfig) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	return "tcp://" + c.Broker
}

func (c *NodeConfig) applyDefaults() {
	c.Transport.applyDefaults()
	if c.Dwell == 0 {
		c.Dwell = 150 * time.Millisecond
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.APMax == 0 {
		c.APMax = 50
	}
	if c.PktMax == 0 {
		c.PktMax = 10
	}
	if c.RegisterInterval == 0 {
		c.RegisterInterval = 2 * time.Second
	}
	if c.SnapLen == 0 {
		c.SnapLen = 8096
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1 << 20
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Millisecond
	}
	if c.Dump.Path == "" {
		c.Dump.Path = "./dumps"
	}
	if c.Dump.QueueSize == 0 {
		c.Dump.QueueSize = 1024
	}
}

func (c *NodeConfig) validate() error {
	if err := c.Transport.validate(); err != nil {
		return err
	}
	if c.Device == "" && c.ReplayFile == "" {
		return fmt.Errorf("device or replay_file is required")
	}
	if c.APMax < 1 || c.PktMax < 1 {
		return fmt.Errorf("ap_max and pkt_max must be positive")
	}
	if c.Dwell < 0 || c.PollInterval < 0 || c.IdleSleep < 0 {
		return fmt.Errorf("dwell, poll_interval and idle_sleep must not be negative")
	}
	return nil
}

func (c *ManagerConfig) applyDefaults() {
	c.Transport.applyDefaults()
	if c.Transport.ClientID == "" {
		c.Transport.ClientID = "wfs-manager"
	}
	if c.Results.Sink == "" {
		c.Results.Sink = "csv"
	}
	if c.Results.Dir == "" {
		c.Results.Dir = "./results"
	}
	if c.Results.ClickHouse.Port == 0 {
		c.Results.ClickHouse.Port = 9000
	}
	if c.Results.ClickHouse.Database == "" {
		c.Results.ClickHouse.Database = "default"
	}
	if c.Results.ClickHouse.Table == "" {
		c.Results.ClickHouse.Table = "rssi_samples"
	}
	if c.Stats.Window == 0 {
		c.Stats.Window = 100
	}
	if c.CrashTimeout == 0 {
		c.CrashTimeout = 60 * time.Second
	}
	if c.MaxClients == 0 {
		c.MaxClients = 8
	}
	if c.Feed.NATSURL == "" {
		c.Feed.NATSURL = "nats://localhost:4222"
	}
	if c.Feed.SubjectPrefix == "" {
		c.Feed.SubjectPrefix = "wfs.samples"
	}
}

func (c *ManagerConfig) validate() error {
	if err := c.Transport.validate(); err != nil {
		return err
	}
	switch c.Results.Sink {
	case "csv":
	case "clickhouse":
		if c.Results.ClickHouse.Host == "" {
			return fmt.Errorf("results.clickhouse.host is required for the clickhouse sink")
		}
	default:
		return fmt.Errorf("unknown results.sink %q", c.Results.Sink)
	}
	if c.Stats.Window < 1 {
		return fmt.Errorf("stats.window must be positive")
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be positive")
	}
	if c.CrashTimeout < 0 {
		return fmt.Errorf("crash_timeout must not be negative")
	}
	return nil
}
