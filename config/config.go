// Package config loads the harmonic analyzer service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/harmonic-analyzer/logging"
)

// Environment variables applied on top of the file
const (
	EnvBrokerURL = "MICRO_REGISTRY_URL"
	EnvLogLevel  = "HARMONIC_LOG_LEVEL"
)

// Config is the complete service configuration
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Broker   BrokerConfig   `yaml:"broker"`
	Store    StoreConfig    `yaml:"store"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig controls message handling concurrency
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Workers         int           `yaml:"workers"`          // Concurrent message handlers
	QueueDepth      int           `yaml:"queue_depth"`      // Buffered messages before dropping
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`  // Per-message deadline
	MaxPayloadBytes int           `yaml:"max_payload_bytes"` // Larger payloads are dropped
	StatsInterval   time.Duration `yaml:"stats_interval"`   // Period of the counters log line
}

// BrokerConfig describes the MQTT connection
type BrokerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`        // Work items are received here
	ResultTopic    string        `yaml:"result_topic"` // Handler responses are published here
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// StoreConfig locates the result database and the processed-message ledger
type StoreConfig struct {
	ResultsPath string        `yaml:"results_path"` // SQLite file
	LedgerPath  string        `yaml:"ledger_path"`  // Pebble directory
	LedgerTTL   time.Duration `yaml:"ledger_ttl"`   // Processed ids older than this are purged
}

// AnalysisConfig tunes what the service records per message
type AnalysisConfig struct {
	TopEstimates  int     `yaml:"top_estimates"`  // Estimates kept in each result (1-7)
	ChromaSource  string  `yaml:"chroma_source"`  // "message", "feature_file" or "auto"
	LowConfidence float64 `yaml:"low_confidence"` // Results below this are logged as warnings
}

// LoggingConfig sets the log level and color output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Colors *bool  `yaml:"colors"` // nil means auto-detect
}

// Default returns a complete configuration
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "harmonic-analyzer",
			Workers:         4,
			QueueDepth:      256,
			HandlerTimeout:  30 * time.Second,
			MaxPayloadBytes: 1 << 20,
			StatsInterval:   5 * time.Minute,
		},
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "harmonic-analyzer",
			Topic:          "processUploadedAudio",
			ResultTopic:    "audioKeyEstimated",
			QoS:            1,
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			ResultsPath: "data/harmonic.db",
			LedgerPath:  "data/ledger",
			LedgerTTL:   7 * 24 * time.Hour,
		},
		Analysis: AnalysisConfig{
			TopEstimates:  5,
			ChromaSource:  "auto",
			LowConfidence: 0.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file, fills unset fields from Default, applies
// environment overrides and validates the result
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.fillDefaults()

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults replaces zero values left by an explicit empty YAML key
func (c *Config) fillDefaults() {
	def := Default()

	if c.Service.Name == "" {
		c.Service.Name = def.Service.Name
	}
	if c.Service.Workers <= 0 {
		c.Service.Workers = def.Service.Workers
	}
	if c.Service.QueueDepth <= 0 {
		c.Service.QueueDepth = def.Service.QueueDepth
	}
	if c.Service.HandlerTimeout <= 0 {
		c.Service.HandlerTimeout = def.Service.HandlerTimeout
	}
	if c.Service.MaxPayloadBytes <= 0 {
		c.Service.MaxPayloadBytes = def.Service.MaxPayloadBytes
	}
	if c.Service.StatsInterval <= 0 {
		c.Service.StatsInterval = def.Service.StatsInterval
	}
	if c.Broker.Host == "" {
		c.Broker.Host = def.Broker.Host
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = def.Broker.Port
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = def.Broker.ClientID
	}
	if c.Broker.Topic == "" {
		c.Broker.Topic = def.Broker.Topic
	}
	if c.Broker.KeepAlive <= 0 {
		c.Broker.KeepAlive = def.Broker.KeepAlive
	}
	if c.Broker.ConnectTimeout <= 0 {
		c.Broker.ConnectTimeout = def.Broker.ConnectTimeout
	}
	if c.Store.ResultsPath == "" {
		c.Store.ResultsPath = def.Store.ResultsPath
	}
	if c.Store.LedgerPath == "" {
		c.Store.LedgerPath = def.Store.LedgerPath
	}
	if c.Store.LedgerTTL <= 0 {
		c.Store.LedgerTTL = def.Store.LedgerTTL
	}
	if c.Analysis.TopEstimates == 0 {
		c.Analysis.TopEstimates = def.Analysis.TopEstimates
	}
	if c.Analysis.ChromaSource == "" {
		c.Analysis.ChromaSource = def.Analysis.ChromaSource
	}
}

// ApplyEnv overrides fields from the environment. MICRO_REGISTRY_URL takes
// a broker URL such as tcp://broker:1883.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if raw := strings.TrimSpace(getenv(EnvBrokerURL)); raw != "" {
		host, port, err := parseBrokerURL(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBrokerURL, err)
		}
		c.Broker.Host = host
		if port != 0 {
			c.Broker.Port = port
		}
	}
	if lvl := strings.TrimSpace(getenv(EnvLogLevel)); lvl != "" {
		c.Logging.Level = lvl
	}
	return nil
}

func parseBrokerURL(raw string) (string, int, error) {
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, err
	}
	if u.Hostname() == "" {
		return "", 0, errors.New("missing host")
	}
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q", p)
		}
	}
	return u.Hostname(), port, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker.port %d out of range", c.Broker.Port))
	}
	if c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos %d must be 0, 1 or 2", c.Broker.QoS))
	}
	if c.Broker.Topic == c.Broker.ResultTopic {
		errs = append(errs, errors.New("broker.result_topic must differ from broker.topic"))
	}
	if c.Analysis.TopEstimates < 1 || c.Analysis.TopEstimates > 7 {
		errs = append(errs, fmt.Errorf("analysis.top_estimates %d must be between 1 and 7", c.Analysis.TopEstimates))
	}
	switch c.Analysis.ChromaSource {
	case "message", "feature_file", "auto":
	default:
		errs = append(errs, fmt.Errorf("analysis.chroma_source %q must be message, feature_file or auto", c.Analysis.ChromaSource))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed logging level
func (c *Config) LogLevel() logging.Level {
	lvl, _ := logging.ParseLevel(c.Logging.Level)
	return lvl
}

// BrokerURL returns the MQTT broker address in tcp://host:port form
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker.Host, c.Broker.Port)
}
