package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/stream"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	Serial SerialConfig `yaml:"serial" json:"serial"`
	Stream StreamConfig `yaml:"stream" json:"stream"`
	Export ExportConfig `yaml:"export" json:"export"`
	MQTT   MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Port               string `yaml:"port" json:"port"` // empty selects the first discovered device
	BaudRate           int    `yaml:"baud_rate" json:"baudRate"`
	SettleMs           int    `yaml:"settle_ms" json:"settleMs"`
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms" json:"handshakeTimeoutMs"`
	Demo               bool   `yaml:"demo" json:"demo"`
	AutoConnect        bool   `yaml:"auto_connect" json:"autoConnect"`
}

type StreamConfig struct {
	Delimiter        string `yaml:"delimiter" json:"delimiter"`
	MaxCols          int    `yaml:"max_cols" json:"maxCols"`
	ColumnLabels     string `yaml:"column_labels" json:"columnLabels"`
	TimeColumn       string `yaml:"time_column" json:"timeColumn"` // "none" or index
	TimeUnits        string `yaml:"time_units" json:"timeUnits"`
	Rollover         int    `yaml:"rollover" json:"rollover"`
	AcquireDelayMs   int    `yaml:"acquire_delay_ms" json:"acquireDelayMs"`
	DiscoveryDelayMs int    `yaml:"discovery_delay_ms" json:"discoveryDelayMs"`
	RefreshDelayMs   int    `yaml:"refresh_delay_ms" json:"refreshDelayMs"`
}

type ExportConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	FilePrefix string `yaml:"file_prefix" json:"filePrefix"`
	Record     bool   `yaml:"record" json:"record"` // continuous CSV recording
}

type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Broker       string `yaml:"broker" json:"broker"`
	Topic        string `yaml:"topic" json:"topic"`
	CommandTopic string `yaml:"command_topic" json:"commandTopic"`
	ClientID     string `yaml:"client_id" json:"clientId"`
	QoS          int    `yaml:"qos" json:"qos"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	Metrics    bool   `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:           device.DefaultBaudRate,
			SettleMs:           1000,
			HandshakeTimeoutMs: 2000,
		},
		Stream: StreamConfig{
			Delimiter:        "comma",
			MaxCols:          stream.DefaultMaxCols,
			TimeColumn:       "none",
			TimeUnits:        "ms",
			Rollover:         stream.DefaultRollover,
			AcquireDelayMs:   10,
			DiscoveryDelayMs: 1000,
			RefreshDelayMs:   90,
		},
		Export: ExportConfig{
			Dir:        ".",
			FilePrefix: "serialdash",
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "serialdash/data",
			ClientID: "serialdash",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Metrics:    true,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SERIAL_PORT, SERIAL_BAUD, SERIAL_DEMO, STREAM_DELIMITER,
// STREAM_MAX_COLS, STREAM_TIME_COLUMN, STREAM_TIME_UNITS, STREAM_ROLLOVER,
// MQTT_BROKER, MQTT_TOPIC, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("SERIAL_DEMO"); v != "" {
		c.Serial.Demo = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("STREAM_DELIMITER"); v != "" {
		c.Stream.Delimiter = v
	}
	if v := os.Getenv("STREAM_MAX_COLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.MaxCols = n
		}
	}
	if v := os.Getenv("STREAM_TIME_COLUMN"); v != "" {
		c.Stream.TimeColumn = v
	}
	if v := os.Getenv("STREAM_TIME_UNITS"); v != "" {
		c.Stream.TimeUnits = v
	}
	if v := os.Getenv("STREAM_ROLLOVER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.Rollover = n
		}
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// ConfigError reports an option outside its legal set.
type ConfigError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %s %q (allowed: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// Validate checks every enumerated option and returns all violations joined.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	var errs []error

	if !device.ValidBaudRate(c.Serial.BaudRate) {
		errs = append(errs, &ConfigError{"serial.baud_rate", strconv.Itoa(c.Serial.BaudRate), itoas(device.BaudRates)})
	}
	if c.Stream.MaxCols < 1 || c.Stream.MaxCols > stream.DefaultMaxCols {
		errs = append(errs, &ConfigError{"stream.max_cols", strconv.Itoa(c.Stream.MaxCols), itoas(intRange(1, stream.DefaultMaxCols))})
	}
	if _, err := stream.ParseDelimiter(c.Stream.Delimiter); err != nil {
		errs = append(errs, &ConfigError{"stream.delimiter", c.Stream.Delimiter, stream.Delimiters()})
	}
	if col, err := stream.ParseTimeColumn(c.Stream.TimeColumn); err != nil || col >= c.Stream.MaxCols {
		allowed := append([]string{"none"}, itoas(intRange(0, c.Stream.MaxCols-1))...)
		errs = append(errs, &ConfigError{"stream.time_column", c.Stream.TimeColumn, allowed})
	}
	if _, err := stream.ParseTimeUnit(c.Stream.TimeUnits); err != nil {
		errs = append(errs, &ConfigError{"stream.time_units", c.Stream.TimeUnits, stream.TimeUnits()})
	}
	if !contains(stream.Rollovers, c.Stream.Rollover) {
		errs = append(errs, &ConfigError{"stream.rollover", strconv.Itoa(c.Stream.Rollover), itoas(stream.Rollovers)})
	}
	for _, d := range []struct {
		field string
		ms    int
	}{
		{"stream.acquire_delay_ms", c.Stream.AcquireDelayMs},
		{"stream.discovery_delay_ms", c.Stream.DiscoveryDelayMs},
		{"stream.refresh_delay_ms", c.Stream.RefreshDelayMs},
	} {
		if d.ms <= 0 {
			errs = append(errs, &ConfigError{d.field, strconv.Itoa(d.ms), []string{"> 0"}})
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, &ConfigError{"mqtt.qos", strconv.Itoa(c.MQTT.QoS), []string{"0", "1", "2"}})
	}
	return errors.Join(errs...)
}

func itoas(ns []int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return out
}

func intRange(lo, hi int) []int {
	var out []int
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func contains(ns []int, n int) bool {
	for _, v := range ns {
		if v == n {
			return true
		}
	}
	return false
}

// Settings is the validated, parsed form of the stream options.
type Settings struct {
	Delimiter      stream.Delimiter
	MaxCols        int
	Labels         string
	Time           stream.TimeConfig
	Rollover       int
	AcquireDelay   time.Duration
	DiscoveryDelay time.Duration
	RefreshDelay   time.Duration
}

// Settings parses the stream section. It fails on the same inputs as
// Validate.
func (c *Config) Settings() (Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return Settings{}, err
	}
	d, _ := stream.ParseDelimiter(c.Stream.Delimiter)
	col, _ := stream.ParseTimeColumn(c.Stream.TimeColumn)
	unit, _ := stream.ParseTimeUnit(c.Stream.TimeUnits)
	return Settings{
		Delimiter:      d,
		MaxCols:        c.Stream.MaxCols,
		Labels:         c.Stream.ColumnLabels,
		Time:           stream.TimeConfig{Column: col, Unit: unit},
		Rollover:       c.Stream.Rollover,
		AcquireDelay:   time.Duration(c.Stream.AcquireDelayMs) * time.Millisecond,
		DiscoveryDelay: time.Duration(c.Stream.DiscoveryDelayMs) * time.Millisecond,
		RefreshDelay:   time.Duration(c.Stream.RefreshDelayMs) * time.Millisecond,
	}, nil
}

// Snapshot returns a copy of the serial, export and MQTT sections.
func (c *Config) Snapshot() (SerialConfig, ExportConfig, MQTTConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Serial, c.Export, c.MQTT
}

// Listen returns the listen address and whether /metrics is served.
func (c *Config) Listen() (addr string, metrics bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.ListenAddr, c.Server.Metrics
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "serialdash.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. The merged result must validate;
// otherwise the config is left untouched.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := &Config{path: c.path}
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}
	c.Serial, c.Stream, c.Export, c.MQTT, c.Server = next.Serial, next.Stream, next.Export, next.MQTT, next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
