package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Sink      SinkConfig      `json:"sink" yaml:"sink"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Events    EventsConfig    `json:"events" yaml:"events"`
}

type IngestConfig struct {
	ChannelBuffer int    `json:"channel_buffer" yaml:"channel_buffer"`
	// Backpressure is applied when the channel is full: "block" stalls the
	// source, "drop_oldest" discards the oldest queued record.
	Backpressure string           `json:"backpressure" yaml:"backpressure"`
	Stream       StreamConfig     `json:"stream" yaml:"stream"`
	FileReplay   FileReplayConfig `json:"file_replay" yaml:"file_replay"`
	Kafka        KafkaConfig      `json:"kafka" yaml:"kafka"`
	NATS         NATSConfig       `json:"nats" yaml:"nats"`
}

type StreamConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Addr           string        `json:"addr" yaml:"addr"`
	DialTimeout    time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
}

type FileReplayConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Follow  bool     `json:"follow" yaml:"follow"`
	Files   []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type NATSConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URL           string        `json:"url" yaml:"url"`
	Subject       string        `json:"subject" yaml:"subject"`
	Name          string        `json:"name" yaml:"name"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
}

type DetectionConfig struct {
	CorrelationWindowShort        time.Duration `json:"correlation_window_short" yaml:"correlation_window_short"`
	CorrelationWindowLong         time.Duration `json:"correlation_window_long" yaml:"correlation_window_long"`
	BarcodeSwitchWindow           time.Duration `json:"barcode_switch_window" yaml:"barcode_switch_window"`
	WeightTolerance               float64       `json:"weight_tolerance" yaml:"weight_tolerance"`
	QueueLengthThreshold          int           `json:"queue_length_threshold" yaml:"queue_length_threshold"`
	WaitTimeThreshold             time.Duration `json:"wait_time_threshold" yaml:"wait_time_threshold"`
	RecognitionAccuracyThreshold  float64       `json:"recognition_accuracy_threshold" yaml:"recognition_accuracy_threshold"`
	InventoryDiscrepancyThreshold int           `json:"inventory_discrepancy_threshold" yaml:"inventory_discrepancy_threshold"`
	SessionIdleTimeout            time.Duration `json:"session_idle_timeout" yaml:"session_idle_timeout"`
	SessionHardTimeout            time.Duration `json:"session_hard_timeout" yaml:"session_hard_timeout"`
	SessionRecordCap              int           `json:"session_record_cap" yaml:"session_record_cap"`
	ScanGracePeriod               time.Duration `json:"scan_grace_period" yaml:"scan_grace_period"`
	SweepInterval                 time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type CatalogConfig struct {
	Path string `json:"path" yaml:"path"`
}

type SinkConfig struct {
	Path          string        `json:"path" yaml:"path"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop_oldest"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Backpressure:  BackpressureBlock,
			Stream: StreamConfig{
				Enabled:        true,
				Addr:           "127.0.0.1:8765",
				DialTimeout:    10 * time.Second,
				ReconnectDelay: 5 * time.Second,
				MaxRetries:     10,
			},
			FileReplay: FileReplayConfig{Enabled: false, Follow: false},
			Kafka:      KafkaConfig{Enabled: false},
			NATS: NATSConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				Subject:       "sentinel.telemetry",
				Name:          "sentinel",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
			},
		},
		Detection: DetectionConfig{
			CorrelationWindowShort:        30 * time.Second,
			CorrelationWindowLong:         600 * time.Second,
			BarcodeSwitchWindow:           10 * time.Second,
			WeightTolerance:               0.15,
			QueueLengthThreshold:          5,
			WaitTimeThreshold:             120 * time.Second,
			RecognitionAccuracyThreshold:  0.8,
			InventoryDiscrepancyThreshold: 5,
			SessionIdleTimeout:            300 * time.Second,
			SessionHardTimeout:            1800 * time.Second,
			SessionRecordCap:              256,
			ScanGracePeriod:               5 * time.Second,
			SweepInterval:                 5 * time.Second,
		},
		Catalog: CatalogConfig{Path: "data/input/products_list.csv"},
		Sink: SinkConfig{
			Path:          "data/output/events.jsonl",
			RetryAttempts: 5,
			RetryBackoff:  200 * time.Millisecond,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:sentinel.db?_pragma=busy_timeout(5000)"},
		Events:  EventsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Backpressure == "" {
		cfg.Ingest.Backpressure = BackpressureBlock
	}
	if cfg.Ingest.Stream.DialTimeout <= 0 {
		cfg.Ingest.Stream.DialTimeout = 10 * time.Second
	}
	if cfg.Ingest.Stream.ReconnectDelay <= 0 {
		cfg.Ingest.Stream.ReconnectDelay = 5 * time.Second
	}
	if cfg.Detection.CorrelationWindowShort <= 0 {
		cfg.Detection.CorrelationWindowShort = 30 * time.Second
	}
	if cfg.Detection.CorrelationWindowLong <= 0 {
		cfg.Detection.CorrelationWindowLong = 600 * time.Second
	}
	if cfg.Detection.BarcodeSwitchWindow <= 0 {
		cfg.Detection.BarcodeSwitchWindow = 10 * time.Second
	}
	if cfg.Detection.SessionRecordCap <= 0 {
		cfg.Detection.SessionRecordCap = 256
	}
	if cfg.Detection.SweepInterval <= 0 {
		cfg.Detection.SweepInterval = 5 * time.Second
	}
	if cfg.Sink.RetryAttempts <= 0 {
		cfg.Sink.RetryAttempts = 5
	}
	if cfg.Sink.RetryBackoff <= 0 {
		cfg.Sink.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	switch cfg.Ingest.Backpressure {
	case BackpressureBlock, BackpressureDropOldest:
	default:
		return fmt.Errorf("ingest.backpressure must be %q or %q", BackpressureBlock, BackpressureDropOldest)
	}
	if cfg.Ingest.Stream.Enabled && cfg.Ingest.Stream.Addr == "" {
		return errors.New("ingest.stream.addr required when ingest.stream.enabled is true")
	}
	if cfg.Ingest.FileReplay.Enabled && len(cfg.Ingest.FileReplay.Files) == 0 {
		return errors.New("ingest.file_replay.files required when ingest.file_replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.NATS.Enabled && (cfg.Ingest.NATS.URL == "" || cfg.Ingest.NATS.Subject == "") {
		return errors.New("ingest.nats requires url and subject")
	}
	if cfg.Sink.Path == "" {
		return errors.New("sink.path required")
	}
	if cfg.Detection.WeightTolerance <= 0 {
		return errors.New("detection.weight_tolerance must be > 0")
	}
	if cfg.Detection.QueueLengthThreshold <= 0 {
		return errors.New("detection.queue_length_threshold must be > 0")
	}
	if cfg.Detection.WaitTimeThreshold <= 0 {
		return errors.New("detection.wait_time_threshold must be > 0")
	}
	if cfg.Detection.InventoryDiscrepancyThreshold <= 0 {
		return errors.New("detection.inventory_discrepancy_threshold must be > 0")
	}
	if cfg.Detection.CorrelationWindowShort >= cfg.Detection.CorrelationWindowLong {
		return errors.New("detection.correlation_window_short must be below correlation_window_long")
	}
	if cfg.Detection.SessionIdleTimeout <= 0 || cfg.Detection.SessionHardTimeout <= 0 {
		return errors.New("detection session timeouts must be > 0")
	}
	if cfg.Detection.SessionIdleTimeout >= cfg.Detection.SessionHardTimeout {
		return errors.New("detection.session_idle_timeout must be below session_hard_timeout")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
