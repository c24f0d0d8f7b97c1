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
	Market    MarketConfig    `json:"market" yaml:"market"`
	Devices   DevicesConfig   `json:"devices" yaml:"devices"`
	Evaluator EvaluatorConfig `json:"evaluator" yaml:"evaluator"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Log       LogStoreConfig  `json:"automation_log" yaml:"automation_log"`
}

type MarketConfig struct {
	// Source selects where snapshots come from: "http" polls the
	// market-data service, "kafka" consumes a price-tick topic.
	Source string            `json:"source" yaml:"source"`
	HTTP   MarketHTTPConfig  `json:"http" yaml:"http"`
	Kafka  MarketKafkaConfig `json:"kafka" yaml:"kafka"`
}

type MarketHTTPConfig struct {
	Endpoint      string        `json:"endpoint" yaml:"endpoint"`
	APIKey        string        `json:"api_key" yaml:"api_key"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

type MarketKafkaConfig struct {
	Brokers []string      `json:"brokers" yaml:"brokers"`
	Topic   string        `json:"topic" yaml:"topic"`
	GroupID string        `json:"group_id" yaml:"group_id"`
	MaxAge  time.Duration `json:"max_age" yaml:"max_age"`
}

type DevicesConfig struct {
	Endpoint      string        `json:"endpoint" yaml:"endpoint"`
	APIKey        string        `json:"api_key" yaml:"api_key"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	Breaker       BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `json:"max_requests" yaml:"max_requests"`
	Interval            time.Duration `json:"interval" yaml:"interval"`
	Timeout             time.Duration `json:"timeout" yaml:"timeout"`
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
}

type EvaluatorConfig struct {
	// AlertCooldown suppresses repeated alerts for the same rule and
	// alert type. Zero keeps heartbeat behavior: a sustained breach
	// re-alerts on every evaluation.
	AlertCooldown time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
	// DefaultCurtailDuration is logged for a shutdown when no matching
	// resume has been observed yet.
	DefaultCurtailDuration time.Duration `json:"default_curtail_duration" yaml:"default_curtail_duration"`
	// TickerEnabled turns on the built-in evaluation driver. Off by
	// default: the loop is normally driven by an external scheduler.
	TickerEnabled  bool          `json:"ticker_enabled" yaml:"ticker_enabled"`
	TickerInterval time.Duration `json:"ticker_interval" yaml:"ticker_interval"`
	// PersistDecisions writes every evaluation to storage when enabled.
	PersistDecisions bool `json:"persist_decisions" yaml:"persist_decisions"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type LogStoreConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Market: MarketConfig{
			Source: "http",
			HTTP: MarketHTTPConfig{
				Endpoint:      "http://localhost:7400",
				Timeout:       10 * time.Second,
				RetryAttempts: 3,
				RetryBackoff:  500 * time.Millisecond,
			},
			Kafka: MarketKafkaConfig{
				MaxAge: 5 * time.Minute,
			},
		},
		Devices: DevicesConfig{
			Endpoint:      "http://localhost:7500",
			Timeout:       15 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Interval:            60 * time.Second,
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Evaluator: EvaluatorConfig{
			AlertCooldown:          0,
			DefaultCurtailDuration: time.Hour,
			TickerEnabled:          false,
			TickerInterval:         5 * time.Minute,
			PersistDecisions:       true,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:voltguard.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Log:     LogStoreConfig{StoreLimit: 5000},
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
	if cfg.Market.Source == "" {
		cfg.Market.Source = "http"
	}
	if cfg.Market.HTTP.Timeout <= 0 {
		cfg.Market.HTTP.Timeout = 10 * time.Second
	}
	if cfg.Market.HTTP.RetryBackoff <= 0 {
		cfg.Market.HTTP.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Market.Kafka.MaxAge <= 0 {
		cfg.Market.Kafka.MaxAge = 5 * time.Minute
	}
	if cfg.Devices.Timeout <= 0 {
		cfg.Devices.Timeout = 15 * time.Second
	}
	if cfg.Devices.RetryBackoff <= 0 {
		cfg.Devices.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Devices.Breaker.ConsecutiveFailures == 0 {
		cfg.Devices.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Evaluator.DefaultCurtailDuration <= 0 {
		cfg.Evaluator.DefaultCurtailDuration = time.Hour
	}
	if cfg.Evaluator.TickerInterval <= 0 {
		cfg.Evaluator.TickerInterval = 5 * time.Minute
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Log.StoreLimit <= 0 {
		cfg.Log.StoreLimit = 5000
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Market.Source) {
	case "http":
		if cfg.Market.HTTP.Endpoint == "" {
			return errors.New("market.http.endpoint required when market.source is http")
		}
	case "kafka":
		if len(cfg.Market.Kafka.Brokers) == 0 || cfg.Market.Kafka.Topic == "" || cfg.Market.Kafka.GroupID == "" {
			return errors.New("market.kafka requires brokers, topic, group_id")
		}
	default:
		return fmt.Errorf("market.source must be http or kafka, got %q", cfg.Market.Source)
	}
	if cfg.Devices.Endpoint == "" {
		return errors.New("devices.endpoint required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
		}
	}
	if cfg.Evaluator.AlertCooldown < 0 {
		return errors.New("evaluator.alert_cooldown must be >= 0")
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
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
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
