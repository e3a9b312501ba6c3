package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kloudmate/windowcore/internal/metric"
)

// Config is the root configuration shape, loaded from YAML the way the
// structured the way a YAML-configured service loads its settings.
type Config struct {
	Window struct {
		Durations []WindowConfig `yaml:"durations"`
	} `yaml:"window"`

	ClickHouse struct {
		Addresses    []string `yaml:"addresses"`
		Database     string   `yaml:"database"`
		Username     string   `yaml:"username"`
		Password     string   `yaml:"password"`
		MaxIdleConns int      `yaml:"max_idle_conns"`
		MaxOpenConns int      `yaml:"max_open_conns"`
	} `yaml:"clickhouse"`

	BucketCache struct {
		Enabled            bool  `yaml:"enabled"`
		EnabledForTimer    bool  `yaml:"enabled_for_timer"`
		EnabledForGauge    bool  `yaml:"enabled_for_gauge"`
		EnabledForCounter  bool  `yaml:"enabled_for_counter"`
		MaxMetrics         int64 `yaml:"max_metrics"`
		MaxStore           int64 `yaml:"max_store"`
	} `yaml:"bucket_cache"`

	Ingest struct {
		OTLPAddress    string        `yaml:"otlp_address"`
		MaxMessageSize int           `yaml:"max_message_size"`
		SafetyMillis   int64         `yaml:"safety_millis"`
	} `yaml:"ingest"`

	Dispatch struct {
		Interval     time.Duration  `yaml:"interval"`
		SafetyMillis int64          `yaml:"safety_millis"`
		KnownMetrics []MetricConfig `yaml:"known_metrics"`
	} `yaml:"dispatch"`

	RemoteRead struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"remote_read"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// WindowConfig names one window in the hierarchy, ordered finest-first
// starting with the implicit raw duration.
type WindowConfig struct {
	Name   string `yaml:"name"`
	Millis int64  `yaml:"millis"`
}

// MetricConfig statically names a metric the dispatcher should drive.
// A full deployment would enumerate metrics dynamically from the meta
// store's membership table instead; that enumeration contract is outside
// this core's scope (the dispatcher itself is explicitly not the
// leader-election/sharding system).
type MetricConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

func (m MetricConfig) toMetric() metric.Metric {
	switch m.Type {
	case "timer":
		return metric.Metric{Name: m.Name, Type: metric.Timer}
	case "gauge":
		return metric.Metric{Name: m.Name, Type: metric.Gauge}
	case "counter":
		return metric.Metric{Name: m.Name, Type: metric.Counter}
	default:
		return metric.Metric{Name: m.Name, Type: metric.Unknown}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if len(cfg.Window.Durations) == 0 {
		cfg.Window.Durations = []WindowConfig{
			{Name: "30s", Millis: 30_000},
			{Name: "5m", Millis: 300_000},
			{Name: "1h", Millis: 3_600_000},
		}
	}

	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}

	if cfg.BucketCache.MaxMetrics == 0 {
		cfg.BucketCache.MaxMetrics = 100_000
	}
	if cfg.BucketCache.MaxStore == 0 {
		cfg.BucketCache.MaxStore = 4096
	}

	if cfg.Ingest.OTLPAddress == "" {
		cfg.Ingest.OTLPAddress = ":4317"
	}
	if cfg.Ingest.SafetyMillis == 0 {
		cfg.Ingest.SafetyMillis = 2000
	}

	if cfg.Dispatch.Interval == 0 {
		cfg.Dispatch.Interval = 10 * time.Second
	}
	if cfg.Dispatch.SafetyMillis == 0 {
		cfg.Dispatch.SafetyMillis = 2000
	}

	if cfg.RemoteRead.Address == "" {
		cfg.RemoteRead.Address = ":9201"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
