// Package config holds the single structured configuration object every
// component reads from (spec §5 AMBIENT STACK).
//
// Grounded in the teacher's config.UnifiedBusinessConfig: one struct
// aggregating every subsystem's policy, with ApplyDefaults/Validate methods
// that recurse into each sub-policy. Adapted here to the scraper's own
// subsystems (scraping, cache, pool, circuits, alerts) instead of the
// teacher's fetch/process/sink policies. Decoded from YAML via
// gopkg.in/yaml.v3, the teacher's existing dependency.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ScrapingConfig controls the orchestrator's pacing and scope.
type ScrapingConfig struct {
	MaxPages          int           `yaml:"max_pages"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             float64       `yaml:"burst"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
}

// CacheConfig controls C4.
type CacheConfig struct {
	Dir    string        `yaml:"dir"`
	MaxAge time.Duration `yaml:"max_age"`
}

// IncrementalConfig controls C5.
type IncrementalConfig struct {
	CheckpointPath       string        `yaml:"checkpoint_path"`
	HistoryLimit         int           `yaml:"history_limit"`
	HardFilterThreshold  float64       `yaml:"hard_filter_threshold"`
	EarlyStopThreshold   float64       `yaml:"early_stop_threshold"`
	AvgJobProcessingTime time.Duration `yaml:"avg_job_processing_time"`
}

// PoolConfig controls C6.
type PoolConfig struct {
	MinSize          int           `yaml:"min_size"`
	MaxSize          int           `yaml:"max_size"`
	MaxAge           time.Duration `yaml:"max_age"`
	MaxReuse         int           `yaml:"max_reuse"`
	IdleScanInterval time.Duration `yaml:"idle_scan_interval"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
}

// CircuitOverride lets a named circuit override the global circuit defaults.
type CircuitOverride struct {
	Name                     string        `yaml:"name"`
	FailureThreshold         int           `yaml:"failure_threshold"`
	ErrorPercentageThreshold float64       `yaml:"error_percentage_threshold"`
	RequestVolumeThreshold   int           `yaml:"request_volume_threshold"`
	RecoveryTimeout          time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold         int           `yaml:"success_threshold"`
	SlidingWindowSize        int           `yaml:"sliding_window_size"`
	OperationTimeout         time.Duration `yaml:"operation_timeout"`
}

// CircuitsConfig holds per-name overrides over the circuit breaker defaults.
type CircuitsConfig struct {
	Default   CircuitOverride   `yaml:"default"`
	Overrides []CircuitOverride `yaml:"overrides"`
}

// ChannelConfig configures one alert notification channel.
type ChannelConfig struct {
	Kind        string            `yaml:"kind"` // console, file, webhook, smtp, slack
	Enabled     bool              `yaml:"enabled"`
	MinSeverity string            `yaml:"min_severity"`
	Path        string            `yaml:"path,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
	PerHour     int               `yaml:"per_hour,omitempty"` // not passed to the channel constructors; channels send without a per-hour limit
}

// AlertRuleConfig configures one alert rule.
type AlertRuleConfig struct {
	Name               string        `yaml:"name"`
	MetricName         string        `yaml:"metric_name"`
	Comparator         string        `yaml:"comparator"`
	Threshold          float64       `yaml:"threshold"`
	Severity           string        `yaml:"severity"`
	Cooldown           time.Duration `yaml:"cooldown"`
	EscalationAfter    time.Duration `yaml:"escalation_after"`
	EscalationSeverity string        `yaml:"escalation_severity"`
	Enabled            bool          `yaml:"enabled"`
	Channels           []string      `yaml:"channels"`
}

// AlertsConfig holds channel wiring and rules.
type AlertsConfig struct {
	Channels                []ChannelConfig   `yaml:"channels"`
	Rules                   []AlertRuleConfig `yaml:"rules"`
	AutoResolveAcknowledged bool              `yaml:"auto_resolve_acknowledged"`
	StaleAfter              time.Duration     `yaml:"stale_after"`
	HistoryLimit            int               `yaml:"history_limit"`
}

// LoggingConfig controls C1.
type LoggingConfig struct {
	Dir         string `yaml:"dir"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
	ConsoleEcho bool   `yaml:"console_echo"`
}

// MetricsConfig controls C2.
type MetricsConfig struct {
	MaxHistory       int  `yaml:"max_history"`
	PrometheusBridge bool `yaml:"prometheus_bridge"`
	OtelBridge       bool `yaml:"otel_bridge"`
}

// Config is the single structured object every component is built from.
type Config struct {
	Scraping    ScrapingConfig    `yaml:"scraping"`
	Cache       CacheConfig       `yaml:"cache"`
	Incremental IncrementalConfig `yaml:"incremental"`
	Pool        PoolConfig        `yaml:"pool"`
	Circuits    CircuitsConfig    `yaml:"circuits"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Default returns a Config with every default applied, mirroring the
// teacher's DefaultBusinessConfig().
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads and decodes a YAML file, then applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// ApplyDefaults fills in every zero-valued field with a sensible default,
// mirroring the teacher's per-policy ApplyXDefaults methods.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	c.applyScrapingDefaults()
	c.applyCacheDefaults()
	c.applyIncrementalDefaults()
	c.applyPoolDefaults()
	c.applyCircuitsDefaults()
	c.applyAlertsDefaults()
	c.applyLoggingDefaults()
	c.applyMetricsDefaults()
}

func (c *Config) applyScrapingDefaults() {
	if c.Scraping.MaxPages == 0 {
		c.Scraping.MaxPages = 50
	}
	if c.Scraping.Concurrency == 0 {
		c.Scraping.Concurrency = 4
	}
	if c.Scraping.RequestsPerSecond == 0 {
		c.Scraping.RequestsPerSecond = 2
	}
	if c.Scraping.Burst == 0 {
		c.Scraping.Burst = c.Scraping.RequestsPerSecond
	}
	if c.Scraping.DrainTimeout == 0 {
		c.Scraping.DrainTimeout = 5 * time.Second
	}
}

func (c *Config) applyCacheDefaults() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/cache"
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = 24 * time.Hour
	}
}

func (c *Config) applyIncrementalDefaults() {
	if c.Incremental.CheckpointPath == "" {
		c.Incremental.CheckpointPath = "data/checkpoint.json"
	}
	if c.Incremental.HistoryLimit == 0 {
		c.Incremental.HistoryLimit = 100_000
	}
	if c.Incremental.HardFilterThreshold == 0 {
		c.Incremental.HardFilterThreshold = 0.1
	}
	if c.Incremental.EarlyStopThreshold == 0 {
		c.Incremental.EarlyStopThreshold = 0.3
	}
	if c.Incremental.AvgJobProcessingTime == 0 {
		c.Incremental.AvgJobProcessingTime = 500 * time.Millisecond
	}
}

func (c *Config) applyPoolDefaults() {
	if c.Pool.MinSize == 0 {
		c.Pool.MinSize = 2
	}
	if c.Pool.MaxSize == 0 {
		c.Pool.MaxSize = 10
	}
	if c.Pool.MaxAge == 0 {
		c.Pool.MaxAge = 10 * time.Minute
	}
	if c.Pool.MaxReuse == 0 {
		c.Pool.MaxReuse = 200
	}
	if c.Pool.IdleScanInterval == 0 {
		c.Pool.IdleScanInterval = 30 * time.Second
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 10 * time.Second
	}
}

func (c *Config) applyCircuitsDefaults() {
	d := &c.Circuits.Default
	if d.FailureThreshold == 0 {
		d.FailureThreshold = 5
	}
	if d.ErrorPercentageThreshold == 0 {
		d.ErrorPercentageThreshold = 0.5
	}
	if d.RequestVolumeThreshold == 0 {
		d.RequestVolumeThreshold = 10
	}
	if d.RecoveryTimeout == 0 {
		d.RecoveryTimeout = 5 * time.Second
	}
	if d.SuccessThreshold == 0 {
		d.SuccessThreshold = 2
	}
	if d.SlidingWindowSize == 0 {
		d.SlidingWindowSize = 20
	}
	if d.OperationTimeout == 0 {
		d.OperationTimeout = 10 * time.Second
	}
}

func (c *Config) applyAlertsDefaults() {
	if c.Alerts.StaleAfter == 0 {
		c.Alerts.StaleAfter = 24 * time.Hour
	}
	if c.Alerts.HistoryLimit == 0 {
		c.Alerts.HistoryLimit = 10_000
	}
	for i := range c.Alerts.Channels {
		if c.Alerts.Channels[i].MinSeverity == "" {
			c.Alerts.Channels[i].MinSeverity = "low"
		}
	}
}

func (c *Config) applyLoggingDefaults() {
	if c.Logging.Dir == "" {
		c.Logging.Dir = "data/logs"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}
}

func (c *Config) applyMetricsDefaults() {
	if c.Metrics.MaxHistory == 0 {
		c.Metrics.MaxHistory = 1000
	}
}

// Validate checks every section for internally inconsistent values,
// mirroring the teacher's per-policy validateX methods.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := c.validateScraping(); err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	if err := c.validatePool(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := c.validateIncremental(); err != nil {
		return fmt.Errorf("incremental: %w", err)
	}
	return nil
}

func (c *Config) validateScraping() error {
	if c.Scraping.MaxPages < 0 {
		return fmt.Errorf("max_pages cannot be negative: %d", c.Scraping.MaxPages)
	}
	if c.Scraping.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive: %d", c.Scraping.Concurrency)
	}
	if c.Scraping.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive: %v", c.Scraping.RequestsPerSecond)
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.MinSize < 0 || c.Pool.MaxSize < c.Pool.MinSize {
		return fmt.Errorf("max_size (%d) must be >= min_size (%d)", c.Pool.MaxSize, c.Pool.MinSize)
	}
	return nil
}

func (c *Config) validateIncremental() error {
	if c.Incremental.HardFilterThreshold < 0 || c.Incremental.HardFilterThreshold > 1 {
		return fmt.Errorf("hard_filter_threshold must be in [0,1]: %v", c.Incremental.HardFilterThreshold)
	}
	if c.Incremental.EarlyStopThreshold < 0 || c.Incremental.EarlyStopThreshold > 1 {
		return fmt.Errorf("early_stop_threshold must be in [0,1]: %v", c.Incremental.EarlyStopThreshold)
	}
	return nil
}

// Watch hot-reloads the config file on write events, invoking onChange with
// the newly decoded+validated Config. Matches the teacher's adoption of
// fsnotify (present in its go.mod, wired here for hot-reload rather than
// left unused).
func Watch(ctx context.Context, path string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if cfg, err := Load(path); err == nil {
					onChange(cfg)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}
