// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/browser/headless"
	"github.com/JakeFAU/spa-archiver/internal/capture"
	"github.com/JakeFAU/spa-archiver/internal/discovery"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Blocklist   BlocklistConfig   `mapstructure:"blocklist"`
	Staging     StagingConfig     `mapstructure:"staging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server and dispatcher behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	SubmitRPS         float64       `mapstructure:"submit_rps"`
	SubmitBurst       int           `mapstructure:"submit_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig configures the headless browser and the per-route timings.
type BrowserConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	ExecPath           string        `mapstructure:"exec_path"`
	NoSandbox          bool          `mapstructure:"no_sandbox"`
	ViewportWidth      int64         `mapstructure:"viewport_width"`
	ViewportHeight     int64         `mapstructure:"viewport_height"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	ChartSelector      string        `mapstructure:"chart_selector"`
	ChartWaitTimeout   time.Duration `mapstructure:"chart_wait_timeout"`
	ChartPollInterval  time.Duration `mapstructure:"chart_poll_interval"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	NetworkIdleWindow  time.Duration `mapstructure:"network_idle_window"`
	ChartSettleDelay   time.Duration `mapstructure:"chart_settle_delay"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	FinalDelay         time.Duration `mapstructure:"final_delay"`
	ScrollMaxSteps     int           `mapstructure:"scroll_max_steps"`
	ScrollPause        time.Duration `mapstructure:"scroll_pause"`
	BodyReadTimeout    time.Duration `mapstructure:"body_read_timeout"`
}

// DiscoveryConfig bounds route discovery.
type DiscoveryConfig struct {
	MaxRoutes        int      `mapstructure:"max_routes"`
	ReservedPrefixes []string `mapstructure:"reserved_prefixes"`
	MinPathLength    int      `mapstructure:"min_path_length"`
	MaxPathLength    int      `mapstructure:"max_path_length"`
}

// BlocklistConfig lists hosts whose URLs are never captured or localized.
type BlocklistConfig struct {
	AnalyticsHosts []string `mapstructure:"analytics_hosts"`
	SelfHosts      []string `mapstructure:"self_hosts"`
}

// StagingConfig sets where run-scoped staging folders are created.
type StagingConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig selects the upload collaborator.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// FingerprintConfig controls the direct homepage fetch.
type FingerprintConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DBConfig controls access to the archive ledger.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.run_timeout", "10m")
	v.SetDefault("server.submit_rps", 0.2)
	v.SetDefault("server.submit_burst", 2)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.chart_selector", capture.DefaultChartSelector)
	v.SetDefault("browser.chart_wait_timeout", "3s")
	v.SetDefault("browser.chart_poll_interval", "250ms")
	v.SetDefault("browser.network_idle_timeout", "10s")
	v.SetDefault("browser.network_idle_window", "500ms")
	v.SetDefault("browser.chart_settle_delay", "1500ms")
	v.SetDefault("browser.settle_delay", "750ms")
	v.SetDefault("browser.final_delay", "2s")
	v.SetDefault("browser.scroll_max_steps", 20)
	v.SetDefault("browser.scroll_pause", "200ms")
	v.SetDefault("browser.body_read_timeout", "15s")
	v.SetDefault("discovery.max_routes", discovery.DefaultMaxRoutes)
	v.SetDefault("discovery.reserved_prefixes", discovery.DefaultReservedPrefixes)
	v.SetDefault("discovery.min_path_length", discovery.DefaultMinPathLength)
	v.SetDefault("discovery.max_path_length", discovery.DefaultMaxPathLength)
	v.SetDefault("blocklist.analytics_hosts", archive.DefaultAnalyticsHosts)
	v.SetDefault("blocklist.self_hosts", []string{})
	v.SetDefault("staging.base_dir", "")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "archives")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "archives")
	v.SetDefault("fingerprint.enabled", true)
	v.SetDefault("fingerprint.timeout", "20s")
	v.SetDefault("fingerprint.user_agent", "spa-archiver/0.1")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "archive_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Server.RunTimeout <= 0 {
		return fmt.Errorf("server.run_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Browser.ScrollMaxSteps < 0 {
		return fmt.Errorf("browser.scroll_max_steps must be >= 0")
	}
	if c.Discovery.MaxRoutes < 0 {
		return fmt.Errorf("discovery.max_routes must be >= 0")
	}
	if c.Discovery.MaxPathLength > 0 && c.Discovery.MinPathLength > c.Discovery.MaxPathLength {
		return fmt.Errorf("discovery.min_path_length must not exceed discovery.max_path_length")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// BrowserOptions projects the browser section into the chromedp adapter config.
func (c Config) BrowserOptions() headless.Config {
	return headless.Config{
		UserAgent:      c.Browser.UserAgent,
		ExecPath:       c.Browser.ExecPath,
		NoSandbox:      c.Browser.NoSandbox,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
	}
}

// DiscoveryOptions projects the discovery section into discovery.Config.
func (c Config) DiscoveryOptions() discovery.Config {
	return discovery.Config{
		MaxRoutes:        c.Discovery.MaxRoutes,
		ReservedPrefixes: c.Discovery.ReservedPrefixes,
		MinPathLength:    c.Discovery.MinPathLength,
		MaxPathLength:    c.Discovery.MaxPathLength,
	}
}

// PipelineConfig projects the capture knobs into capture.Config.
func (c Config) PipelineConfig() capture.Config {
	return capture.Config{
		Visitor: capture.VisitorConfig{
			NavigationTimeout:  c.Browser.NavigationTimeout,
			ChartSelector:      c.Browser.ChartSelector,
			ChartWaitTimeout:   c.Browser.ChartWaitTimeout,
			ChartPollInterval:  c.Browser.ChartPollInterval,
			NetworkIdleTimeout: c.Browser.NetworkIdleTimeout,
			NetworkIdleWindow:  c.Browser.NetworkIdleWindow,
			ChartSettleDelay:   c.Browser.ChartSettleDelay,
			SettleDelay:        c.Browser.SettleDelay,
			ScrollMaxSteps:     c.Browser.ScrollMaxSteps,
			ScrollPause:        c.Browser.ScrollPause,
		},
		FinalDelay:      c.Browser.FinalDelay,
		BodyReadTimeout: c.Browser.BodyReadTimeout,
		AnalyticsHosts:  c.Blocklist.AnalyticsHosts,
		SelfHosts:       c.Blocklist.SelfHosts,
	}
}
