// Package config loads and validates swatchsync configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Site        SiteConfig        `mapstructure:"site"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Processing  ProcessingConfig  `mapstructure:"processing"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Dataset     DatasetConfig     `mapstructure:"dataset"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Server      ServerConfig      `mapstructure:"server"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

// ApplicationConfig identifies the service for telemetry and events.
type ApplicationConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development    bool   `mapstructure:"development"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	FileMaxSizeMB  int    `mapstructure:"file_max_size_mb"`
	FileMaxBackups int    `mapstructure:"file_max_backups"`
	FileMaxAgeDays int    `mapstructure:"file_max_age_days"`
}

// SiteConfig describes the lookup surface and the selectors the site adapter
// drives. The orchestration core never reads these; only the adapter does.
type SiteConfig struct {
	LookupURL            string   `mapstructure:"lookup_url"`
	UserAgent            string   `mapstructure:"user_agent"`
	RespectRobots        bool     `mapstructure:"respect_robots"`
	SearchInputSelector  string   `mapstructure:"search_input_selector"`
	SearchSubmitSelector string   `mapstructure:"search_submit_selector"`
	ResultSelector       string   `mapstructure:"result_selector"`
	ValueSelector        string   `mapstructure:"value_selector"`
	ResultMinBytes       int      `mapstructure:"result_min_bytes"`
	BlockKeywords        []string `mapstructure:"block_keywords"`
	NavigationQPS        float64  `mapstructure:"navigation_qps"`
}

// BrowserConfig governs the Chrome instance pool.
type BrowserConfig struct {
	PoolSize            int           `mapstructure:"pool_size"`
	UsageLimit          int           `mapstructure:"usage_limit"`
	Headless            bool          `mapstructure:"headless"`
	ChromePath          string        `mapstructure:"chrome_path"`
	CreateRetries       int           `mapstructure:"create_retries"`
	CreateRetryDelay    time.Duration `mapstructure:"create_retry_delay"`
	AcquirePollInterval time.Duration `mapstructure:"acquire_poll_interval"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout"`
	InteractionTimeout  time.Duration `mapstructure:"interaction_timeout"`
}

// ProcessingConfig governs record scheduling, retries, and checkpoint cadence.
type ProcessingConfig struct {
	Mode            string        `mapstructure:"mode"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	SkipIDs         []string      `mapstructure:"skip_ids"`
}

// CheckpointConfig locates the durable run state.
type CheckpointConfig struct {
	Path   string `mapstructure:"path"`
	Mirror bool   `mapstructure:"mirror"`
}

// DatasetConfig selects and parameterizes the input dataset provider.
type DatasetConfig struct {
	Provider  string `mapstructure:"provider"`
	FilePath  string `mapstructure:"file_path"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	WriteBack bool   `mapstructure:"write_back"`
}

// CacheConfig selects the lookup cache provider.
type CacheConfig struct {
	Provider string        `mapstructure:"provider"`
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PublisherConfig holds metadata for run-completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// StorageConfig selects the artifact store for reports and mirrors.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MonitorConfig controls resource monitoring cadence and thresholds.
type MonitorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	WarnPercent float64       `mapstructure:"warn_percent"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWATCHSYNC")
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
	v.SetDefault("application.name", "swatchsync")
	v.SetDefault("application.environment", "development")
	v.SetDefault("application.version", "0.1.0")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file_enabled", false)
	v.SetDefault("logging.file_path", "logs/swatchsync.log")
	v.SetDefault("logging.file_max_size_mb", 100)
	v.SetDefault("logging.file_max_backups", 3)
	v.SetDefault("logging.file_max_age_days", 28)

	v.SetDefault("site.user_agent", "swatchsync/0.1 (+https://github.com/swatchlab/swatchsync)")
	v.SetDefault("site.respect_robots", true)
	v.SetDefault("site.search_input_selector", "input[name=q]")
	v.SetDefault("site.search_submit_selector", "button[type=submit]")
	v.SetDefault("site.result_selector", ".result")
	v.SetDefault("site.value_selector", ".result .hex")
	v.SetDefault("site.result_min_bytes", 512)
	v.SetDefault("site.block_keywords", []string{"captcha", "access denied"})
	v.SetDefault("site.navigation_qps", 1.0)

	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.usage_limit", 30)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.create_retries", 3)
	v.SetDefault("browser.create_retry_delay", "2s")
	v.SetDefault("browser.acquire_poll_interval", "500ms")
	v.SetDefault("browser.acquire_timeout", "90s")
	v.SetDefault("browser.health_interval", "60s")
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.interaction_timeout", "10s")

	v.SetDefault("processing.mode", "concurrent")
	v.SetDefault("processing.batch_size", 5)
	v.SetDefault("processing.max_retries", 2)
	v.SetDefault("processing.retry_delay", "1s")
	v.SetDefault("processing.checkpoint_every", 10)
	v.SetDefault("processing.skip_ids", []string{})

	v.SetDefault("checkpoint.path", "data/checkpoint.json")
	v.SetDefault("checkpoint.mirror", false)

	v.SetDefault("dataset.provider", "file")
	v.SetDefault("dataset.file_path", "data/swatches.json")
	v.SetDefault("dataset.table", "swatches")
	v.SetDefault("dataset.write_back", false)

	v.SetDefault("cache.provider", "noop")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "720h")

	v.SetDefault("publisher.provider", "noop")

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data/artifacts")
	v.SetDefault("storage.prefix", "swatchsync")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.warn_percent", 85)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.LookupURL == "" {
		return fmt.Errorf("site.lookup_url must be set")
	}
	if c.Site.UserAgent == "" {
		return fmt.Errorf("site.user_agent must be set")
	}
	if c.Site.NavigationQPS <= 0 {
		return fmt.Errorf("site.navigation_qps must be > 0")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Browser.UsageLimit <= 0 {
		return fmt.Errorf("browser.usage_limit must be > 0")
	}
	if c.Browser.CreateRetries < 0 {
		return fmt.Errorf("browser.create_retries must be >= 0")
	}
	if c.Browser.AcquirePollInterval <= 0 {
		return fmt.Errorf("browser.acquire_poll_interval must be > 0")
	}
	if c.Browser.PageLoadTimeout <= 0 || c.Browser.InteractionTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	switch c.Processing.Mode {
	case "sequential", "concurrent":
	default:
		return fmt.Errorf("processing.mode must be sequential or concurrent, got %q", c.Processing.Mode)
	}
	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("processing.batch_size must be > 0")
	}
	if c.Processing.MaxRetries <= 0 {
		return fmt.Errorf("processing.max_retries must be > 0")
	}
	if c.Processing.CheckpointEvery <= 0 {
		return fmt.Errorf("processing.checkpoint_every must be > 0")
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint.path must be set")
	}
	switch c.Dataset.Provider {
	case "file":
		if c.Dataset.FilePath == "" {
			return fmt.Errorf("dataset.file_path must be set for the file provider")
		}
	case "postgres":
		if c.Dataset.DSN == "" {
			return fmt.Errorf("dataset.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("dataset.provider must be file or postgres, got %q", c.Dataset.Provider)
	}
	switch c.Cache.Provider {
	case "noop":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr must be set for the redis provider")
		}
	default:
		return fmt.Errorf("cache.provider must be noop or redis, got %q", c.Cache.Provider)
	}
	switch c.Publisher.Provider {
	case "noop":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("publisher.provider must be noop or pubsub, got %q", c.Publisher.Provider)
	}
	switch c.Storage.Provider {
	case "noop", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider must be noop, local, or gcs, got %q", c.Storage.Provider)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the status server is enabled")
	}
	if c.Monitor.Enabled {
		if c.Monitor.Interval <= 0 {
			return fmt.Errorf("monitor.interval must be > 0")
		}
		if c.Monitor.WarnPercent <= 0 || c.Monitor.WarnPercent > 100 {
			return fmt.Errorf("monitor.warn_percent must be in (0,100]")
		}
	}
	return nil
}

// RetirementBudget reports how long a full pool replacement may take, used by
// callers sizing cleanup timeouts.
func (c Config) RetirementBudget() time.Duration {
	retries := time.Duration(c.Browser.CreateRetries) * c.Browser.CreateRetryDelay
	return time.Duration(c.Browser.PoolSize) * (retries + c.Browser.PageLoadTimeout)
}
