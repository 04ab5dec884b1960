// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Frontier    FrontierConfig    `mapstructure:"frontier"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Budget      BudgetConfig      `mapstructure:"budget"`
	Jitter      JitterConfig      `mapstructure:"jitter"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	RenderProxy RenderProxyConfig `mapstructure:"renderproxy"`
	DB          DBConfig          `mapstructure:"db"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// SiteConfig identifies the target site.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// CrawlConfig selects what a run does.
type CrawlConfig struct {
	Categories []string `mapstructure:"categories"`
	Discover   bool     `mapstructure:"discover"`
}

// FrontierConfig locates the per-category URL lists.
type FrontierConfig struct {
	Dir          string `mapstructure:"dir"`
	NotesFile    string `mapstructure:"notes_file"`
	ColognesFile string `mapstructure:"colognes_file"`
}

// DiscoveryConfig drives frontier population.
type DiscoveryConfig struct {
	Countries []string `mapstructure:"countries"`
}

// HTTPConfig configures the direct fetch strategy.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// BudgetConfig configures the request budget and cooldown.
type BudgetConfig struct {
	Threshold  int           `mapstructure:"threshold"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	ProxyEvery int           `mapstructure:"proxy_every"`
	HostRPS    float64       `mapstructure:"host_rps"`
}

// JitterConfig bounds the randomized pauses between browser actions.
type JitterConfig struct {
	LightMin time.Duration `mapstructure:"light_min"`
	LightMax time.Duration `mapstructure:"light_max"`
	HeavyMin time.Duration `mapstructure:"heavy_min"`
	HeavyMax time.Duration `mapstructure:"heavy_max"`
}

// HeadlessConfig configures the browser-automation strategy.
type HeadlessConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	Headless                bool   `mapstructure:"headless"`
	NavTimeoutSeconds       int    `mapstructure:"nav_timeout_seconds"`
	ChallengeTimeoutSeconds int    `mapstructure:"challenge_timeout_seconds"`
	MaxScrolls              int    `mapstructure:"max_scrolls"`
	ExecPath                string `mapstructure:"exec_path"`
}

// RenderProxyConfig configures the third-party rendering proxy.
type RenderProxyConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Render         bool   `mapstructure:"render"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// ArchiveConfig selects where raw page snapshots are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCENT")
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
	v.SetDefault("site.base_url", "https://www.fragrantica.com")
	v.SetDefault("crawl.categories", []string{string(crawler.CategoryNotes), string(crawler.CategoryColognes)})
	v.SetDefault("crawl.discover", false)
	v.SetDefault("frontier.dir", "data/raw")
	v.SetDefault("frontier.notes_file", "notes.txt")
	v.SetDefault("frontier.colognes_file", "colognes.txt")
	v.SetDefault("discovery.countries", []string{
		"United States", "France", "Italy", "United Kingdom", "Germany", "Spain",
		"United Arab Emirates (UAE)", "Russia", "Switzerland", "Netherlands", "Japan",
		"England", "Canada", "Brazil", "Poland", "Australia",
	})
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("budget.threshold", 25)
	v.SetDefault("budget.cooldown", "5m")
	v.SetDefault("budget.proxy_every", 10)
	v.SetDefault("budget.host_rps", 0)
	v.SetDefault("jitter.light_min", "1s")
	v.SetDefault("jitter.light_max", "3s")
	v.SetDefault("jitter.heavy_min", "5s")
	v.SetDefault("jitter.heavy_max", "15s")
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.challenge_timeout_seconds", 30)
	v.SetDefault("headless.max_scrolls", 200)
	v.SetDefault("renderproxy.endpoint", "https://api.scraperapi.com/")
	v.SetDefault("renderproxy.api_key", "")
	v.SetDefault("renderproxy.render", true)
	v.SetDefault("renderproxy.timeout_seconds", 70)
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if len(c.Crawl.Categories) == 0 {
		return fmt.Errorf("crawl.categories must list at least one category")
	}
	if _, err := c.Categories(); err != nil {
		return err
	}
	if c.Frontier.Dir == "" || c.Frontier.NotesFile == "" || c.Frontier.ColognesFile == "" {
		return fmt.Errorf("frontier.dir, frontier.notes_file and frontier.colognes_file must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Budget.Threshold <= 0 {
		return fmt.Errorf("budget.threshold must be > 0")
	}
	if c.Budget.Cooldown <= 0 {
		return fmt.Errorf("budget.cooldown must be > 0")
	}
	if c.Budget.ProxyEvery <= 0 {
		return fmt.Errorf("budget.proxy_every must be > 0")
	}
	if c.Budget.HostRPS < 0 {
		return fmt.Errorf("budget.host_rps must be >= 0")
	}
	if c.Jitter.LightMin < 0 || c.Jitter.LightMin > c.Jitter.LightMax {
		return fmt.Errorf("jitter.light_min must be >= 0 and <= jitter.light_max")
	}
	if c.Jitter.HeavyMin < 0 || c.Jitter.HeavyMin > c.Jitter.HeavyMax {
		return fmt.Errorf("jitter.heavy_min must be >= 0 and <= jitter.heavy_max")
	}
	if c.Headless.Enabled && (c.Headless.NavTimeoutSeconds <= 0 || c.Headless.ChallengeTimeoutSeconds <= 0) {
		return fmt.Errorf("headless timeouts must be > 0 when headless is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxScrolls <= 0 {
		return fmt.Errorf("headless.max_scrolls must be > 0 when headless is enabled")
	}
	if c.RenderProxy.TimeoutSeconds <= 0 {
		return fmt.Errorf("renderproxy.timeout_seconds must be > 0")
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Categories returns the configured categories in run order.
func (c Config) Categories() ([]crawler.Category, error) {
	out := make([]crawler.Category, 0, len(c.Crawl.Categories))
	for _, raw := range c.Crawl.Categories {
		cat, err := crawler.ParseCategory(raw)
		if err != nil {
			return nil, fmt.Errorf("crawl.categories: %w", err)
		}
		out = append(out, cat)
	}
	return out, nil
}

// FrontierFiles maps each category to its URL list file name.
func (c Config) FrontierFiles() map[crawler.Category]string {
	return map[crawler.Category]string{
		crawler.CategoryNotes:    c.Frontier.NotesFile,
		crawler.CategoryColognes: c.Frontier.ColognesFile,
	}
}

// HTTPTimeout converts the direct fetch timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
