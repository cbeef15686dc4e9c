// Package config loads and validates snapshot configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all snapshot configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Viewports ViewportsConfig `mapstructure:"viewports"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Transform TransformConfig `mapstructure:"transform"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
}

// SiteConfig names the site being snapshotted.
type SiteConfig struct {
	URL string `mapstructure:"url"`
	// HomePaginationMax overrides the discovered page ceiling on the home route when > 1.
	HomePaginationMax int `mapstructure:"home_pagination_max"`
}

// HTTPConfig configures plain fetches.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// CrawlConfig governs the crawl graph builder.
type CrawlConfig struct {
	Concurrency      int      `mapstructure:"concurrency"`
	DynamicDiscovery bool     `mapstructure:"dynamic_discovery"`
	PostPathPattern  string   `mapstructure:"post_path_pattern"`
	SitemapPaths     []string `mapstructure:"sitemap_paths"`
	ListingPaths     []string `mapstructure:"listing_paths"`
}

// CaptureConfig governs dual-viewport capture.
type CaptureConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	Settle          time.Duration `mapstructure:"settle"`
	ScrollStep      int           `mapstructure:"scroll_step"`
	ScrollInterval  time.Duration `mapstructure:"scroll_interval"`
	IdleQuiet       time.Duration `mapstructure:"idle_quiet"`
	MobileUserAgent string        `mapstructure:"mobile_user_agent"`
}

// Viewport is a width/height pair in CSS pixels.
type Viewport struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// ViewportsConfig holds the two rendering profiles.
type ViewportsConfig struct {
	Desktop Viewport `mapstructure:"desktop"`
	Mobile  Viewport `mapstructure:"mobile"`
}

// AssetsConfig governs asset localization.
type AssetsConfig struct {
	Concurrency     int      `mapstructure:"concurrency"`
	DownloadHighRes bool     `mapstructure:"download_high_res"`
	ImageCDNHosts   []string `mapstructure:"image_cdn_hosts"`
}

// TransformConfig toggles document transformation steps.
type TransformConfig struct {
	SingleResponsive bool `mapstructure:"single_responsive"`
	RemoveTracking   bool `mapstructure:"remove_tracking"`
}

// PathsConfig locates the artifact, snapshot and output trees.
type PathsConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	TempDir   string `mapstructure:"temp_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// HeadlessConfig configures the headless browser.
type HeadlessConfig struct {
	Headless    bool   `mapstructure:"headless"`
	MaxParallel int    `mapstructure:"max_parallel"`
	ExecPath    string `mapstructure:"exec_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the preview server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig names the bucket the output tree is published to.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the capture ledger.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITESNAP")
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
	v.SetDefault("site.url", "")
	v.SetDefault("site.home_pagination_max", 0)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.dynamic_discovery", true)
	v.SetDefault("crawl.post_path_pattern", "/single-post/")
	v.SetDefault("crawl.sitemap_paths", []string{"/sitemap.xml", "/blog-posts-sitemap.xml"})
	v.SetDefault("crawl.listing_paths", []string{"/blog-posts-sitemap.html"})
	v.SetDefault("capture.concurrency", 2)
	v.SetDefault("capture.settle", 800*time.Millisecond)
	v.SetDefault("capture.scroll_step", 400)
	v.SetDefault("capture.scroll_interval", 200*time.Millisecond)
	v.SetDefault("capture.idle_quiet", 500*time.Millisecond)
	v.SetDefault("capture.mobile_user_agent",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 13_2_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.0.3 Mobile/15E148 Safari/604.1")
	v.SetDefault("viewports.desktop.width", 1280)
	v.SetDefault("viewports.desktop.height", 800)
	v.SetDefault("viewports.mobile.width", 390)
	v.SetDefault("viewports.mobile.height", 844)
	v.SetDefault("assets.concurrency", 3)
	v.SetDefault("assets.download_high_res", false)
	v.SetDefault("assets.image_cdn_hosts", []string{"wixstatic.com"})
	v.SetDefault("transform.single_responsive", true)
	v.SetDefault("transform.remove_tracking", true)
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("paths.temp_dir", "temp/pages")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 3000)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "snapshot_captures")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.URL != "" {
		u, err := url.Parse(c.Site.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("site.url must be an absolute http(s) URL")
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Capture.Concurrency <= 0 {
		return fmt.Errorf("capture.concurrency must be > 0")
	}
	if c.Assets.Concurrency <= 0 {
		return fmt.Errorf("assets.concurrency must be > 0")
	}
	if c.Capture.ScrollStep <= 0 {
		return fmt.Errorf("capture.scroll_step must be > 0")
	}
	if c.Viewports.Desktop.Width <= 0 || c.Viewports.Desktop.Height <= 0 ||
		c.Viewports.Mobile.Width <= 0 || c.Viewports.Mobile.Height <= 0 {
		return fmt.Errorf("viewports must have positive dimensions")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Paths.DataDir == "" || c.Paths.TempDir == "" || c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.data_dir, paths.temp_dir and paths.output_dir must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequireSite returns an error when no site URL has been configured.
func (c Config) RequireSite() error {
	if c.Site.URL == "" {
		return fmt.Errorf("site.url is required")
	}
	return nil
}
