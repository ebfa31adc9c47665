// Package config loads and validates crawler configuration via Viper.
// Values are layered: built-in defaults, an optional .env file, an optional
// config file, DOUYIN_* environment variables, then CLI flag overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures every knob of a crawl run.
type Config struct {
	URLs        URLsConfig        `mapstructure:"urls" json:"urls"`
	Request     RequestConfig     `mapstructure:"request" json:"request"`
	Retry       RetryConfig       `mapstructure:"retry" json:"retry"`
	Crawler     CrawlerConfig     `mapstructure:"crawler" json:"crawler"`
	Cache       CacheConfig       `mapstructure:"cache" json:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" json:"rate_limit"`
	URLEncoding URLEncodingConfig `mapstructure:"url_encoding" json:"url_encoding"`
	Browser     BrowserConfig     `mapstructure:"browser" json:"browser"`
	Download    DownloadConfig    `mapstructure:"download" json:"download"`
	Output      OutputConfig      `mapstructure:"output" json:"output"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" json:"metrics"`
}

// URLsConfig holds the remote platform endpoints.
type URLsConfig struct {
	HotList string `mapstructure:"hot_list" json:"hot_list"`
	Video   string `mapstructure:"video" json:"video"`
}

// RequestConfig governs request identity and timeouts.
type RequestConfig struct {
	UserAgent                 string `mapstructure:"user_agent" json:"user_agent"`
	Cookie                    string `mapstructure:"cookie" json:"cookie"`
	HotListTimeoutSeconds     int    `mapstructure:"hot_list_timeout_seconds" json:"hot_list_timeout_seconds"`
	VideoDetailTimeoutSeconds int    `mapstructure:"video_detail_timeout_seconds" json:"video_detail_timeout_seconds"`
}

// RetryConfig tunes the two retry policies: the hot-list fetch is aggressive,
// the per-item video-detail fetch lenient.
type RetryConfig struct {
	HotListMaxRetries       int     `mapstructure:"hot_list_max_retries" json:"hot_list_max_retries"`
	HotListDelaySeconds     float64 `mapstructure:"hot_list_delay_seconds" json:"hot_list_delay_seconds"`
	VideoDetailMaxRetries   int     `mapstructure:"video_detail_max_retries" json:"video_detail_max_retries"`
	VideoDetailDelaySeconds float64 `mapstructure:"video_detail_delay_seconds" json:"video_detail_delay_seconds"`
}

// CrawlerConfig controls crawl behavior.
type CrawlerConfig struct {
	MaxItems               int     `mapstructure:"max_items" json:"max_items"`
	RequestIntervalSeconds float64 `mapstructure:"request_interval_seconds" json:"request_interval_seconds"`
	SkipTopItem            bool    `mapstructure:"skip_top_item" json:"skip_top_item"`
	Debug                  bool    `mapstructure:"debug" json:"debug"`
}

// CacheConfig controls snapshot caching.
type CacheConfig struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled"`
	DurationSeconds int    `mapstructure:"duration_seconds" json:"duration_seconds"`
	MaxSize         int    `mapstructure:"max_size" json:"max_size"`
	Persist         bool   `mapstructure:"persist" json:"persist"`
	Dir             string `mapstructure:"dir" json:"dir"`
}

// RateLimitConfig bounds outbound request rate.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" json:"enabled"`
	RequestsPerWindow int  `mapstructure:"requests_per_window" json:"requests_per_window"`
	WindowSeconds     int  `mapstructure:"window_seconds" json:"window_seconds"`
}

// URLEncodingConfig selects how non-ASCII titles are embedded in item URLs.
type URLEncodingConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Method  string `mapstructure:"method" json:"method"` // url_encode, base64, hash
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless           bool `mapstructure:"headless" json:"headless"`
	NoSandbox          bool `mapstructure:"no_sandbox" json:"no_sandbox"`
	DisableDevShmUsage bool `mapstructure:"disable_dev_shm_usage" json:"disable_dev_shm_usage"`
}

// DownloadConfig controls the optional batch video download phase.
type DownloadConfig struct {
	Enabled           bool    `mapstructure:"enabled" json:"enabled"`
	Dir               string  `mapstructure:"dir" json:"dir"`
	MaxFileSize       int64   `mapstructure:"max_file_size" json:"max_file_size"`
	MaxConcurrent     int     `mapstructure:"max_concurrent" json:"max_concurrent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries" json:"max_retries"`
	RetryDelaySeconds float64 `mapstructure:"retry_delay_seconds" json:"retry_delay_seconds"`
}

// OutputConfig controls result rendering.
type OutputConfig struct {
	Format           string `mapstructure:"format" json:"format"` // json, csv, txt, markdown
	Indent           int    `mapstructure:"indent" json:"indent"`
	DefaultPath      string `mapstructure:"default_path" json:"default_path"`
	FilenameTemplate string `mapstructure:"filename_template" json:"filename_template"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" json:"development"`
	Level       string `mapstructure:"level" json:"level"`
}

// MetricsConfig enables the Prometheus listener for the crawl's duration.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// Load builds a Config from defaults, .env, an optional config file, and
// the environment.
func Load(path string) (Config, error) {
	// Cookie and other secrets typically live in .env; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DOUYIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.douyin-trends")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("urls.hot_list", "https://www.douyin.com/hot")
	v.SetDefault("urls.video", "https://www.douyin.com/video")

	v.SetDefault("request.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("request.cookie", "")
	v.SetDefault("request.hot_list_timeout_seconds", 30)
	v.SetDefault("request.video_detail_timeout_seconds", 15)

	v.SetDefault("retry.hot_list_max_retries", 3)
	v.SetDefault("retry.hot_list_delay_seconds", 2.0)
	v.SetDefault("retry.video_detail_max_retries", 2)
	v.SetDefault("retry.video_detail_delay_seconds", 1.0)

	v.SetDefault("crawler.max_items", 10)
	v.SetDefault("crawler.request_interval_seconds", 2.0)
	v.SetDefault("crawler.skip_top_item", true)
	v.SetDefault("crawler.debug", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.duration_seconds", 3600)
	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cache.persist", true)
	v.SetDefault("cache.dir", "cache")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_window", 10)
	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("url_encoding.enabled", true)
	v.SetDefault("url_encoding.method", "url_encode")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.disable_dev_shm_usage", true)

	v.SetDefault("download.enabled", false)
	v.SetDefault("download.dir", "douyin_video")
	v.SetDefault("download.max_file_size", int64(200*1024*1024))
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.timeout_seconds", 30)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_delay_seconds", 1.0)

	v.SetDefault("output.format", "json")
	v.SetDefault("output.indent", 2)
	v.SetDefault("output.default_path", "output")
	v.SetDefault("output.filename_template", "hot_list_{timestamp}")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.URLs.HotList == "" {
		return fmt.Errorf("urls.hot_list must be set")
	}
	if c.URLs.Video == "" {
		return fmt.Errorf("urls.video must be set")
	}
	if c.Crawler.MaxItems <= 0 {
		return fmt.Errorf("crawler.max_items must be > 0")
	}
	if c.Crawler.RequestIntervalSeconds < 0 {
		return fmt.Errorf("crawler.request_interval_seconds must be >= 0")
	}
	if c.Request.HotListTimeoutSeconds <= 0 {
		return fmt.Errorf("request.hot_list_timeout_seconds must be > 0")
	}
	if c.Request.VideoDetailTimeoutSeconds <= 0 {
		return fmt.Errorf("request.video_detail_timeout_seconds must be > 0")
	}
	if c.Retry.HotListMaxRetries <= 0 || c.Retry.VideoDetailMaxRetries <= 0 {
		return fmt.Errorf("retry attempt counts must be > 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowSeconds <= 0) {
		return fmt.Errorf("rate_limit.requests_per_window and rate_limit.window_seconds must be > 0 when rate limiting is enabled")
	}
	switch c.URLEncoding.Method {
	case "url_encode", "base64", "hash":
	default:
		return fmt.Errorf("url_encoding.method must be one of url_encode, base64, hash")
	}
	switch c.Output.Format {
	case "json", "csv", "txt", "markdown":
	default:
		return fmt.Errorf("output.format must be one of json, csv, txt, markdown")
	}
	if c.Download.Enabled {
		if c.Download.Dir == "" {
			return fmt.Errorf("download.dir must be set when download is enabled")
		}
		if c.Download.MaxConcurrent <= 0 {
			return fmt.Errorf("download.max_concurrent must be > 0 when download is enabled")
		}
	}
	return nil
}

// HotListTimeout returns the hot-list fetch timeout as a duration.
func (c Config) HotListTimeout() time.Duration {
	return time.Duration(c.Request.HotListTimeoutSeconds) * time.Second
}

// VideoDetailTimeout returns the video-detail fetch timeout as a duration.
func (c Config) VideoDetailTimeout() time.Duration {
	return time.Duration(c.Request.VideoDetailTimeoutSeconds) * time.Second
}

// RequestInterval returns the pause between item fetches.
func (c Config) RequestInterval() time.Duration {
	return time.Duration(c.Crawler.RequestIntervalSeconds * float64(time.Second))
}

// CacheTTL returns the snapshot freshness window.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.DurationSeconds) * time.Second
}

// RateLimitWindow returns the sliding-window span.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// HotListRetryDelay returns the fixed delay between hot-list attempts.
func (c Config) HotListRetryDelay() time.Duration {
	return time.Duration(c.Retry.HotListDelaySeconds * float64(time.Second))
}

// VideoDetailRetryDelay returns the fixed delay between video-detail attempts.
func (c Config) VideoDetailRetryDelay() time.Duration {
	return time.Duration(c.Retry.VideoDetailDelaySeconds * float64(time.Second))
}
