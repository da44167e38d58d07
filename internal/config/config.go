// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/stackharvest/internal/stackexchange"
	collytransport "github.com/JakeFAU/stackharvest/internal/transport/colly"
)

// EnvPrefix namespaces every environment override, e.g. STACKHARVEST_API_KEY.
const EnvPrefix = "STACKHARVEST"

// Config captures all knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Output  OutputConfig  `mapstructure:"output"`
	GCS     GCSConfig     `mapstructure:"gcs"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
}

// APIConfig describes the upstream API and how it is called.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Site        string        `mapstructure:"site"`
	Filter      string        `mapstructure:"filter"`
	Key         string        `mapstructure:"key"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	LenientJSON bool          `mapstructure:"lenient_json"`
	// RequestsPerSecond caps upstream calls across all workers; 0 disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HarvestConfig governs what a run collects and how fast.
type HarvestConfig struct {
	Tag            string        `mapstructure:"tag"`
	Target         int           `mapstructure:"target"`
	FromYear       int           `mapstructure:"from_year"`
	ToYear         int           `mapstructure:"to_year"`
	PerYear        int           `mapstructure:"per_year"`
	MinScore       int           `mapstructure:"min_score"`
	PageSize       int           `mapstructure:"page_size"`
	AnswerPageSize int           `mapstructure:"answer_page_size"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	ItemDelay      time.Duration `mapstructure:"item_delay"`
	InitialQuota   int           `mapstructure:"initial_quota"`
	QuotaThreshold int           `mapstructure:"quota_threshold"`
	AnswerWorkers  int           `mapstructure:"answer_workers"`
	// MaxCalls caps network calls per run; 0 means unlimited.
	MaxCalls int `mapstructure:"max_calls"`
	// MaxDuration bounds a run's wall clock; 0 means unbounded.
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// RetryConfig controls recovery from throttling and server errors.
type RetryConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	RateLimitCooldown   time.Duration `mapstructure:"rate_limit_cooldown"`
	ServerErrorCooldown time.Duration `mapstructure:"server_error_cooldown"`
	BackoffFactor       float64       `mapstructure:"backoff_factor"`
	MaxCooldown         time.Duration `mapstructure:"max_cooldown"`
}

// OutputConfig locates the checkpoint file.
type OutputConfig struct {
	File string `mapstructure:"file"`
}

// GCSConfig enables the optional checkpoint mirror.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig exposes Prometheus metrics during harvests.
type MetricsConfig struct {
	// ListenAddr starts a /metrics listener for the duration of a harvest when set.
	ListenAddr string `mapstructure:"listen_addr"`
}

// ServerConfig controls the HTTP server behind `serve`.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	Checkpoint string `mapstructure:"checkpoint"`
}

// FlagKeys maps CLI flag names onto configuration keys.
var FlagKeys = map[string]string{
	"api-key":         "api.key",
	"site":            "api.site",
	"lenient-json":    "api.lenient_json",
	"tag":             "harvest.tag",
	"target":          "harvest.target",
	"from-year":       "harvest.from_year",
	"to-year":         "harvest.to_year",
	"per-year":        "harvest.per_year",
	"min-score":       "harvest.min_score",
	"page-size":       "harvest.page_size",
	"page-delay":      "harvest.page_delay",
	"quota-threshold": "harvest.quota_threshold",
	"answer-workers":  "harvest.answer_workers",
	"max-calls":       "harvest.max_calls",
	"max-duration":    "harvest.max_duration",
	"max-retries":     "retry.max_retries",
	"output":          "output.file",
	"gcs-bucket":      "gcs.bucket",
	"log-level":       "logging.level",
	"metrics-addr":    "metrics.listen_addr",
	"addr":            "server.addr",
	"checkpoint":      "server.checkpoint",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags in fs that appear in FlagKeys. Later sources win.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if fs != nil {
		for name, key := range FlagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
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
	v.SetDefault("api.base_url", stackexchange.DefaultBaseURL)
	v.SetDefault("api.site", stackexchange.DefaultSite)
	v.SetDefault("api.filter", stackexchange.DefaultFilter)
	v.SetDefault("api.key", "")
	v.SetDefault("api.user_agent", collytransport.DefaultUserAgent)
	v.SetDefault("api.timeout", collytransport.DefaultTimeout)
	v.SetDefault("api.dial_timeout", collytransport.DefaultDialTimeout)
	v.SetDefault("api.lenient_json", false)
	v.SetDefault("api.requests_per_second", 5.0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("harvest.tag", "java")
	v.SetDefault("harvest.target", 1000)
	v.SetDefault("harvest.from_year", 2010)
	v.SetDefault("harvest.to_year", 2025)
	v.SetDefault("harvest.per_year", harvest.DefaultPerYear)
	v.SetDefault("harvest.min_score", 5)
	v.SetDefault("harvest.page_size", stackexchange.MaxPageSize)
	v.SetDefault("harvest.answer_page_size", stackexchange.MaxPageSize)
	v.SetDefault("harvest.page_delay", 200*time.Millisecond)
	v.SetDefault("harvest.item_delay", harvest.DefaultItemDelay)
	v.SetDefault("harvest.initial_quota", harvest.DefaultInitialQuota)
	v.SetDefault("harvest.quota_threshold", harvest.DefaultQuotaThreshold)
	v.SetDefault("harvest.answer_workers", 1)
	v.SetDefault("harvest.max_calls", 0)
	v.SetDefault("harvest.max_duration", time.Duration(0))
	v.SetDefault("retry.max_retries", harvest.DefaultMaxRetries)
	v.SetDefault("retry.rate_limit_cooldown", harvest.DefaultRateLimitCooldown)
	v.SetDefault("retry.server_error_cooldown", harvest.DefaultServerErrorCooldown)
	v.SetDefault("retry.backoff_factor", 1.0)
	v.SetDefault("retry.max_cooldown", time.Duration(0))
	v.SetDefault("output.file", "stackoverflow_data.json")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "harvests")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.checkpoint", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL")
	}
	if strings.TrimSpace(c.API.Site) == "" {
		return fmt.Errorf("api.site must be set")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must be >= 0")
	}
	if c.Harvest.Target <= 0 {
		return fmt.Errorf("harvest.target must be > 0")
	}
	if c.Harvest.ToYear < c.Harvest.FromYear {
		return fmt.Errorf("harvest.to_year must not precede harvest.from_year")
	}
	if c.Harvest.PerYear <= 0 {
		return fmt.Errorf("harvest.per_year must be > 0")
	}
	if c.Harvest.PageSize <= 0 || c.Harvest.PageSize > stackexchange.MaxPageSize {
		return fmt.Errorf("harvest.page_size must be within 1..%d", stackexchange.MaxPageSize)
	}
	if c.Harvest.AnswerPageSize <= 0 || c.Harvest.AnswerPageSize > stackexchange.MaxPageSize {
		return fmt.Errorf("harvest.answer_page_size must be within 1..%d", stackexchange.MaxPageSize)
	}
	if c.Harvest.PageDelay < 0 || c.Harvest.ItemDelay < 0 {
		return fmt.Errorf("harvest.page_delay and harvest.item_delay must be >= 0")
	}
	if c.Harvest.QuotaThreshold < 0 {
		return fmt.Errorf("harvest.quota_threshold must be >= 0")
	}
	if c.Harvest.AnswerWorkers <= 0 {
		return fmt.Errorf("harvest.answer_workers must be > 0")
	}
	if c.Harvest.MaxCalls < 0 || c.Harvest.MaxDuration < 0 {
		return fmt.Errorf("harvest.max_calls and harvest.max_duration must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return fmt.Errorf("output.file must be set")
	}
	return nil
}

// HarvestOptions converts the harvest section into run options. minScore is
// applied by yearly runs only.
func (c Config) HarvestOptions() harvest.Options {
	minScore := c.Harvest.MinScore
	return harvest.Options{
		Tag:            c.Harvest.Tag,
		PageSize:       c.Harvest.PageSize,
		AnswerPageSize: c.Harvest.AnswerPageSize,
		MinScore:       &minScore,
		ItemDelay:      c.Harvest.ItemDelay,
		AnswerWorkers:  c.Harvest.AnswerWorkers,
	}
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() harvest.RetryPolicy {
	return harvest.RetryPolicy{
		MaxRetries:          c.Retry.MaxRetries,
		RateLimitCooldown:   c.Retry.RateLimitCooldown,
		ServerErrorCooldown: c.Retry.ServerErrorCooldown,
		BackoffFactor:       c.Retry.BackoffFactor,
		MaxCooldown:         c.Retry.MaxCooldown,
	}
}

// StackExchange converts the api section into query builder settings.
func (c Config) StackExchange() stackexchange.Config {
	return stackexchange.Config{
		BaseURL: c.API.BaseURL,
		Site:    c.API.Site,
		Filter:  c.API.Filter,
		Key:     c.API.Key,
	}
}

// Transport converts the api section into transport settings.
func (c Config) Transport() collytransport.Config {
	return collytransport.Config{
		UserAgent:   c.API.UserAgent,
		Timeout:     c.API.Timeout,
		DialTimeout: c.API.DialTimeout,
	}
}

// RateLimit converts the api section into limiter settings.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{RPS: c.API.RequestsPerSecond, Burst: c.API.Burst}
}

// OutputDir is the directory holding the checkpoint file.
func (c Config) OutputDir() string { return filepath.Dir(c.Output.File) }

// OutputName is the checkpoint file name within OutputDir.
func (c Config) OutputName() string { return filepath.Base(c.Output.File) }
