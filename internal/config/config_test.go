package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://api.stackexchange.com/2.3" || cfg.API.Site != "stackoverflow" {
		t.Fatalf("unexpected api defaults: %+v", cfg.API)
	}
	if cfg.Harvest.Tag != "java" || cfg.Harvest.PageSize != 100 || cfg.Harvest.PerYear != 500 {
		t.Fatalf("unexpected harvest defaults: %+v", cfg.Harvest)
	}
	if cfg.Harvest.PageDelay != 200*time.Millisecond || cfg.Harvest.ItemDelay != 50*time.Millisecond {
		t.Fatalf("unexpected delays: %v %v", cfg.Harvest.PageDelay, cfg.Harvest.ItemDelay)
	}
	if cfg.Harvest.QuotaThreshold != 50 || cfg.Harvest.InitialQuota != 10000 {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Harvest)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.RateLimitCooldown != time.Minute || cfg.Retry.ServerErrorCooldown != 5*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Output.File != "stackoverflow_data.json" || cfg.OutputDir() != "." {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
api:
  site: superuser
  lenient_json: true
  timeout: 10s
  requests_per_second: 2.5
harvest:
  tag: python
  target: 250
  from_year: 2015
  to_year: 2016
  page_size: 50
  page_delay: 1s
  answer_workers: 4
  max_duration: 2h
retry:
  max_retries: 5
  rate_limit_cooldown: 30s
  backoff_factor: 2
output:
  file: results/python.json
gcs:
  bucket: harvest-bucket
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Site != "superuser" || !cfg.API.LenientJSON || cfg.API.Timeout != 10*time.Second {
		t.Fatalf("expected api overrides: %+v", cfg.API)
	}
	if cfg.Harvest.Tag != "python" || cfg.Harvest.Target != 250 || cfg.Harvest.MaxDuration != 2*time.Hour {
		t.Fatalf("expected harvest overrides: %+v", cfg.Harvest)
	}
	if cfg.OutputDir() != "results" || cfg.OutputName() != "python.json" {
		t.Fatalf("unexpected output split: %q %q", cfg.OutputDir(), cfg.OutputName())
	}
	if cfg.GCS.Bucket != "harvest-bucket" || cfg.GCS.Prefix != "harvests" {
		t.Fatalf("unexpected gcs config: %+v", cfg.GCS)
	}

	opts := cfg.HarvestOptions()
	if opts.Tag != "python" || opts.PageSize != 50 || opts.AnswerWorkers != 4 || opts.MinScore == nil || *opts.MinScore != 5 {
		t.Fatalf("unexpected harvest options: %+v", opts)
	}
	policy := cfg.RetryPolicy()
	if policy.MaxRetries != 5 || policy.RateLimitCooldown != 30*time.Second || policy.BackoffFactor != 2 {
		t.Fatalf("unexpected retry policy: %+v", policy)
	}
	if rl := cfg.RateLimit(); rl.RPS != 2.5 || rl.Burst != 1 {
		t.Fatalf("unexpected rate limit: %+v", rl)
	}
	if tr := cfg.Transport(); tr.Timeout != 10*time.Second || tr.DialTimeout != 15*time.Second {
		t.Fatalf("unexpected transport config: %+v", tr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STACKHARVEST_API_KEY", "env-key")
	t.Setenv("STACKHARVEST_HARVEST_PER_YEAR", "25")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Key != "env-key" {
		t.Fatalf("expected api key from env, got %q", cfg.API.Key)
	}
	if cfg.Harvest.PerYear != 25 {
		t.Fatalf("expected per_year from env, got %d", cfg.Harvest.PerYear)
	}
	if sx := cfg.StackExchange(); sx.Key != "env-key" || sx.Filter != "!nNPvSNdWme" {
		t.Fatalf("unexpected stackexchange config: %+v", sx)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("tag", "java", "")
	fs.Int("answer-workers", 1, "")
	fs.Duration("page-delay", 0, "")
	fs.String("unbound", "", "")
	if err := fs.Parse([]string{"--tag=go", "--page-delay=750ms"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Tag != "go" {
		t.Fatalf("expected tag from flag, got %q", cfg.Harvest.Tag)
	}
	if cfg.Harvest.PageDelay != 750*time.Millisecond {
		t.Fatalf("expected page delay from flag, got %v", cfg.Harvest.PageDelay)
	}
	if cfg.Harvest.AnswerWorkers != 1 {
		t.Fatalf("unchanged flag should keep default, got %d", cfg.Harvest.AnswerWorkers)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "relative base url", mutate: func(c *Config) { c.API.BaseURL = "/2.3" }, want: "api.base_url"},
		{name: "ftp base url", mutate: func(c *Config) { c.API.BaseURL = "ftp://example.com" }, want: "api.base_url"},
		{name: "empty site", mutate: func(c *Config) { c.API.Site = " " }, want: "api.site"},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, want: "api.timeout"},
		{name: "negative rps", mutate: func(c *Config) { c.API.RequestsPerSecond = -1 }, want: "api.requests_per_second"},
		{name: "zero target", mutate: func(c *Config) { c.Harvest.Target = 0 }, want: "harvest.target"},
		{name: "inverted years", mutate: func(c *Config) { c.Harvest.FromYear, c.Harvest.ToYear = 2020, 2019 }, want: "harvest.to_year"},
		{name: "zero per year", mutate: func(c *Config) { c.Harvest.PerYear = 0 }, want: "harvest.per_year"},
		{name: "page size too big", mutate: func(c *Config) { c.Harvest.PageSize = 101 }, want: "harvest.page_size"},
		{name: "answer page size", mutate: func(c *Config) { c.Harvest.AnswerPageSize = 0 }, want: "harvest.answer_page_size"},
		{name: "negative delay", mutate: func(c *Config) { c.Harvest.ItemDelay = -time.Second }, want: "harvest.page_delay"},
		{name: "negative threshold", mutate: func(c *Config) { c.Harvest.QuotaThreshold = -1 }, want: "harvest.quota_threshold"},
		{name: "zero workers", mutate: func(c *Config) { c.Harvest.AnswerWorkers = 0 }, want: "harvest.answer_workers"},
		{name: "negative calls", mutate: func(c *Config) { c.Harvest.MaxCalls = -1 }, want: "harvest.max_calls"},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }, want: "retry.max_retries"},
		{name: "empty output", mutate: func(c *Config) { c.Output.File = "" }, want: "output.file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
