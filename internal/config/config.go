// Package config loads and validates rankwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	Severity  SeverityConfig  `mapstructure:"severity"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RunConfig controls run cadence and the overall deadline.
type RunConfig struct {
	Type            string `mapstructure:"type"`
	DeadlineMinutes int    `mapstructure:"deadline_minutes"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// SchedulerConfig governs the round-robin drain and 429 cooldown policy.
// The backoff constants are deliberately configuration, not code.
type SchedulerConfig struct {
	Workers           int     `mapstructure:"workers"`
	CooldownInitialMs int     `mapstructure:"cooldown_initial_ms"`
	CooldownMaxMs     int     `mapstructure:"cooldown_max_ms"`
	MaxTaskAttempts   int     `mapstructure:"max_task_attempts"`
	Domain429Limit    int     `mapstructure:"domain_429_limit"`
	GlobalRPS         float64 `mapstructure:"global_rps"`
}

// SitemapConfig bounds sitemap expansion work.
type SitemapConfig struct {
	MaxPages    int `mapstructure:"max_pages"`
	MaxChildren int `mapstructure:"max_children"`
}

// SeverityConfig tunes the change-classification rule table.
type SeverityConfig struct {
	SitemapShrinkFraction float64 `mapstructure:"sitemap_shrink_fraction"`
	PSIRegressionDelta    float64 `mapstructure:"psi_regression_delta"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig sets where changed raw snapshots are archived.
// When GCSBucket is set it wins over BaseDir; both empty disables archiving.
type ArchiveConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the /healthz and /metrics endpoint. Port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKWATCH")
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
	v.SetDefault("run.type", "daily")
	v.SetDefault("run.deadline_minutes", 30)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.user_agent", "rankwatch-bot/0.1")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.cooldown_initial_ms", 2000)
	v.SetDefault("scheduler.cooldown_max_ms", 60000)
	v.SetDefault("scheduler.max_task_attempts", 4)
	v.SetDefault("scheduler.domain_429_limit", 10)
	v.SetDefault("scheduler.global_rps", 8)
	v.SetDefault("sitemap.max_pages", 100)
	v.SetDefault("sitemap.max_children", 10)
	v.SetDefault("severity.sitemap_shrink_fraction", 0.5)
	v.SetDefault("severity.psi_regression_delta", 10)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("ops.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Type != "daily" && c.Run.Type != "weekly" {
		return fmt.Errorf("run.type must be daily or weekly")
	}
	if c.Run.DeadlineMinutes <= 0 {
		return fmt.Errorf("run.deadline_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.MaxTaskAttempts <= 0 {
		return fmt.Errorf("scheduler.max_task_attempts must be > 0")
	}
	if c.Scheduler.Domain429Limit <= 0 {
		return fmt.Errorf("scheduler.domain_429_limit must be > 0")
	}
	if c.Sitemap.MaxPages <= 0 {
		return fmt.Errorf("sitemap.max_pages must be > 0")
	}
	if c.Severity.SitemapShrinkFraction <= 0 || c.Severity.SitemapShrinkFraction >= 1 {
		return fmt.Errorf("severity.sitemap_shrink_fraction must be in (0, 1)")
	}
	return nil
}

// RunDeadline converts the configured deadline into a duration.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Run.DeadlineMinutes) * time.Minute
}

// HTTPTimeout converts the fetch timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
