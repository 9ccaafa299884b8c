package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Scanner  ScannerConfig `yaml:"scanner"`
	Git      GitConfig     `yaml:"git"`
	Mail     MailConfig    `yaml:"mail"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// Public URL of this service, used in the outbound User-Agent
	// and in mails.
	WebsiteURL string `yaml:"website_url"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScannerConfig holds all probing cadences, endpoint paths and expectations.
type ScannerConfig struct {
	ListFetchIntervalSeconds     int `yaml:"list_fetch_interval_s"`
	InstanceCheckIntervalSeconds int `yaml:"instance_check_interval_s"`
	InstanceStatsIntervalSeconds int `yaml:"instance_stats_interval_s"`
	CleanupIntervalSeconds       int `yaml:"cleanup_interval_s"`

	InstanceListURL string `yaml:"instance_list_url"`

	ProfilePath      string `yaml:"profile_path"`
	RSSPath          string `yaml:"rss_path"`
	AboutPath        string `yaml:"about_path"`
	ConnectivityPath string `yaml:"connectivity_path"`

	ProfileName     string `yaml:"profile_name"`
	ProfilePostsMin int    `yaml:"profile_posts_min"`
	RSSContent      string `yaml:"rss_content"`

	AdditionalHosts       []string `yaml:"additional_hosts"`
	AdditionalHostCountry string   `yaml:"additional_host_country"`

	PingRangeHours        int  `yaml:"ping_range_h"`
	AutoMute              bool `yaml:"auto_mute"`
	ErrorRetentionPerHost int  `yaml:"error_retention_per_host"`
}

// GitConfig identifies the upstream repository for version checks.
type GitConfig struct {
	SourceURL     string `yaml:"source_url"`
	SourceBranch  string `yaml:"source_branch"`
	ScratchFolder string `yaml:"scratch_folder"`
}

// MailConfig holds alert mail settings. SES credentials come from the
// environment, never from the file.
type MailConfig struct {
	From                string `yaml:"from"`
	Region              string `yaml:"region"`
	AccessKey           string `yaml:"-"`
	SecretKey           string `yaml:"-"`
	AlertTimeoutSeconds int    `yaml:"alert_timeout_s"`
	DisableAlertMails   bool   `yaml:"disable_alert_mails"`
}

// ListFetchInterval returns the wiki refresh cadence as a duration.
func (c ScannerConfig) ListFetchInterval() time.Duration {
	return time.Duration(c.ListFetchIntervalSeconds) * time.Second
}

// InstanceCheckInterval returns the health probe cadence as a duration.
func (c ScannerConfig) InstanceCheckInterval() time.Duration {
	return time.Duration(c.InstanceCheckIntervalSeconds) * time.Second
}

// InstanceStatsInterval returns the stats probe cadence as a duration.
func (c ScannerConfig) InstanceStatsInterval() time.Duration {
	return time.Duration(c.InstanceStatsIntervalSeconds) * time.Second
}

// CleanupInterval returns the error-retention sweep cadence as a duration.
func (c ScannerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// PingRange returns the window for ping avg/min/max computation.
func (c ScannerConfig) PingRange() time.Duration {
	return time.Duration(c.PingRangeHours) * time.Hour
}

// AlertTimeout returns the minimum gap between alert mails per address.
func (c MailConfig) AlertTimeout() time.Duration {
	return time.Duration(c.AlertTimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./nitter-status.db"
	}
	sc := &cfg.Scanner
	if sc.ListFetchIntervalSeconds == 0 {
		sc.ListFetchIntervalSeconds = 15 * 60
	}
	if sc.InstanceCheckIntervalSeconds == 0 {
		sc.InstanceCheckIntervalSeconds = 15 * 60
	}
	if sc.InstanceStatsIntervalSeconds == 0 {
		sc.InstanceStatsIntervalSeconds = 15 * 60
	}
	if sc.CleanupIntervalSeconds == 0 {
		sc.CleanupIntervalSeconds = 24 * 60 * 60
	}
	if sc.InstanceListURL == "" {
		sc.InstanceListURL = "https://github.com/zedeus/nitter/wiki/Instances"
	}
	if sc.ProfilePath == "" {
		sc.ProfilePath = "/jack"
	}
	if sc.RSSPath == "" {
		sc.RSSPath = "/jack/rss"
	}
	if sc.AboutPath == "" {
		sc.AboutPath = "/about"
	}
	if sc.ConnectivityPath == "" {
		sc.ConnectivityPath = "/"
	}
	if sc.ProfileName == "" {
		sc.ProfileName = "@jack"
	}
	if sc.ProfilePostsMin == 0 {
		sc.ProfilePostsMin = 5
	}
	if sc.RSSContent == "" {
		sc.RSSContent = `<rss xmlns\:atom`
	}
	if sc.PingRangeHours == 0 {
		sc.PingRangeHours = 3
	}
	if sc.ErrorRetentionPerHost == 0 {
		sc.ErrorRetentionPerHost = 100
	}
	if cfg.Git.SourceURL == "" {
		cfg.Git.SourceURL = "https://github.com/zedeus/nitter.git"
	}
	if cfg.Git.SourceBranch == "" {
		cfg.Git.SourceBranch = "master"
	}
	if cfg.Git.ScratchFolder == "" {
		cfg.Git.ScratchFolder = os.TempDir()
	}
	if cfg.Mail.AlertTimeoutSeconds == 0 {
		cfg.Mail.AlertTimeoutSeconds = 3600
	}
	if cfg.Mail.Region == "" {
		cfg.Mail.Region = "us-west-2"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT must be a number: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SITE_URL"); v != "" {
		cfg.Server.WebsiteURL = v
	}
	if v := os.Getenv("GIT_SCRATCH_FOLDER"); v != "" {
		cfg.Git.ScratchFolder = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.Region = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SecretKey = v
	}
	if v := os.Getenv("DISABLE_ALERT_MAILS"); v != "" {
		cfg.Mail.DisableAlertMails = v == "true"
	}

	return cfg, nil
}
