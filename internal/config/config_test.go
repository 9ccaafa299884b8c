package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  website_url: "https://status.example.org"

database:
  path: "./test.db"

scanner:
  list_fetch_interval_s: 900
  instance_check_interval_s: 300
  instance_stats_interval_s: 900
  cleanup_interval_s: 3600
  instance_list_url: "https://wiki.example/Instances"
  profile_name: "@jack"
  profile_posts_min: 8
  additional_hosts:
    - "https://nitter.net"
  additional_host_country: "NL"
  ping_range_h: 6
  auto_mute: true
  error_retention_per_host: 50

git:
  source_url: "https://github.com/zedeus/nitter.git"
  source_branch: "master"
  scratch_folder: "/tmp/scratch"

mail:
  from: "noreply@status.example.org"
  alert_timeout_s: 1800
  disable_alert_mails: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://status.example.org", cfg.Server.WebsiteURL)
	assert.Equal(t, "./test.db", cfg.Database.Path)

	assert.Equal(t, 900, cfg.Scanner.ListFetchIntervalSeconds)
	assert.Equal(t, 300, cfg.Scanner.InstanceCheckIntervalSeconds)
	assert.Equal(t, "https://wiki.example/Instances", cfg.Scanner.InstanceListURL)
	assert.Equal(t, 8, cfg.Scanner.ProfilePostsMin)
	assert.Equal(t, []string{"https://nitter.net"}, cfg.Scanner.AdditionalHosts)
	assert.True(t, cfg.Scanner.AutoMute)
	assert.Equal(t, 50, cfg.Scanner.ErrorRetentionPerHost)

	assert.Equal(t, "/tmp/scratch", cfg.Git.ScratchFolder)
	assert.Equal(t, 1800, cfg.Mail.AlertTimeoutSeconds)
	assert.True(t, cfg.Mail.DisableAlertMails)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 1234\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/jack", cfg.Scanner.ProfilePath)
	assert.Equal(t, "/jack/rss", cfg.Scanner.RSSPath)
	assert.Equal(t, "/about", cfg.Scanner.AboutPath)
	assert.Equal(t, "/", cfg.Scanner.ConnectivityPath)
	assert.Equal(t, "@jack", cfg.Scanner.ProfileName)
	assert.Equal(t, 5, cfg.Scanner.ProfilePostsMin)
	assert.Equal(t, `<rss xmlns\:atom`, cfg.Scanner.RSSContent)
	assert.Equal(t, 100, cfg.Scanner.ErrorRetentionPerHost)
	assert.Equal(t, "https://github.com/zedeus/nitter.git", cfg.Git.SourceURL)
	assert.Equal(t, "master", cfg.Git.SourceBranch)
	assert.Equal(t, 15*60, cfg.Scanner.InstanceCheckIntervalSeconds)
	assert.Equal(t, 24*60*60, cfg.Scanner.CleanupIntervalSeconds)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 1234\n"), 0644))

	t.Setenv("DATABASE_PATH", "/var/lib/status/db.sqlite")
	t.Setenv("PORT", "8099")
	t.Setenv("SITE_URL", "https://status.example.org")
	t.Setenv("DISABLE_ALERT_MAILS", "true")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/status/db.sqlite", cfg.Database.Path)
	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, "https://status.example.org", cfg.Server.WebsiteURL)
	assert.True(t, cfg.Mail.DisableAlertMails)
}
