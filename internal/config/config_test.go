package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Collector.Interval)
	assert.Equal(t, []string{"kube-system", "kube-public", "kube-node-lease"}, cfg.Collector.NamespacesExclude)
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, "00:05", cfg.Archive.Time)
	assert.False(t, cfg.Report.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KCH_DATABASE_DRIVER", "postgres")
	t.Setenv("KCH_DATABASE_DSN", "postgres://localhost/compliance")
	t.Setenv("KCH_COLLECTOR_NAMESPACES_EXCLUDE", "kube-system, monitoring")
	t.Setenv("KCH_RETENTION_DAYS", "30")
	t.Setenv("KCH_SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/x")
	t.Setenv("KCH_REPORT_ENABLED", "true")
	t.Setenv("KCH_REPORT_DAY", "Friday")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/compliance", cfg.Database.DSN)
	assert.Equal(t, []string{"kube-system", "monitoring"}, cfg.Collector.NamespacesExclude)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "https://hooks.slack.com/services/x", cfg.Slack.WebhookURL)
	assert.Equal(t, time.Friday, cfg.ReportWeekday())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cluster:
  name: prod-eu
archive:
  time: "01:30"
job:
  timeout: 2m
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod-eu", cfg.Cluster.Name)
	assert.Equal(t, "01:30", cfg.Archive.Time)
	assert.Equal(t, 2*time.Minute, cfg.Job.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "sqlite3", DSN: "x.db"},
			Cluster:   ClusterConfig{Name: "default"},
			Collector: CollectorConfig{Interval: time.Hour},
			Archive:   ArchiveConfig{Time: "00:05"},
			Retention: RetentionConfig{Days: 7},
			Report:    ReportConfig{Day: "monday", Time: "09:00"},
			Job:       JobConfig{Timeout: time.Minute},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"driver":         func(c *Config) { c.Database.Driver = "mysql" },
		"archive time":   func(c *Config) { c.Archive.Time = "25:00" },
		"retention":      func(c *Config) { c.Retention.Days = 0 },
		"report webhook": func(c *Config) { c.Report.Enabled = true },
		"report day": func(c *Config) {
			c.Report.Enabled = true
			c.Slack.WebhookURL = "https://hooks.slack.com/x"
			c.Report.Day = "someday"
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
