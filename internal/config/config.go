package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Collector CollectorConfig `mapstructure:"collector"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Retention RetentionConfig `mapstructure:"retention"`
	Report    ReportConfig    `mapstructure:"report"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Job       JobConfig       `mapstructure:"job"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or postgres
	DSN    string `mapstructure:"dsn"`
}

type ClusterConfig struct {
	Name string `mapstructure:"name"`
}

type CollectorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	NamespacesExclude []string      `mapstructure:"namespaces_exclude"`
}

type ArchiveConfig struct {
	Time string `mapstructure:"time"` // HH:MM, archives the previous day
}

type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Day     string `mapstructure:"day"`
	Time    string `mapstructure:"time"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	BotToken   string `mapstructure:"bot_token"` // optional, enables PDF upload
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the metrics endpoint
}

type JobConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads config.yaml from path (or the default locations when path is
// empty) and overlays KCH_ environment variables, e.g. KCH_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/compliance-history/")
		v.AddConfigPath("$HOME/.compliance-history")
		v.AddConfigPath(".")
	}

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "/data/compliance-history.db")
	v.SetDefault("cluster.name", "default")
	v.SetDefault("collector.interval", "1h")
	v.SetDefault("collector.namespaces_exclude", []string{"kube-system", "kube-public", "kube-node-lease"})
	v.SetDefault("archive.time", "00:05")
	v.SetDefault("retention.days", 90)
	v.SetDefault("report.enabled", false)
	v.SetDefault("report.day", "monday")
	v.SetDefault("report.time", "09:00")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("job.timeout", "10m")

	v.SetEnvPrefix("KCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only answers keys viper already knows about
	for _, key := range []string{"slack.webhook_url", "slack.channel", "slack.bot_token", "log.file", "metrics.addr"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Collector.NamespacesExclude = parseList(cfg.Collector.NamespacesExclude)
	cfg.Report.Day = strings.ToLower(cfg.Report.Day)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be positive")
	}
	if _, err := time.Parse("15:04", c.Archive.Time); err != nil {
		return fmt.Errorf("invalid archive.time format (expected HH:MM): %w", err)
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1")
	}
	if c.Job.Timeout <= 0 {
		return fmt.Errorf("job.timeout must be positive")
	}

	if c.Report.Enabled {
		if c.Slack.WebhookURL == "" {
			return fmt.Errorf("slack.webhook_url is required when reports are enabled")
		}
		if _, err := time.Parse("15:04", c.Report.Time); err != nil {
			return fmt.Errorf("invalid report.time format (expected HH:MM): %w", err)
		}
		if _, ok := weekdays[c.Report.Day]; !ok {
			return fmt.Errorf("invalid report.day: %s", c.Report.Day)
		}
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ReportWeekday is the cron day-of-week of report.day.
func (c *Config) ReportWeekday() time.Weekday {
	return weekdays[c.Report.Day]
}

// parseList accepts both YAML lists and a single comma separated value, the
// form environment variables arrive in.
func parseList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
