package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/archiver"
	"github.com/helmcloud/k8s-compliance-history/internal/collector"
	"github.com/helmcloud/k8s-compliance-history/internal/compliance"
	"github.com/helmcloud/k8s-compliance-history/internal/config"
	"github.com/helmcloud/k8s-compliance-history/internal/logging"
	"github.com/helmcloud/k8s-compliance-history/internal/reporter"
	"github.com/helmcloud/k8s-compliance-history/internal/resources"
	"github.com/helmcloud/k8s-compliance-history/internal/rollup"
	"github.com/helmcloud/k8s-compliance-history/internal/scheduler"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "compliance-history",
	Short:         "Kubernetes image compliance snapshots and trends",
	Long:          `Collects pods, namespaces and images from a cluster, evaluates their compliance, archives a daily snapshot and reports the trend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the services every command is built from.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	st        *storage.Storage
	store     *resources.Store
	archiver  *archiver.Archiver
	evaluator *compliance.Evaluator
	rollup    *rollup.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		st:        st,
		store:     resources.New(st, log),
		archiver:  archiver.New(st, log),
		evaluator: compliance.New(st, nil, log),
		rollup:    rollup.New(st, cfg.Retention.Days, log),
	}, nil
}

func (a *app) Close() {
	if err := a.st.Close(); err != nil {
		a.log.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}

// scheduler wires the jobs. withCollector connects to the Kubernetes API.
func (a *app) scheduler(withCollector bool) (*scheduler.Scheduler, error) {
	deps := scheduler.Deps{
		Store:     a.store,
		Archiver:  a.archiver,
		Evaluator: a.evaluator,
		Rollup:    a.rollup,
	}
	if withCollector {
		col, err := collector.New(a.store, a.cfg.Cluster.Name, a.cfg.Collector.NamespacesExclude, a.log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize collector: %w", err)
		}
		deps.Collector = col
	}
	if a.cfg.Slack.WebhookURL != "" {
		deps.Reporter = reporter.New(a.cfg.Slack.WebhookURL, a.cfg.Slack.Channel, a.cfg.Slack.BotToken, a.log)
	}

	return scheduler.New(deps, scheduler.SchedulerConfig{
		ClusterName:     a.cfg.Cluster.Name,
		CollectInterval: a.cfg.Collector.Interval,
		ArchiveTime:     a.cfg.Archive.Time,
		ReportEnabled:   a.cfg.Report.Enabled,
		ReportDay:       a.cfg.ReportWeekday(),
		ReportTime:      a.cfg.Report.Time,
		JobTimeout:      a.cfg.Job.Timeout,
	}, a.log), nil
}
