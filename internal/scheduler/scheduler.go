package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/archiver"
	"github.com/helmcloud/k8s-compliance-history/internal/collector"
	"github.com/helmcloud/k8s-compliance-history/internal/compliance"
	"github.com/helmcloud/k8s-compliance-history/internal/metrics"
	"github.com/helmcloud/k8s-compliance-history/internal/pdfgen"
	"github.com/helmcloud/k8s-compliance-history/internal/reporter"
	"github.com/helmcloud/k8s-compliance-history/internal/resources"
	"github.com/helmcloud/k8s-compliance-history/internal/rollup"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// Job names, used in logs and metrics.
const (
	JobCollect   = "collect"
	JobArchive   = "archive"
	JobRetention = "retention"
	JobReport    = "report"
)

type Scheduler struct {
	cron      *cron.Cron
	collector *collector.Collector
	store     *resources.Store
	archiver  *archiver.Archiver
	evaluator *compliance.Evaluator
	rollup    *rollup.Service
	reporter  *reporter.Reporter
	config    SchedulerConfig
	log       *zap.Logger
	now       func() time.Time
}

type SchedulerConfig struct {
	ClusterName     string
	CollectInterval time.Duration
	ArchiveTime     string // HH:MM
	ReportEnabled   bool
	ReportDay       time.Weekday
	ReportTime      string
	JobTimeout      time.Duration
}

// Deps are the services the jobs drive. Collector and Reporter may be nil,
// which disables the collect and report jobs.
type Deps struct {
	Collector *collector.Collector
	Store     *resources.Store
	Archiver  *archiver.Archiver
	Evaluator *compliance.Evaluator
	Rollup    *rollup.Service
	Reporter  *reporter.Reporter
}

func New(deps Deps, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		collector: deps.Collector,
		store:     deps.Store,
		archiver:  deps.Archiver,
		evaluator: deps.Evaluator,
		rollup:    deps.Rollup,
		reporter:  deps.Reporter,
		config:    cfg,
		log:       log.Named("scheduler"),
		now:       time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.collector != nil {
		collectCron := fmt.Sprintf("@every %s", s.config.CollectInterval)
		if _, err := s.cron.AddFunc(collectCron, func() { s.RunCollect(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule collect job: %w", err)
		}
		s.log.Info("scheduled job", zap.String("job", JobCollect), zap.String("spec", collectCron))
	}

	archiveCron, err := dailyCronExpression(s.config.ArchiveTime)
	if err != nil {
		return fmt.Errorf("failed to build archive cron expression: %w", err)
	}
	if _, err := s.cron.AddFunc(archiveCron, func() { s.RunArchive(ctx, s.yesterday()) }); err != nil {
		return fmt.Errorf("failed to schedule archive job: %w", err)
	}
	s.log.Info("scheduled job", zap.String("job", JobArchive), zap.String("spec", archiveCron))

	cleanupCron := "0 2 * * *"
	if _, err := s.cron.AddFunc(cleanupCron, func() { s.RunRetention(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule retention job: %w", err)
	}
	s.log.Info("scheduled job", zap.String("job", JobRetention), zap.String("spec", cleanupCron))

	if s.config.ReportEnabled && s.reporter != nil {
		reportCron, err := weeklyCronExpression(s.config.ReportDay, s.config.ReportTime)
		if err != nil {
			return fmt.Errorf("failed to build report cron expression: %w", err)
		}
		if _, err := s.cron.AddFunc(reportCron, func() { s.RunReport(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule report job: %w", err)
		}
		s.log.Info("scheduled job", zap.String("job", JobReport), zap.String("spec", reportCron))
	}

	s.cron.Start()

	if s.collector != nil {
		s.RunCollect(ctx)
	}
	return nil
}

// Stop halts the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	s.log.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// RunCollect refreshes current state from the cluster and re-evaluates it.
func (s *Scheduler) RunCollect(ctx context.Context) error {
	return s.runJob(ctx, JobCollect, func(ctx context.Context) error {
		if s.collector == nil {
			return fmt.Errorf("no collector configured")
		}
		res, err := s.collector.Collect(ctx)
		if err != nil {
			return fmt.Errorf("collection failed: %w", err)
		}
		if _, err := s.evaluator.EvaluateCluster(ctx, res.ClusterID); err != nil {
			return err
		}
		return nil
	})
}

// RunArchive snapshots day for every cluster and evaluates the new history.
// The history that did commit is evaluated even when some clusters failed.
func (s *Scheduler) RunArchive(ctx context.Context, day storage.Day) error {
	return s.runJob(ctx, JobArchive, func(ctx context.Context) error {
		_, archiveErr := s.archiver.ArchiveAll(ctx, day)
		if _, err := s.evaluator.EvaluateDay(ctx, day); err != nil {
			return errors.Join(archiveErr, err)
		}
		return archiveErr
	})
}

func (s *Scheduler) RunRetention(ctx context.Context) error {
	return s.runJob(ctx, JobRetention, func(ctx context.Context) error {
		res, err := s.rollup.Sweep(ctx, s.now())
		s.log.Info("retention sweep finished",
			zap.Stringer("cutoff", res.Cutoff),
			zap.Int("days_purged", len(res.Purged)),
			zap.Int64("pods_removed", res.Removed),
			zap.Int("days_failed", len(res.Failures)),
		)
		return err
	})
}

// RunReport sends the trend of the past seven archived days.
func (s *Scheduler) RunReport(ctx context.Context) error {
	return s.runJob(ctx, JobReport, func(ctx context.Context) error {
		if s.reporter == nil {
			return fmt.Errorf("no reporter configured")
		}
		report, err := s.BuildReport(ctx, 7)
		if err != nil {
			return err
		}

		if err := s.reporter.SendSummary(ctx, s.config.ClusterName, report.History); err != nil {
			return fmt.Errorf("failed to send summary: %w", err)
		}
		if !s.reporter.CanUpload() {
			return nil
		}

		pdfPath, err := pdfgen.GenerateTempTrendPDF(report)
		if err != nil {
			return fmt.Errorf("failed to generate PDF: %w", err)
		}
		defer os.Remove(pdfPath)

		if err := s.reporter.SendReportWithPDF(ctx, s.config.ClusterName, pdfPath); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
		return nil
	})
}

// BuildReport collects the trend of the configured cluster over the last
// days archived days, ending yesterday.
func (s *Scheduler) BuildReport(ctx context.Context, days int) (pdfgen.TrendReport, error) {
	cluster, err := s.store.Cluster(ctx, s.config.ClusterName)
	if err != nil {
		return pdfgen.TrendReport{}, fmt.Errorf("failed to find cluster %s: %w", s.config.ClusterName, err)
	}
	clusterID := cluster.ID
	to := s.yesterday()
	report := pdfgen.TrendReport{
		ClusterName: s.config.ClusterName,
		From:        to.AddDays(1 - days),
		To:          to,
		GeneratedAt: s.now(),
	}
	report.History, err = s.rollup.SummarizeHistory(ctx, rollup.HistoryFilter{ClusterID: &clusterID, From: report.From, To: report.To})
	if err != nil {
		return pdfgen.TrendReport{}, err
	}
	report.Current, err = s.rollup.SummarizeCurrent(ctx, clusterID)
	if err != nil {
		return pdfgen.TrendReport{}, err
	}
	return report, nil
}

func (s *Scheduler) yesterday() storage.Day {
	return storage.DayOf(s.now()).AddDays(-1)
}

// runJob applies the job timeout and records the outcome.
func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	log := s.log.With(zap.String("job", name))
	log.Info("running job")
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.JobDurationSeconds.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "failure").Inc()
		log.Error("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	metrics.JobRunsTotal.WithLabelValues(name, "success").Inc()
	log.Info("job completed", zap.Duration("elapsed", elapsed))
	return nil
}

func splitClock(clock string) (string, string, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid time format: %s", clock)
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return "", "", fmt.Errorf("invalid time format: %s", clock)
	}
	return fmt.Sprint(t.Hour()), fmt.Sprint(t.Minute()), nil
}

func dailyCronExpression(clock string) (string, error) {
	hour, minute, err := splitClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s * * *", minute, hour), nil
}

func weeklyCronExpression(weekday time.Weekday, clock string) (string, error) {
	hour, minute, err := splitClock(clock)
	if err != nil {
		return "", err
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return "", fmt.Errorf("invalid report day: %d", weekday)
	}
	return fmt.Sprintf("%s %s * * %d", minute, hour, weekday), nil
}
