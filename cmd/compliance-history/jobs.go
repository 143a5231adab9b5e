package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/collector"
	"github.com/helmcloud/k8s-compliance-history/internal/pdfgen"
	"github.com/helmcloud/k8s-compliance-history/internal/resources"
	"github.com/helmcloud/k8s-compliance-history/internal/rollup"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect the cluster once and evaluate current compliance",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := a.scheduler(true)
		if err != nil {
			return err
		}
		return sched.RunCollect(cmd.Context())
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Snapshot current state of every cluster into history for a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dayFlag(cmd, "day", true)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := a.scheduler(false)
		if err != nil {
			return err
		}
		return sched.RunArchive(cmd.Context(), day)
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Recompute compliance flags of current state, or of one history day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dayFlag(cmd, "day", false)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if day.IsZero() {
			return a.evaluator.EvaluateAll(cmd.Context())
		}
		sum, err := a.evaluator.EvaluateDay(cmd.Context(), day)
		if err != nil {
			return err
		}
		a.log.Info("day evaluated", zap.Stringer("day", day),
			zap.Int("pods", sum.Pods), zap.Int("compliant_pods", sum.CompliantPods))
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete the history of one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := dayFlag(cmd, "day", true)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.rollup.PurgeHistory(cmd.Context(), day)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %s: %d pods removed\n", day, removed)
		return nil
	},
}

var scanResultCmd = &cobra.Command{
	Use:   "scan-result",
	Short: "Record a scanner verdict for an image and re-evaluate the cluster",
	Long:  `Stores the verdict of the external image scanner on the images collected under --image (optionally one --image-id digest), then recomputes current compliance of the cluster.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		imageID, _ := cmd.Flags().GetString("image-id")
		verdict, _ := cmd.Flags().GetString("verdict")
		running, _ := cmd.Flags().GetBool("running")
		clusterName, _ := cmd.Flags().GetString("cluster")
		if image == "" || verdict == "" {
			return fmt.Errorf("--image and --verdict are required")
		}
		url, err := collector.NormalizeImage(image)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if clusterName == "" {
			clusterName = a.cfg.Cluster.Name
		}
		c, err := a.store.Cluster(ctx, clusterName)
		if err != nil {
			return fmt.Errorf("failed to find cluster %s: %w", clusterName, err)
		}

		n, err := a.store.RecordScanResult(ctx, resources.ScanRecord{
			ClusterID:        c.ID,
			URL:              url,
			DockerImageID:    imageID,
			ScanResults:      verdict,
			RunningInCluster: running,
		})
		if err != nil {
			return fmt.Errorf("failed to record scan result for %s: %w", url, err)
		}
		if _, err := a.evaluator.EvaluateCluster(ctx, c.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s on %d image(s) of %s\n", verdict, n, url)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print per-day compliance counts, or current per-namespace counts with --current",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := dayFlag(cmd, "from", false)
		if err != nil {
			return err
		}
		to, err := dayFlag(cmd, "to", false)
		if err != nil {
			return err
		}
		current, _ := cmd.Flags().GetBool("current")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		clusterName, _ := cmd.Flags().GetString("cluster")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		var clusterID *int64
		if clusterName != "" {
			c, err := a.store.Cluster(ctx, clusterName)
			if err != nil {
				return fmt.Errorf("failed to find cluster %s: %w", clusterName, err)
			}
			clusterID = &c.ID
		}

		if current {
			if clusterID == nil {
				return fmt.Errorf("--current requires --cluster")
			}
			rows, err := a.rollup.SummarizeCurrent(ctx, *clusterID)
			if err != nil {
				return err
			}
			return printJSON(cmd, rows)
		}

		if to.IsZero() {
			to = storage.DayOf(time.Now()).AddDays(-1)
		}
		if from.IsZero() {
			from = to.AddDays(-6)
		}
		history, err := a.rollup.SummarizeHistory(ctx, rollup.HistoryFilter{ClusterID: clusterID, From: from, To: to})
		if err != nil {
			return err
		}

		if pdfPath != "" {
			report := pdfgen.TrendReport{ClusterName: clusterName, From: from, To: to, GeneratedAt: time.Now(), History: history}
			if clusterID != nil {
				if report.Current, err = a.rollup.SummarizeCurrent(ctx, *clusterID); err != nil {
					return err
				}
			}
			if err := pdfgen.GenerateTrendPDF(report, pdfPath); err != nil {
				return err
			}
			a.log.Info("trend report written", zap.String("path", pdfPath))
			return nil
		}
		return printJSON(cmd, history)
	},
}

func init() {
	archiveCmd.Flags().String("day", "", "day to archive (YYYY-MM-DD)")
	evaluateCmd.Flags().String("day", "", "history day to evaluate (YYYY-MM-DD); current state when empty")
	purgeCmd.Flags().String("day", "", "history day to delete (YYYY-MM-DD)")
	summaryCmd.Flags().String("from", "", "first day (YYYY-MM-DD), defaults to six days before --to")
	summaryCmd.Flags().String("to", "", "last day (YYYY-MM-DD), defaults to yesterday")
	summaryCmd.Flags().String("cluster", "", "limit to one cluster")
	summaryCmd.Flags().Bool("current", false, "summarize current state by namespace")
	summaryCmd.Flags().String("pdf", "", "write a PDF trend report to this path instead of printing JSON")

	scanResultCmd.Flags().String("cluster", "", "cluster name, defaults to cluster.name")
	scanResultCmd.Flags().String("image", "", "image reference as run by the pods, e.g. nginx:1.25")
	scanResultCmd.Flags().String("image-id", "", "limit to one image digest (docker image id)")
	scanResultCmd.Flags().String("verdict", "", "scanner verdict: Compliant or Non-compliant")
	scanResultCmd.Flags().Bool("running", true, "whether the image is still running in the cluster")

	rootCmd.AddCommand(collectCmd, archiveCmd, evaluateCmd, purgeCmd, summaryCmd, scanResultCmd)
}

func dayFlag(cmd *cobra.Command, name string, required bool) (storage.Day, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return storage.Day{}, err
	}
	if value == "" {
		if required {
			return storage.Day{}, fmt.Errorf("--%s is required", name)
		}
		return storage.Day{}, nil
	}
	day, err := storage.ParseDay(value)
	if err != nil {
		return storage.Day{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return day, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
