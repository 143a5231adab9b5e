// Package compliance derives pod and namespace compliance flags from the
// verdicts of their images.
package compliance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/metrics"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// Scope selects the table a batch of flags is written to.
type Scope int

const (
	ScopePods Scope = iota
	ScopeNamespaces
	ScopeHistoryPods
	ScopeHistoryNamespaces
)

func (s Scope) String() string {
	switch s {
	case ScopePods:
		return "pods"
	case ScopeNamespaces:
		return "namespaces"
	case ScopeHistoryPods:
		return "history_pods"
	case ScopeHistoryNamespaces:
		return "history_namespaces"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

func (s Scope) table() (storage.FlagTable, error) {
	switch s {
	case ScopePods:
		return storage.TablePods, nil
	case ScopeNamespaces:
		return storage.TableNamespaces, nil
	case ScopeHistoryPods:
		return storage.TableHistoryPods, nil
	case ScopeHistoryNamespaces:
		return storage.TableHistoryNamespaces, nil
	}
	return "", &storage.ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %d", int(s))}
}

// Update is one compliance flag to write.
type Update struct {
	ID        int64
	Compliant bool
}

// Verdict is the outcome for one pod. Reasons names the images that made it
// non-compliant.
type Verdict struct {
	PodID     int64
	Compliant bool
	Reasons   []string
}

// Summary counts the flags written by one evaluation.
type Summary struct {
	Pods                int
	CompliantPods       int
	Namespaces          int
	CompliantNamespaces int
}

type Evaluator struct {
	st      *storage.Storage
	checker ImageChecker
	log     *zap.Logger
}

// New returns an Evaluator. A nil checker means ScanResultChecker.
func New(st *storage.Storage, checker ImageChecker, log *zap.Logger) *Evaluator {
	if checker == nil {
		checker = ScanResultChecker{}
	}
	return &Evaluator{st: st, checker: checker, log: log.Named("compliance")}
}

// EvaluatePod reports whether every image linked to pod is running in the
// cluster and passes the image checker. A pod without images is compliant.
func (e *Evaluator) EvaluatePod(ctx context.Context, pod storage.CompliancePod) (Verdict, error) {
	v := Verdict{PodID: pod.ID}
	for _, img := range pod.Images {
		if !img.RunningInCluster {
			v.Reasons = append(v.Reasons, img.Name+": not running in cluster")
			continue
		}
		ok, err := e.checker.Compliant(ctx, img)
		if err != nil {
			return Verdict{}, fmt.Errorf("failed to check image %s: %w", img.URL, err)
		}
		if !ok {
			v.Reasons = append(v.Reasons, img.Name+": "+scanReason(img))
		}
	}
	v.Compliant = len(v.Reasons) == 0
	return v, nil
}

func scanReason(img storage.Image) string {
	if img.ScanResults == "" {
		return "not scanned"
	}
	return img.ScanResults
}

// EvaluateNamespace is the AND of its pods' flags; an empty namespace is
// compliant.
func EvaluateNamespace(podFlags []bool) bool {
	for _, ok := range podFlags {
		if !ok {
			return false
		}
	}
	return true
}

// ApplyBatch writes updates to the scope's table in one transaction. A
// malformed batch is rejected whole before any statement runs.
func (e *Evaluator) ApplyBatch(ctx context.Context, scope Scope, updates []Update) error {
	table, err := scope.table()
	if err != nil {
		return err
	}
	if err := validateUpdates(updates); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	err = e.st.InTx(ctx, func(tx storage.Querier) error {
		return applyIn(ctx, tx, table, updates)
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s compliance batch: %w", scope, err)
	}
	metrics.ComplianceUpdatesTotal.WithLabelValues(scope.String()).Add(float64(len(updates)))
	return nil
}

func validateUpdates(updates []Update) error {
	seen := make(map[int64]struct{}, len(updates))
	for _, u := range updates {
		if u.ID <= 0 {
			return &storage.ValidationError{Field: "id", Reason: fmt.Sprintf("%d is not a positive id", u.ID)}
		}
		if _, dup := seen[u.ID]; dup {
			return &storage.ValidationError{Field: "id", Reason: fmt.Sprintf("%d appears more than once", u.ID)}
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

// applyIn issues one UPDATE per flag value.
func applyIn(ctx context.Context, tx storage.Querier, table storage.FlagTable, updates []Update) error {
	var yes, no []int64
	for _, u := range updates {
		if u.Compliant {
			yes = append(yes, u.ID)
		} else {
			no = append(no, u.ID)
		}
	}
	if len(yes) > 0 {
		if _, err := storage.SetCompliance(ctx, tx, table, true, yes); err != nil {
			return err
		}
	}
	if len(no) > 0 {
		if _, err := storage.SetCompliance(ctx, tx, table, false, no); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateCluster recomputes the flags of the cluster's Running pods and of
// every namespace in it. The checker runs before the write transaction opens,
// so it may query storage itself.
func (e *Evaluator) EvaluateCluster(ctx context.Context, clusterID int64) (Summary, error) {
	if clusterID <= 0 {
		return Summary{}, &storage.ValidationError{Field: "cluster id", Reason: fmt.Sprintf("%d is not a positive id", clusterID)}
	}

	podUpdates, nsUpdates, err := e.evaluateCluster(ctx, clusterID)
	if err == nil {
		err = e.st.InTx(ctx, func(tx storage.Querier) error {
			if err := applyIn(ctx, tx, storage.TablePods, podUpdates); err != nil {
				return err
			}
			return applyIn(ctx, tx, storage.TableNamespaces, nsUpdates)
		})
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to evaluate cluster %d: %w", clusterID, err)
	}
	sum := summarize(podUpdates, nsUpdates)

	metrics.ComplianceUpdatesTotal.WithLabelValues(ScopePods.String()).Add(float64(sum.Pods))
	metrics.ComplianceUpdatesTotal.WithLabelValues(ScopeNamespaces.String()).Add(float64(sum.Namespaces))
	e.log.Info("evaluated cluster compliance",
		zap.Int64("cluster_id", clusterID),
		zap.Int("pods", sum.Pods),
		zap.Int("compliant_pods", sum.CompliantPods),
		zap.Int("namespaces", sum.Namespaces),
		zap.Int("compliant_namespaces", sum.CompliantNamespaces),
	)
	return sum, nil
}

// EvaluateDay recomputes the flags of the history saved on day, for every
// cluster. A history namespace is judged by the Running history pods of the
// same cluster and day.
func (e *Evaluator) EvaluateDay(ctx context.Context, day storage.Day) (Summary, error) {
	if day.IsZero() {
		return Summary{}, &storage.ValidationError{Field: "day", Reason: "must be set"}
	}

	podUpdates, nsUpdates, err := e.evaluateDay(ctx, day)
	if err == nil {
		err = e.st.InTx(ctx, func(tx storage.Querier) error {
			if err := applyIn(ctx, tx, storage.TableHistoryPods, podUpdates); err != nil {
				return err
			}
			return applyIn(ctx, tx, storage.TableHistoryNamespaces, nsUpdates)
		})
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to evaluate history of %s: %w", day, err)
	}
	sum := summarize(podUpdates, nsUpdates)

	metrics.ComplianceUpdatesTotal.WithLabelValues(ScopeHistoryPods.String()).Add(float64(sum.Pods))
	metrics.ComplianceUpdatesTotal.WithLabelValues(ScopeHistoryNamespaces.String()).Add(float64(sum.Namespaces))
	e.log.Info("evaluated history compliance",
		zap.Stringer("day", day),
		zap.Int("pods", sum.Pods),
		zap.Int("compliant_pods", sum.CompliantPods),
		zap.Int("namespaces", sum.Namespaces),
	)
	return sum, nil
}

// EvaluateAll runs EvaluateCluster for every live cluster and joins the
// failures.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	clusters, err := storage.ListActiveClusters(ctx, e.st.DB())
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}
	var errs []error
	for _, c := range clusters {
		if _, err := e.EvaluateCluster(ctx, c.ID); err != nil {
			e.log.Error("cluster evaluation failed", zap.Int64("cluster_id", c.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type namespaceKey struct {
	clusterID int64
	name      string
}

// evaluateCluster reads the cluster outside any transaction and computes its
// flags.
func (e *Evaluator) evaluateCluster(ctx context.Context, clusterID int64) ([]Update, []Update, error) {
	db := e.st.DB()
	pods, err := storage.RunningPodsWithImages(ctx, db, clusterID)
	if err != nil {
		return nil, nil, err
	}
	podUpdates, flagsByNamespace, err := e.evaluatePods(ctx, pods)
	if err != nil {
		return nil, nil, err
	}
	namespaces, err := storage.ListNamespaces(ctx, db, clusterID)
	if err != nil {
		return nil, nil, err
	}
	nsUpdates := make([]Update, 0, len(namespaces))
	for _, ns := range namespaces {
		key := namespaceKey{clusterID: ns.ClusterID, name: ns.Name}
		nsUpdates = append(nsUpdates, Update{ID: ns.ID, Compliant: EvaluateNamespace(flagsByNamespace[key])})
	}
	return podUpdates, nsUpdates, nil
}

func (e *Evaluator) evaluateDay(ctx context.Context, day storage.Day) ([]Update, []Update, error) {
	db := e.st.DB()
	pods, err := storage.RunningHistoryPodsWithImages(ctx, db, day)
	if err != nil {
		return nil, nil, err
	}
	podUpdates, flagsByNamespace, err := e.evaluatePods(ctx, pods)
	if err != nil {
		return nil, nil, err
	}
	namespaces, err := storage.ListHistoryNamespaces(ctx, db, day)
	if err != nil {
		return nil, nil, err
	}
	nsUpdates := make([]Update, 0, len(namespaces))
	for _, ns := range namespaces {
		key := namespaceKey{clusterID: ns.ClusterID, name: ns.Name}
		nsUpdates = append(nsUpdates, Update{ID: ns.ID, Compliant: EvaluateNamespace(flagsByNamespace[key])})
	}
	return podUpdates, nsUpdates, nil
}

func (e *Evaluator) evaluatePods(ctx context.Context, pods []storage.CompliancePod) ([]Update, map[namespaceKey][]bool, error) {
	updates := make([]Update, 0, len(pods))
	flags := make(map[namespaceKey][]bool)
	for _, p := range pods {
		v, err := e.EvaluatePod(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		updates = append(updates, Update{ID: p.ID, Compliant: v.Compliant})
		key := namespaceKey{clusterID: p.ClusterID, name: p.Namespace}
		flags[key] = append(flags[key], v.Compliant)
	}
	return updates, flags, nil
}

func summarize(pods, namespaces []Update) Summary {
	s := Summary{Pods: len(pods), Namespaces: len(namespaces)}
	for _, u := range pods {
		if u.Compliant {
			s.CompliantPods++
		}
	}
	for _, u := range namespaces {
		if u.Compliant {
			s.CompliantNamespaces++
		}
	}
	return s
}
