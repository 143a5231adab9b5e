package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/helmcloud/k8s-compliance-history/internal/resources"
)

type Collector struct {
	clientset   kubernetes.Interface
	store       *resources.Store
	clusterName string
	excludeNS   map[string]bool
	log         *zap.Logger
}

// Result summarises one collection pass.
type Result struct {
	ClusterID         int64
	Namespaces        int
	Pods              int
	Images            int
	RemovedPods       int
	RemovedNamespaces int
}

func New(store *resources.Store, clusterName string, excludeNamespaces []string, log *zap.Logger) (*Collector, error) {
	config, err := getKubeConfig(log)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return NewWithClientset(clientset, store, clusterName, excludeNamespaces, log), nil
}

// NewWithClientset builds a Collector over an existing clientset.
func NewWithClientset(clientset kubernetes.Interface, store *resources.Store, clusterName string, excludeNamespaces []string, log *zap.Logger) *Collector {
	excludeMap := make(map[string]bool)
	for _, ns := range excludeNamespaces {
		excludeMap[ns] = true
	}

	return &Collector{
		clientset:   clientset,
		store:       store,
		clusterName: clusterName,
		excludeNS:   excludeMap,
		log:         log.Named("collector"),
	}
}

func getKubeConfig(log *zap.Logger) (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		log.Info("using in-cluster kubernetes config")
		return config, nil
	}

	log.Info("not running in cluster, trying local kubeconfig")

	kubeconfigPath := os.Getenv("KUBECONFIG")
	if kubeconfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}

	log.Info("using kubeconfig", zap.String("path", kubeconfigPath))
	return config, nil
}

// Collect lists the cluster's namespaces and pods, stores them with their
// images and removes what the cluster no longer reports.
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	c.log.Info("starting collection", zap.String("cluster", c.clusterName))

	clusterID, err := c.store.EnsureCluster(ctx, c.clusterName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to register cluster: %w", err)
	}
	res := Result{ClusterID: clusterID}

	var namespaces *corev1.NamespaceList
	var pods *corev1.PodList
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		namespaces, err = c.clientset.CoreV1().Namespaces().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list namespaces: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		pods, err = c.clientset.CoreV1().Pods("").List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list pods: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	liveNamespaces, err := c.collectNamespaces(ctx, clusterID, namespaces.Items)
	if err != nil {
		return Result{}, err
	}
	res.Namespaces = len(liveNamespaces)

	livePods, images, err := c.collectPods(ctx, clusterID, pods.Items)
	if err != nil {
		return Result{}, err
	}
	res.Pods = len(livePods)
	res.Images = images

	if res.RemovedPods, err = c.store.ReconcileDeadPods(ctx, clusterID, livePods); err != nil {
		return Result{}, err
	}
	if res.RemovedNamespaces, err = c.store.ReconcileDeadNamespaces(ctx, clusterID, liveNamespaces); err != nil {
		return Result{}, err
	}

	c.log.Info("collection completed",
		zap.Int64("cluster_id", clusterID),
		zap.Int("namespaces", res.Namespaces),
		zap.Int("pods", res.Pods),
		zap.Int("images", res.Images),
		zap.Int("removed_pods", res.RemovedPods),
		zap.Int("removed_namespaces", res.RemovedNamespaces),
	)
	return res, nil
}

func (c *Collector) collectNamespaces(ctx context.Context, clusterID int64, items []corev1.Namespace) ([]string, error) {
	live := make([]string, 0, len(items))
	for i := range items {
		ns := &items[i]
		if c.shouldExcludeNamespace(ns.Name) {
			continue
		}
		if _, err := c.store.UpsertNamespace(ctx, resources.NamespaceRecord{
			ClusterID:         clusterID,
			Name:              ns.Name,
			UID:               string(ns.UID),
			SelfLink:          ns.SelfLink,
			ResourceVersion:   ns.ResourceVersion,
			CreationTimestamp: timestamp(ns.CreationTimestamp),
		}); err != nil {
			return nil, fmt.Errorf("failed to save namespace %s: %w", ns.Name, err)
		}
		live = append(live, ns.Name)
	}
	return live, nil
}

func (c *Collector) shouldExcludeNamespace(ns string) bool {
	return c.excludeNS[ns]
}

func timestamp(t metav1.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
