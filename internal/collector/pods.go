package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/helmcloud/k8s-compliance-history/internal/resources"
)

// collectPods stores every pod outside the excluded namespaces and replaces
// its image links. It returns the live pod keys and the number of distinct
// images seen.
func (c *Collector) collectPods(ctx context.Context, clusterID int64, items []corev1.Pod) ([]string, int, error) {
	live := make([]string, 0, len(items))
	imageIDs := make(map[string]int64)

	for i := range items {
		pod := &items[i]
		if c.shouldExcludeNamespace(pod.Namespace) {
			continue
		}

		podID, err := c.store.UpsertPod(ctx, resources.PodRecord{
			ClusterID:         clusterID,
			Namespace:         pod.Namespace,
			Name:              pod.Name,
			GenerateName:      pod.GenerateName,
			UID:               string(pod.UID),
			SelfLink:          pod.SelfLink,
			ResourceVersion:   pod.ResourceVersion,
			CreationTimestamp: timestamp(pod.CreationTimestamp),
			PodStatus:         string(pod.Status.Phase),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to save pod %s/%s: %w", pod.Namespace, pod.Name, err)
		}
		live = append(live, resources.PodKey(pod.Namespace, pod.Name))

		var linked []int64
		for _, ref := range c.podImages(pod) {
			key := ref.url + "@" + ref.dockerImageID
			id, ok := imageIDs[key]
			if !ok {
				id, err = c.store.UpsertImage(ctx, resources.ImageRecord{
					ClusterID:        clusterID,
					URL:              ref.url,
					Name:             ref.name,
					Tag:              ref.tag,
					DockerImageID:    ref.dockerImageID,
					RunningInCluster: true,
				})
				if err != nil {
					return nil, 0, fmt.Errorf("failed to save image %s: %w", ref.url, err)
				}
				imageIDs[key] = id
			}
			linked = append(linked, id)
		}
		if err := c.store.ReplacePodImages(ctx, podID, linked); err != nil {
			return nil, 0, err
		}
	}

	return live, len(imageIDs), nil
}

type imageRef struct {
	url           string
	name          string
	tag           string
	digest        string
	dockerImageID string
}

// podImages prefers the resolved image ids of container statuses and falls
// back to the digest of the pod spec reference for containers that have not
// started.
func (c *Collector) podImages(pod *corev1.Pod) []imageRef {
	statuses := make(map[string]corev1.ContainerStatus)
	for _, cs := range pod.Status.InitContainerStatuses {
		statuses[cs.Name] = cs
	}
	for _, cs := range pod.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}

	var refs []imageRef
	add := func(containers []corev1.Container) {
		for _, container := range containers {
			ref, err := parseImage(container.Image)
			if err != nil {
				c.log.Warn("unparsable image reference, storing it verbatim",
					zap.String("pod", pod.Namespace+"/"+pod.Name),
					zap.String("image", container.Image),
					zap.Error(err),
				)
				ref = imageRef{url: container.Image, name: container.Image}
			}
			ref.dockerImageID = ref.digest
			if cs, ok := statuses[container.Name]; ok && cs.ImageID != "" {
				ref.dockerImageID = trimImageIDScheme(cs.ImageID)
			}
			refs = append(refs, ref)
		}
	}
	add(pod.Spec.InitContainers)
	add(pod.Spec.Containers)
	return refs
}

// parseImage normalises a container image reference, so "nginx" and
// "docker.io/library/nginx:latest" are the same image. A reference pinned
// by digest alone keeps an empty tag.
func parseImage(image string) (imageRef, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return imageRef{}, err
	}
	ref := imageRef{name: named.Name()}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.digest = digested.Digest().String()
	}
	ref.url = reference.TagNameOnly(named).String()
	if ref.tag == "" && ref.digest == "" {
		ref.tag = "latest"
	}
	return ref, nil
}

// NormalizeImage returns the image url the collector stores for image.
func NormalizeImage(image string) (string, error) {
	ref, err := parseImage(image)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	return ref.url, nil
}

func trimImageIDScheme(id string) string {
	if i := strings.Index(id, "://"); i >= 0 {
		return id[i+3:]
	}
	return id
}
