// Package k8sjob implements a BATCH backend that submits one Kubernetes
// Job per batchctl job: the script body rides along in a ConfigMap, and
// the Job's pod mounts it and runs it with a shell.
package k8sjob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/go-logr/logr"

	"github.com/batchctl/batchctl/pkg/core/backend"
)

const (
	managedByLabel = "batchctl"
	scriptMountDir = "/batchctl/scripts"
	scriptFileName = "run.sh"
)

// Config configures a Backend. Clientset is accepted directly (rather than a
// *rest.Config) so tests can substitute k8s.io/client-go/kubernetes/fake
// without an in-cluster or kubeconfig dependency.
type Config struct {
	Clientset kubernetes.Interface
	Namespace string

	// Image is the container image every batchctl Job pod runs. It must
	// provide a POSIX shell; the script is mounted in and invoked with
	// "sh".
	Image string

	// SuccessCodeStr overrides the default success verdict ("0").
	SuccessCodeStr string

	Logger logr.Logger
}

// Backend submits batchctl BATCH jobs as Kubernetes Jobs via client-go,
// following the shape of backend.Backend (pkg/core/backend/backend.go).
type Backend struct {
	client      kubernetes.Interface
	namespace   string
	image       string
	successCode string
	log         logr.Logger
}

// New builds a Backend. Namespace and Image are required; Clientset must be
// non-nil (the caller constructs it from in-cluster config, a kubeconfig, or
// a fake for tests; this package never reaches into rest.Config itself, so
// it carries no dependency on how the caller is authenticated).
func New(cfg Config) (*Backend, error) {
	if cfg.Clientset == nil {
		return nil, fmt.Errorf("k8sjob: clientset is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("k8sjob: namespace is required")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("k8sjob: image is required")
	}
	success := cfg.SuccessCodeStr
	if success == "" {
		success = "0"
	}
	return &Backend{
		client:      cfg.Clientset,
		namespace:   cfg.Namespace,
		image:       cfg.Image,
		successCode: success,
		log:         cfg.Logger,
	}, nil
}

// WriteScript materialises spec to dir/<name>.sh, applying the wrapper if
// set, so the same parsed script works whether a job ends up LOCAL or
// BATCH.
func (b *Backend) WriteScript(dir string, spec backend.ScriptSpec) (string, error) {
	body := spec.Body
	if spec.Wrapper != nil {
		body = spec.Wrapper(body)
	}
	path := filepath.Join(dir, spec.Name+".sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return "", fmt.Errorf("k8sjob: write script %s: %w", path, err)
	}
	return path, nil
}

// Submit reads the script back off disk, stores it in a ConfigMap, and
// creates a Kubernetes Job that mounts the ConfigMap and runs the script
// with "sh". The returned id is the Kubernetes Job's name, the same value
// Status/Cancel/ExitCode take.
func (b *Backend) Submit(ctx context.Context, scriptPath string, spec backend.ScriptSpec) (string, error) {
	body, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", fmt.Errorf("k8sjob: read script %s: %w", scriptPath, err)
	}

	name := jobResourceName(spec.Name)
	labels := jobLabels(spec.Name, spec.Labels)

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Data: map[string]string{scriptFileName: string(body)},
	}
	if _, err := b.client.CoreV1().ConfigMaps(b.namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("k8sjob: create configmap for %s: %w", spec.Name, err)
	}

	backoff := int32(0)
	mode := int32(0o755)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    "batchctl",
							Image:   b.image,
							Command: []string{"sh", filepath.Join(scriptMountDir, scriptFileName)},
							Args:    spec.Args,
							VolumeMounts: []corev1.VolumeMount{
								{Name: "script", MountPath: scriptMountDir},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "script",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: name},
									DefaultMode:          &mode,
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := b.client.BatchV1().Jobs(b.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("k8sjob: create job %s: %w", spec.Name, err)
	}
	b.log.V(1).Info("submitted kubernetes job", "name", name)
	return name, nil
}

// Cancel stops a Job from creating further pods (parallelism to zero) and
// deletes the ones it has already started, rather than deleting the Job
// outright: the Job object and its terminal Status must survive for a
// subsequent Status/ExitCode call.
func (b *Backend) Cancel(ctx context.Context, id string) error {
	job, err := b.client.BatchV1().Jobs(b.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("k8sjob: get job %s for cancel: %w", id, err)
	}

	zero := int32(0)
	job.Spec.Parallelism = &zero
	if _, err := b.client.BatchV1().Jobs(b.namespace).Update(ctx, job, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8sjob: cancel job %s: %w", id, err)
	}

	pods, err := b.client.CoreV1().Pods(b.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", id),
	})
	if err != nil {
		return fmt.Errorf("k8sjob: list pods for job %s: %w", id, err)
	}
	for i := range pods.Items {
		name := pods.Items[i].Name
		err := b.client.CoreV1().Pods(b.namespace).Delete(ctx, name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("k8sjob: delete pod %s for job %s: %w", name, id, err)
		}
	}
	return nil
}

// Status inspects the Job's Conditions for JobComplete/JobFailed,
// collapsed to the coarse StillRunning/Done distinction backend.Backend
// asks for; the core decides SUCCESS/FAILED from ExitCode, never from
// Status itself.
func (b *Backend) Status(ctx context.Context, id string) (backend.RunState, error) {
	job, err := b.client.BatchV1().Jobs(b.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return backend.StillRunning, fmt.Errorf("k8sjob: get job %s: %w", id, err)
	}
	if jobDone(job) {
		return backend.Done, nil
	}
	return backend.StillRunning, nil
}

// ExitCode maps the Job's Succeeded/Failed counters onto the string codes
// the core compares against SuccessCode. Succeeded>0 wins even if a prior
// attempt under the Job's BackoffLimit also failed: the Job's own
// terminal condition already resolved that ambiguity by the time Status
// reports Done.
func (b *Backend) ExitCode(ctx context.Context, id string) (string, error) {
	job, err := b.client.BatchV1().Jobs(b.namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("k8sjob: get job %s: %w", id, err)
	}
	if job.Status.Succeeded > 0 || hasCondition(job, batchv1.JobComplete) {
		return b.successCode, nil
	}
	return "1", nil
}

// GetListenFunc lists every Job this backend manages and reports each
// one's coarse status/exitcode, feeding the single-slot Listener's pull
// model instead of a long-lived watch channel.
func (b *Backend) GetListenFunc() backend.ListenFunc {
	return func(ctx context.Context) (backend.ListenPayload, error) {
		jobs, err := b.client.BatchV1().Jobs(b.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "managed-by=" + managedByLabel,
		})
		if err != nil {
			return nil, fmt.Errorf("k8sjob: list jobs: %w", err)
		}

		payload := make(backend.ListenPayload, len(jobs.Items))
		for i := range jobs.Items {
			job := &jobs.Items[i]
			entry := map[string]string{}
			if jobDone(job) {
				entry["status"] = "FINISHED"
			} else {
				entry["status"] = "RUNNING"
			}
			if job.Status.Succeeded > 0 || hasCondition(job, batchv1.JobComplete) {
				entry["exitcode"] = b.successCode
			} else if job.Status.Failed > 0 || hasCondition(job, batchv1.JobFailed) {
				entry["exitcode"] = "1"
			}
			payload[job.Name] = entry
		}
		return payload, nil
	}
}

func (b *Backend) SuccessCode() string { return b.successCode }

// Commands is empty: this backend talks to the Kubernetes API directly via
// client-go, not through a PATH-resident CLI, so the backend-unavailable /
// test-mode PATH probe never applies to it.
func (b *Backend) Commands() []string { return nil }

func (b *Backend) Name() string { return "k8sjob" }

func jobDone(job *batchv1.Job) bool {
	return hasCondition(job, batchv1.JobComplete) || hasCondition(job, batchv1.JobFailed)
}

func hasCondition(job *batchv1.Job, typ batchv1.JobConditionType) bool {
	for _, c := range job.Status.Conditions {
		if c.Type == typ && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// jobResourceName derives a DNS-1123-safe Kubernetes object name from a
// batchctl job name (lowercase, underscores to hyphens).
func jobResourceName(name string) string {
	n := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	return "batchctl-" + n
}

func jobLabels(name string, extra map[string]string) map[string]string {
	labels := map[string]string{
		"app":          managedByLabel,
		"managed-by":   managedByLabel,
		"batchctl-job": jobResourceName(name),
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}
