package k8sjob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/batchctl/batchctl/pkg/core/backend"
)

func newTestBackend(t *testing.T) (*Backend, *fake.Clientset) {
	t.Helper()
	clientset := fake.NewSimpleClientset()
	b, err := New(Config{
		Clientset: clientset,
		Namespace: "batchctl-test",
		Image:     "busybox:latest",
		Logger:    logr.Discard(),
	})
	require.NoError(t, err)
	return b, clientset
}

func TestSubmitCreatesJobAndConfigMap(t *testing.T) {
	b, clientset := newTestBackend(t)
	dir := t.TempDir()

	path, err := b.WriteScript(dir, backend.ScriptSpec{Name: "render", Body: "echo hi"})
	require.NoError(t, err)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "echo hi", string(body))

	id, err := b.Submit(context.Background(), path, backend.ScriptSpec{Name: "render"})
	require.NoError(t, err)
	assert.Equal(t, "batchctl-render", id)

	job, err := clientset.BatchV1().Jobs("batchctl-test").Get(context.Background(), id, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "busybox:latest", job.Spec.Template.Spec.Containers[0].Image)

	cm, err := clientset.CoreV1().ConfigMaps("batchctl-test").Get(context.Background(), id, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", cm.Data[scriptFileName])
}

func TestStatusAndExitCodeReflectConditions(t *testing.T) {
	b, clientset := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, writeTempScript(t), backend.ScriptSpec{Name: "job1"})
	require.NoError(t, err)

	state, err := b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, backend.StillRunning, state)

	job, err := clientset.BatchV1().Jobs("batchctl-test").Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)
	job.Status.Succeeded = 1
	job.Status.Conditions = []batchv1.JobCondition{
		{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
	}
	_, err = clientset.BatchV1().Jobs("batchctl-test").UpdateStatus(ctx, job, metav1.UpdateOptions{})
	require.NoError(t, err)

	state, err = b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, backend.Done, state)

	code, err := b.ExitCode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, b.SuccessCode(), code)
}

func TestExitCodeReportsFailure(t *testing.T) {
	b, clientset := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, writeTempScript(t), backend.ScriptSpec{Name: "failjob"})
	require.NoError(t, err)

	job, err := clientset.BatchV1().Jobs("batchctl-test").Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)
	job.Status.Failed = 1
	job.Status.Conditions = []batchv1.JobCondition{
		{Type: batchv1.JobFailed, Status: corev1.ConditionTrue},
	}
	_, err = clientset.BatchV1().Jobs("batchctl-test").UpdateStatus(ctx, job, metav1.UpdateOptions{})
	require.NoError(t, err)

	code, err := b.ExitCode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1", code)
}

func TestCancelZeroesParallelismAndDeletesPods(t *testing.T) {
	b, clientset := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, writeTempScript(t), backend.ScriptSpec{Name: "cancelme"})
	require.NoError(t, err)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      id + "-abcde",
			Namespace: "batchctl-test",
			Labels:    map[string]string{"job-name": id},
		},
	}
	_, err = clientset.CoreV1().Pods("batchctl-test").Create(ctx, pod, metav1.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx, id))

	job, err := clientset.BatchV1().Jobs("batchctl-test").Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, job.Spec.Parallelism)
	assert.Equal(t, int32(0), *job.Spec.Parallelism)

	pods, err := clientset.CoreV1().Pods("batchctl-test").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)
}

func TestListenFuncReportsAllJobs(t *testing.T) {
	b, clientset := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, writeTempScript(t), backend.ScriptSpec{Name: "listened"})
	require.NoError(t, err)

	job, err := clientset.BatchV1().Jobs("batchctl-test").Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)
	job.Status.Succeeded = 1
	job.Status.Conditions = []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}}
	_, err = clientset.BatchV1().Jobs("batchctl-test").UpdateStatus(ctx, job, metav1.UpdateOptions{})
	require.NoError(t, err)

	poll := b.GetListenFunc()
	payload, err := poll(ctx)
	require.NoError(t, err)
	require.Contains(t, payload, id)
	assert.Equal(t, "FINISHED", payload[id]["status"])
	assert.Equal(t, b.SuccessCode(), payload[id]["exitcode"])
}

func writeTempScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi"), 0o644))
	return path
}
