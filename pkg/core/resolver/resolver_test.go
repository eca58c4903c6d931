package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/status"
)

func addJob(t *testing.T, c *container.Container, cfg job.Config) *job.Job {
	t.Helper()
	j, err := job.New(job.Params{Config: cfg, Logger: logr.Discard()})
	require.NoError(t, err)
	require.NoError(t, c.Add(j, false))
	return j
}

func TestIsReadyUndeclaredParentTagErrors(t *testing.T) {
	c := container.New(container.NewNameGenerator(1))
	child := addJob(t, c, job.Config{Name: "child", ScriptPath: "/tmp/c.sh", Type: status.Batch, ParentTags: []string{"ghost"}})

	r := New(c, 1)
	_, err := r.IsReady(context.Background(), child)
	assert.Error(t, err)
}

func TestIsReadyWaitsForParentSuccess(t *testing.T) {
	c := container.New(container.NewNameGenerator(1))
	parent := addJob(t, c, job.Config{Name: "parent", ScriptPath: "/tmp/p.sh", Type: status.Batch, Tags: []string{"p"}})
	child := addJob(t, c, job.Config{Name: "child", ScriptPath: "/tmp/c.sh", Type: status.Batch, ParentTags: []string{"p"}})

	r := New(c, 1)
	ready, err := r.IsReady(context.Background(), child)
	require.NoError(t, err)
	assert.False(t, ready, "child must wait while parent is still CONFIGURED")

	_ = parent // parent status intentionally left CONFIGURED for this assertion
}

func TestCascadeCancelOnParentExhaustedRetries(t *testing.T) {
	c := container.New(container.NewNameGenerator(1))
	parent := addJob(t, c, job.Config{Name: "parent", ScriptPath: "/tmp/p.sh", Type: status.Batch, Tags: []string{"p"}, MaxRetries: 0})
	child := addJob(t, c, job.Config{Name: "child", ScriptPath: "/tmp/c.sh", Type: status.Batch, ParentTags: []string{"p"}, MaxRetries: 5})

	require.NoError(t, parent.Cancel(context.Background(), false))
	c.UpdateJobStatus(parent)
	require.Equal(t, status.Cancelled, parent.Status())

	r := New(c, 1)
	ready, err := r.IsReady(context.Background(), child)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, status.Cancelled, child.Status(), "child must be cascade-cancelled")
	assert.Equal(t, 0, child.MaxRetries(), "cascade-cancel must clear_retry on the child")
}

func TestIsReadyLocalCap(t *testing.T) {
	c := container.New(container.NewNameGenerator(1))
	j := addJob(t, c, job.Config{Name: "localjob", ScriptPath: "/bin/true", Type: status.Local})

	r := New(c, 0)
	ready, err := r.IsReady(context.Background(), j)
	require.NoError(t, err)
	assert.False(t, ready, "local_max=0 must block any LOCAL job from becoming ready")
}

func TestIsReadyRespectsStartTime(t *testing.T) {
	c := container.New(container.NewNameGenerator(1))
	j := addJob(t, c, job.Config{Name: "future", ScriptPath: "/tmp/f.sh", Type: status.Batch})
	j.SetStartTime(time.Now().Add(time.Hour))

	r := New(c, 1)
	ready, err := r.IsReady(context.Background(), j)
	require.NoError(t, err)
	assert.False(t, ready)
}
