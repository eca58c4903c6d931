package container

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/status"
)

func newJob(t *testing.T, name string, tags, parentTags []string) *job.Job {
	t.Helper()
	j, err := job.New(job.Params{
		Config: job.Config{
			Name:       name,
			ScriptPath: "/tmp/" + name + ".sh",
			Type:       status.Batch,
			Tags:       tags,
			ParentTags: parentTags,
		},
		Logger: logr.Discard(),
	})
	require.NoError(t, err)
	return j
}

func TestPartitionInvariant(t *testing.T) {
	c := New(NewNameGenerator(1))
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Add(newJob(t, "job"+string(rune('a'+i)), nil, nil), false))
	}

	total := 0
	for _, s := range status.All() {
		total += c.Count(s)
	}
	assert.Equal(t, c.Len(), total)
	assert.Equal(t, 5, c.Count(status.Configured))
}

func TestGetByTagUnion(t *testing.T) {
	c := New(NewNameGenerator(1))
	require.NoError(t, c.Add(newJob(t, "p1", []string{"alpha"}, nil), false))
	require.NoError(t, c.Add(newJob(t, "p2", []string{"beta"}, nil), false))
	require.NoError(t, c.Add(newJob(t, "other", []string{"gamma"}, nil), false))

	matches := c.Get([]string{"alpha", "beta"}, nil)
	assert.Len(t, matches, 2)
}

func TestParentsOfUndeclaredTagErrors(t *testing.T) {
	c := New(NewNameGenerator(1))
	require.NoError(t, c.Add(newJob(t, "child", nil, []string{"missing"}), false))

	_, err := c.ParentsOf([]string{"missing"})
	assert.Error(t, err)
}

func TestUpdateJobStatusMovesBucket(t *testing.T) {
	c := New(NewNameGenerator(1))
	j := newJob(t, "movable", nil, nil)
	require.NoError(t, c.Add(j, false))
	assert.Equal(t, 1, c.Count(status.Configured))

	err := j.Cancel(context.Background(), false)
	require.NoError(t, err)
	c.UpdateJobStatus(j)

	assert.Equal(t, 0, c.Count(status.Configured))
	assert.Equal(t, 1, c.Count(status.Cancelled))
}

func TestNextNameAvoidsCollisions(t *testing.T) {
	c := New(NewNameGenerator(42))
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name := c.NextName()
		require.False(t, seen[name], "generated name %q must be unique", name)
		seen[name] = true
		require.NoError(t, c.Add(newJob(t, name, nil, nil), true))
	}
}
