// Package integration runs end-to-end session scenarios against the real
// pkg/core wiring: a Scheduler driving real Job/Container/Resolver/
// Listener instances, with a fakeBackend standing in for a real cluster
// on BATCH scenarios and backend/local's own subprocess handling
// exercised directly on LOCAL scenarios.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/options"
	"github.com/batchctl/batchctl/pkg/core/printer"
	"github.com/batchctl/batchctl/pkg/core/resolver"
	"github.com/batchctl/batchctl/pkg/core/scheduler"
	"github.com/batchctl/batchctl/pkg/core/status"
)

func newSession(t *testing.T, be backend.Backend, opts options.Options) *scheduler.Scheduler {
	t.Helper()
	c := container.New(container.NewNameGenerator(1))
	if opts.LocalMax == 0 {
		opts.LocalMax = 4
	}
	if opts.SessionName == "" {
		opts.SessionName = "it"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.OutputMaxAttempts == 0 {
		opts.OutputMaxAttempts = 5
	}
	return scheduler.New(scheduler.Config{
		Container:  c,
		Resolver:   resolver.New(c, opts.LocalMax),
		Printer:    printer.New(new(discardWriter), printer.Plain, 0),
		Options:    opts,
		Registerer: prometheus.NewRegistry(),
		Logger:     logr.Discard(),
		Backend:    be,
	})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func run(t *testing.T, s *scheduler.Scheduler, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, s.RunJobs(ctx, 10*time.Millisecond, false))
}

// S1. Trivial success: single BATCH job, expect SUCCESS with the backend's
// success exit code.
func TestS1TrivialSuccess(t *testing.T) {
	be := newFakeBackend()
	s := newSession(t, be, options.Options{})

	j, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "s1",
		ScriptBody: "#!/bin/bash\necho test\n",
		Type:       status.Batch,
	})
	require.NoError(t, err)

	run(t, s, 5*time.Second)

	assert.Equal(t, status.Success, j.Status())
	assert.Equal(t, be.successCode, *j.Snapshot().ExitCode)
}

// S2. Reset and rerun: a reset job gets a fresh backend id and still
// reaches SUCCESS.
func TestS2ResetAndRerun(t *testing.T) {
	be := newFakeBackend()
	s := newSession(t, be, options.Options{})

	j, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "s2",
		ScriptBody: "#!/bin/bash\necho test\n",
		Type:       status.Batch,
	})
	require.NoError(t, err)

	run(t, s, 5*time.Second)
	require.Equal(t, status.Success, j.Status())
	id1 := j.JobID()
	require.NotNil(t, id1)

	require.NoError(t, j.Reset(true))
	assert.Equal(t, status.Configured, j.Status())
	assert.Nil(t, j.JobID())

	run(t, s, 5*time.Second)
	require.Equal(t, status.Success, j.Status())
	id2 := j.JobID()
	require.NotNil(t, id2)
	assert.NotEqual(t, *id1, *id2)
}

// S3. Fail then retry: a job with max_retries=0 fails outright; after
// rewriting its script and raising max_retries, the same job succeeds.
func TestS3FailThenRetry(t *testing.T) {
	dir := t.TempDir()
	s := newSession(t, nil, options.Options{WorkDir: dir})

	j, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "s3",
		ScriptBody: "exit 1",
		Type:       status.Local,
		MaxRetries: 0,
	})
	require.NoError(t, err)

	run(t, s, 5*time.Second)
	require.Equal(t, status.Failed, j.Status())

	scriptPath := filepath.Join(dir, "it", "scripts", "s3.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/bash\necho ok\n"), 0o755))
	j.SetMaxRetries(1)
	j.SetNRetries(0)

	run(t, s, 5*time.Second)
	assert.Equal(t, status.Success, j.Status())
}

// S4. Parent/child fan-in: a child depending on two tags only starts after
// both parents finish.
func TestS4ParentChildFanIn(t *testing.T) {
	dir := t.TempDir()
	s := newSession(t, nil, options.Options{WorkDir: dir, LocalMax: 4})

	out1 := filepath.Join(dir, "out1")
	out2 := filepath.Join(dir, "out2")

	p1, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "p1",
		ScriptBody: "touch " + out1 + "\nsleep 0.3\n",
		Type:       status.Local,
		Tags:       []string{"p1"},
	})
	require.NoError(t, err)
	p2, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "p2",
		ScriptBody: "touch " + out2 + "\nsleep 0.3\n",
		Type:       status.Local,
		Tags:       []string{"p2"},
	})
	require.NoError(t, err)
	c, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "child",
		ScriptBody: "ls " + out1 + " " + out2,
		Type:       status.Local,
		ParentTags: []string{"p1", "p2"},
	})
	require.NoError(t, err)

	run(t, s, 10*time.Second)

	assert.Equal(t, status.Success, p1.Status())
	assert.Equal(t, status.Success, p2.Status())
	assert.Equal(t, status.Success, c.Status())
}

// S5. Parent failure cascades: a FAILED parent with no retries left
// cascade-cancels its child, zeroing the child's retry budget.
func TestS5ParentFailureCascades(t *testing.T) {
	dir := t.TempDir()
	s := newSession(t, nil, options.Options{WorkDir: dir})

	parent, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "parent",
		ScriptBody: "exit 1",
		Type:       status.Local,
		MaxRetries: 0,
		Tags:       []string{"p"},
	})
	require.NoError(t, err)
	child, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "child",
		ScriptBody: "echo ok",
		Type:       status.Local,
		MaxRetries: 3,
		ParentTags: []string{"p"},
	})
	require.NoError(t, err)

	run(t, s, 5*time.Second)

	assert.Equal(t, status.Failed, parent.Status())
	assert.Equal(t, status.Cancelled, child.Status())
	assert.Equal(t, 0, child.MaxRetries())
}

// S6. Local-dynamic cap: with local_max=1 and local_dynamic, exactly one of
// two initially-BATCH jobs is retyped to LOCAL and both end FAILED.
func TestS6LocalDynamicCap(t *testing.T) {
	be := newFakeBackend()
	be.setExitCode("j1", "1")
	be.setExitCode("j2", "1")
	s := newSession(t, be, options.Options{LocalMax: 1, LocalDynamic: true})

	j1, err := s.AddJobFromSpec(scheduler.JobSpec{Name: "j1", ScriptBody: "exit 1", Type: status.Batch})
	require.NoError(t, err)
	j2, err := s.AddJobFromSpec(scheduler.JobSpec{Name: "j2", ScriptBody: "exit 1", Type: status.Batch})
	require.NoError(t, err)

	run(t, s, 5*time.Second)

	assert.Equal(t, status.Failed, j1.Status())
	assert.Equal(t, status.Failed, j2.Status())
	localCount := 0
	for _, j := range []interface{ Type() status.Type }{j1, j2} {
		if j.Type() == status.Local {
			localCount++
		}
	}
	assert.Equal(t, 1, localCount)
}

// S7. Output-file success predicate: a LOCAL job whose output file appears
// reaches SUCCESS via the listener; resetting with a path the script never
// creates drives it to FAILED once max_attempts is exhausted.
func TestS7OutputFileSuccessPredicate(t *testing.T) {
	dir := t.TempDir()
	s := newSession(t, nil, options.Options{WorkDir: dir, Listens: true, OutputMaxAttempts: 5})

	outPath := filepath.Join(dir, "test")
	j, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "s7",
		ScriptBody: "touch " + outPath + "\nsleep 0.2\n",
		Type:       status.Local,
		OutputPath: outPath,
	})
	require.NoError(t, err)

	s.AttachOutputListener(20*time.Millisecond, 5)
	run(t, s, 5*time.Second)
	assert.Equal(t, status.Success, j.Status())

	require.NoError(t, j.Reset(true))
	missingPath := filepath.Join(dir, "never-created")
	j2, err := s.AddJobFromSpec(scheduler.JobSpec{
		Name:       "s7b",
		ScriptBody: "sleep 0.1",
		Type:       status.Local,
		OutputPath: missingPath,
	})
	require.NoError(t, err)
	s.AttachOutputListener(20*time.Millisecond, 5)

	run(t, s, 5*time.Second)
	assert.Equal(t, status.Failed, j2.Status())
}

// S8. Run-max throttle: with run_max=1, at most one job is ever RUNNING at
// once, and all three eventually reach SUCCESS.
func TestS8RunMaxThrottle(t *testing.T) {
	dir := t.TempDir()
	s := newSession(t, nil, options.Options{WorkDir: dir, RunMax: 1, LocalMax: 3})

	var jobs []string
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.AddJobFromSpec(scheduler.JobSpec{
			Name:       name,
			ScriptBody: "sleep 0.2; exit 0",
			Type:       status.Local,
		})
		require.NoError(t, err)
		jobs = append(jobs, name)
	}

	run(t, s, 10*time.Second)

	for _, name := range jobs {
		j, ok := s.Job(name)
		require.True(t, ok)
		assert.Equal(t, status.Success, j.Status())
	}
}
