package scheduler

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

	"github.com/batchctl/batchctl/pkg/core/printer"
	"github.com/batchctl/batchctl/pkg/core/snapshot"
	"github.com/batchctl/batchctl/pkg/core/status"
)

func TestReloadPreservesDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	s := newTestSchedulerWithWorkDir(t, dir, 2)
	store := snapshot.NewStore(dir)
	s.store = store
	s.opts.DoSnapshot = true

	names := []string{"zeta", "alpha", "mid"}
	for _, n := range names {
		_, err := s.AddJobFromSpec(JobSpec{Name: n, ScriptBody: "exit 0", Type: status.Local})
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())

	reloaded, err := Reload(ReloadDeps{
		Store:      store,
		Printer:    printer.New(new(discardWriter), printer.Plain, 0),
		Registerer: prometheus.NewRegistry(),
		Logger:     logr.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, names, reloaded.order)
}

func TestReloadResurrectsStaleLocalJobAsCancelled(t *testing.T) {
	dir := t.TempDir()
	s := newTestSchedulerWithWorkDir(t, dir, 2)
	store := snapshot.NewStore(dir)
	s.store = store
	s.opts.DoSnapshot = true

	_, err := s.AddJobFromSpec(JobSpec{Name: "slow", ScriptBody: "exit 0", Type: status.Local})
	require.NoError(t, err)

	j, ok := s.Job("slow")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = j.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, status.Running, j.Status())
	require.NoError(t, s.Flush())

	reloaded, err := Reload(ReloadDeps{
		Store:      store,
		Printer:    printer.New(new(discardWriter), printer.Plain, 0),
		Registerer: prometheus.NewRegistry(),
		Logger:     logr.Discard(),
	})
	require.NoError(t, err)

	rj, ok := reloaded.Job("slow")
	require.True(t, ok)
	assert.Equal(t, status.Cancelled, rj.Status())
}

func TestReloadRejectsMissingStore(t *testing.T) {
	_, err := Reload(ReloadDeps{})
	assert.Error(t, err)
}

func TestLayoutEnsureDirsCreatesAllSubdirs(t *testing.T) {
	dir := t.TempDir()
	l := NewLayout(dir, "sess")
	require.NoError(t, l.EnsureDirs())
	for _, sub := range []string{"scripts", "logs", "output", "snapshot", "tmp"} {
		info, err := os.Stat(filepath.Join(dir, "sess", sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
