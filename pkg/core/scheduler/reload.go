package scheduler

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/listener"
	"github.com/batchctl/batchctl/pkg/core/options"
	"github.com/batchctl/batchctl/pkg/core/printer"
	"github.com/batchctl/batchctl/pkg/core/resolver"
	"github.com/batchctl/batchctl/pkg/core/snapshot"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// ReloadDeps supplies the runtime collaborators a snapshot cannot carry
// across a process restart: the backend a reloaded BATCH job re-links
// against, the logger, and where to render progress. Listeners are never
// restored from a snapshot; they start fresh, so ReloadDeps only needs
// enough to construct new ones, which the caller does after Reload
// returns (the listener set depends on which BATCH backend is in play, a
// binary-level decision).
type ReloadDeps struct {
	Store      *snapshot.Store
	Backend    backend.Backend // the single BATCH backend every reloaded BATCH job re-links to
	Printer    *printer.Printer
	Registerer prometheus.Registerer
	Logger     logr.Logger
}

// Reload reconstructs a session from its on-disk snapshot: read the
// session config, then for every recorded job-config path, decode it and
// insert the resulting Job into a fresh Container, in the original
// declaration order. No job state is lost because each job's last
// observed status is in its own snapshot.
//
// A LOCAL job found RUNNING in the snapshot has no surviving child
// process once the controlling process restarts, so it is resurrected as
// CANCELLED rather than left RUNNING with no way to ever observe
// completion.
func Reload(deps ReloadDeps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("scheduler: reload requires a snapshot store")
	}

	session, err := deps.Store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("scheduler: reload session config: %w", err)
	}

	c := container.New(container.NewNameGenerator(1))
	var order []string
	for _, path := range session.JobConfigPaths {
		cfg, err := deps.Store.LoadJobConfig(path)
		if err != nil {
			return nil, fmt.Errorf("scheduler: reload job config %s: %w", path, err)
		}

		var be backend.Backend
		if cfg.Type == status.Batch {
			be = deps.Backend
		}

		j, err := job.New(job.Params{
			Config:  cfg,
			Logger:  deps.Logger,
			Backend: be,
		})
		if err != nil {
			return nil, fmt.Errorf("scheduler: reconstruct job %q: %w", cfg.Name, err)
		}
		j.ResurrectStaleLocal()
		if err := c.Add(j, false); err != nil {
			return nil, fmt.Errorf("scheduler: reload insert job %q: %w", cfg.Name, err)
		}
		c.UpdateJobStatus(j)
		if j.JobID() != nil {
			c.AddID(*j.JobID(), j.Name())
		}
		order = append(order, j.Name())
	}

	opts := options.Options{
		WorkDir:           session.WorkDir,
		SessionName:       session.Name,
		DefaultBackend:    session.DefaultBackend,
		LocalMax:          session.LocalMax,
		LocalDynamic:      session.LocalDynamic,
		RunMax:            session.RunMax,
		Listens:           session.Listens,
		DoSnapshot:        session.DoSnapshot,
		OutputMaxAttempts: session.OutputMaxAttempts,
	}

	s := New(Config{
		Container:  c,
		Resolver:   resolver.New(c, opts.LocalMax),
		Listeners:  nil, // listeners start fresh, never restored
		Printer:    deps.Printer,
		Store:      deps.Store,
		Options:    opts,
		Registerer: deps.Registerer,
		Logger:     deps.Logger,
		Backend:    deps.Backend,
	})
	s.order = order // preserve the recorded declaration order, not Container.All()'s name sort
	return s, nil
}

// AttachListeners lets a caller add freshly constructed Listeners (e.g.
// rebuilt from deps.Backend.GetListenFunc) after Reload, mirroring the
// order RunJobs expects: Listeners must be set before RunJobs starts them.
func (s *Scheduler) AttachListeners(ls ...*listener.Listener) {
	s.listeners = append(s.listeners, ls...)
}
