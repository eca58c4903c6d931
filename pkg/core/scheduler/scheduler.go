// Package scheduler implements the session control loop: it drains
// listeners, applies readiness/retry/cap policy, submits and cancels
// jobs, and triggers snapshot writes. It is the one component that wires
// every other pkg/core package together.
package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/corerr"
	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/listener"
	"github.com/batchctl/batchctl/pkg/core/options"
	"github.com/batchctl/batchctl/pkg/core/printer"
	"github.com/batchctl/batchctl/pkg/core/resolver"
	"github.com/batchctl/batchctl/pkg/core/snapshot"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// Config wires a Scheduler together. Container/Resolver/Printer/Store are
// constructed by the caller (cmd/batchctl, or a session-reload path) and
// handed in; after that they belong to the Scheduler's control goroutine
// and must not be touched from anywhere else.
type Config struct {
	Container  *container.Container
	Resolver   *resolver.Resolver
	Listeners  []*listener.Listener
	Printer    *printer.Printer
	Store      *snapshot.Store
	Options    options.Options
	Registerer prometheus.Registerer
	Logger     logr.Logger

	// Backend is the BATCH backend AddJobFromSpec attaches to every
	// BATCH-type job it constructs. May be nil for a LOCAL-only session.
	Backend backend.Backend
}

// Scheduler is JobHandler: it owns the declaration-ordered job list, the
// listener drain state, and the metrics the control loop publishes.
type Scheduler struct {
	container *container.Container
	resolver  *resolver.Resolver
	listeners []*listener.Listener
	printer   *printer.Printer
	store     *snapshot.Store
	opts      options.Options
	log       logr.Logger
	metrics   *metrics
	backend   backend.Backend

	order []string // declaration order; submission sweeps follow it

	missingTicks map[string]int  // per-job consecutive-listener-miss counter
	reported     map[string]bool // jobs already counted in completedTotal
}

// New constructs a Scheduler. Callers that reload a session populate cfg.
// Container with jobs already present; AddJob records each one's
// declaration order for a fresh session.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		container:    cfg.Container,
		resolver:     cfg.Resolver,
		listeners:    cfg.Listeners,
		printer:      cfg.Printer,
		store:        cfg.Store,
		opts:         cfg.Options,
		log:          cfg.Logger,
		backend:      cfg.Backend,
		metrics:      newMetrics(cfg.Registerer, cfg.Options.SessionName),
		missingTicks: make(map[string]int),
		reported:     make(map[string]bool),
	}
	for _, j := range cfg.Container.All() {
		s.order = append(s.order, j.Name())
	}
	return s
}

// Jobs returns every job in the session, name-sorted, for callers that
// only need to inspect state (cmd/batchctl's "status" subcommand).
func (s *Scheduler) Jobs() []*job.Job {
	return s.container.All()
}

// Job looks up a single job by name, for callers that need to act on one
// (cmd/batchctl's "reset" subcommand).
func (s *Scheduler) Job(name string) (*job.Job, bool) {
	return s.container.Job(name)
}

// AddJob inserts a new job into the container and records its declaration
// order, for use by both a fresh session build and cmd/batchctl's
// "add-job" subcommand.
func (s *Scheduler) AddJob(j *job.Job, autoNamed bool) error {
	if err := s.container.Add(j, autoNamed); err != nil {
		return err
	}
	s.order = append(s.order, j.Name())
	return nil
}

// RunJobs orchestrates the session until every job is terminal. interval
// <= 0 means "tick on stdin input", for interactive sessions with no
// listeners configured. retry, when true, forces one retry attempt on
// every job already in {FAILED, CANCELLED} at startup.
func (s *Scheduler) RunJobs(ctx context.Context, interval time.Duration, retry bool) error {
	restore, err := s.primeRetries(retry)
	if err != nil {
		return err
	}
	defer restore()

	for _, l := range s.listeners {
		l.Start(ctx)
	}
	defer func() {
		if err := s.flushSnapshot(); err != nil {
			s.log.Error(err, "final snapshot flush failed")
		}
	}()
	defer s.stopListeners()

	s.updateMetrics()
	s.printer.Update(s.snapshotView())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticks, stopTicks := s.tickSource(ctx, interval)
	defer stopTicks()

	stopSubmitting := false
	sigCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-sigCh:
			sigCount++
			s.log.Info("received interrupt", "signal", sig.String(), "count", sigCount)
			stopSubmitting = true
			if sigCount >= 2 {
				if err := s.cancelLocalChildren(ctx); err != nil {
					return fmt.Errorf("scheduler: cancel local children: %w", err)
				}
			}

		case <-ticks:
			s.drain()

			if !stopSubmitting {
				if err := s.submitJobs(ctx, retry); err != nil {
					if cerr := s.cancelAllRunning(ctx); cerr != nil {
						s.log.Error(cerr, "failed to cancel running jobs during error unwind")
					}
					return fmt.Errorf("scheduler: submit_jobs: %w", err)
				}
			}

			s.updateMetrics()
			s.printer.Update(s.snapshotView())

			if err := s.flushSnapshot(); err != nil {
				s.log.Error(err, "snapshot flush failed")
			}

			if stopSubmitting && s.container.LocalCount() == 0 {
				s.printer.Summary(s.snapshotView())
				return nil
			}
			if s.sessionComplete() {
				s.printer.Summary(s.snapshotView())
				return nil
			}
		}
	}
}

// primeRetries forces max_retries=1, n_retries=0 on every job already
// FAILED/CANCELLED, so the normal retry path fires once per such job,
// and returns a restore func that puts max_retries back at loop exit.
func (s *Scheduler) primeRetries(retry bool) (func(), error) {
	if !retry {
		return func() {}, nil
	}
	type saved struct {
		j   *job.Job
		max int
	}
	var primed []saved
	for _, name := range s.order {
		j, ok := s.container.Job(name)
		if !ok {
			continue
		}
		if j.Status() != status.Failed && j.Status() != status.Cancelled {
			continue
		}
		primed = append(primed, saved{j: j, max: j.MaxRetries()})
		j.SetMaxRetries(1)
		j.SetNRetries(0)
	}
	return func() {
		for _, p := range primed {
			p.j.SetMaxRetries(p.max)
		}
	}, nil
}

// submitJobs makes one submission pass over the declaration-ordered job
// list: refresh status, retry failures, check readiness and caps, retype
// under local_dynamic, submit.
func (s *Scheduler) submitJobs(ctx context.Context, ignoreMaxRetries bool) error {
	timer := startTick()
	defer func() { s.metrics.submitDuration.Observe(timer.elapsed().Seconds()) }()

	for _, name := range s.order {
		j, ok := s.container.Job(name)
		if !ok {
			continue
		}

		if _, err := j.GetStatus(ctx, false, false); err != nil {
			return err
		}
		s.container.UpdateJobStatus(j)
		s.reportIfTerminal(j)

		if s.opts.RunMax > 0 && s.container.Count(status.Running) >= s.opts.RunMax {
			continue
		}

		if j.Status() == status.Failed || j.Status() == status.Cancelled {
			if err := j.Retry(ctx, false, true, ignoreMaxRetries, nil); err != nil {
				if _, isConfig := err.(*corerr.ConfigError); isConfig {
					s.log.V(1).Info("retry refused", "job", name, "reason", err.Error())
				} else {
					return err
				}
			}
			s.container.UpdateJobStatus(j)
			s.reportIfTerminal(j)
		}

		if j.Status() != status.Configured {
			continue
		}

		ready, err := s.resolver.IsReady(ctx, j)
		if err != nil {
			return err
		}
		s.container.UpdateJobStatus(j)
		if !ready {
			continue
		}

		if s.opts.LocalDynamic && j.Type() != status.Local && s.container.LocalCount() < s.opts.LocalMax {
			if err := j.SetType(status.Local); err != nil {
				return err
			}
			s.container.UpdateTags(j)
		}

		if _, err := j.Submit(ctx); err != nil {
			s.log.Error(err, "job submission failed", "job", name)
			continue
		}
		s.container.UpdateJobStatus(j)
		if id := j.JobID(); id != nil {
			s.container.AddID(*id, j.Name())
		}
	}
	return nil
}

// drain is the scheduler-side half of the Listener contract: for every
// listener, consult its latest payload (if any) and apply property
// writes to every matching PASSIVE job.
func (s *Scheduler) drain() {
	for _, l := range s.listeners {
		payload, ok := l.Drain()
		if !ok {
			continue
		}
		for _, j := range s.container.All() {
			if j.Status() != l.TargetStatus() {
				continue
			}
			if j.Mode(l.TargetStatus()) == status.Active {
				continue
			}

			key, ok := j.Property(l.MapProperty())
			values, present := map[string]string(nil), false
			if ok {
				values, present = payload[key]
			}

			if !present {
				s.missingTicks[j.Name()]++
				if l.MaxAttempts() > 0 && s.missingTicks[j.Name()] >= l.MaxAttempts() {
					if fr := l.FailResult(); fr != nil {
						j.ApplyListenerUpdate(fr)
					} else {
						j.ApplyFailResult()
					}
					s.container.UpdateJobStatus(j)
					s.reportIfTerminal(j)
					delete(s.missingTicks, j.Name())
				}
				continue
			}

			delete(s.missingTicks, j.Name())
			j.ApplyListenerUpdate(values)
			s.container.UpdateJobStatus(j)
			s.reportIfTerminal(j)
		}
	}
}

func (s *Scheduler) cancelLocalChildren(ctx context.Context) error {
	for _, j := range s.container.Get(nil, []status.Status{status.Running}) {
		if j.Type() != status.Local {
			continue
		}
		if err := j.Cancel(ctx, false); err != nil {
			return err
		}
		s.container.UpdateJobStatus(j)
		s.reportIfTerminal(j)
	}
	return nil
}

// CancelJobs synchronously cancels every RUNNING job matching the tag
// filter (every RUNNING job when tags is empty), blocking on each backend
// call or child termination before moving on.
func (s *Scheduler) CancelJobs(ctx context.Context, tags []string) error {
	for _, j := range s.container.Get(tags, []status.Status{status.Running}) {
		if err := j.Cancel(ctx, false); err != nil {
			return err
		}
		s.container.UpdateJobStatus(j)
		s.reportIfTerminal(j)
	}
	return nil
}

func (s *Scheduler) cancelAllRunning(ctx context.Context) error {
	return s.CancelJobs(ctx, nil)
}

func (s *Scheduler) reportIfTerminal(j *job.Job) {
	if !j.Status().Terminal() {
		return
	}
	if s.reported[j.Name()] {
		return
	}
	s.reported[j.Name()] = true
	s.metrics.completedTotal.WithLabelValues(j.Status().String()).Inc()
}

func (s *Scheduler) sessionComplete() bool {
	total := s.container.Len()
	done := s.container.Count(status.Success) + s.container.Count(status.Failed) + s.container.Count(status.Cancelled)
	return total > 0 && done == total
}

func (s *Scheduler) updateMetrics() {
	for _, st := range status.All() {
		s.metrics.stateSizes.WithLabelValues(st.String()).Set(float64(s.container.Count(st)))
	}
}

func (s *Scheduler) snapshotView() printer.Snapshot {
	counts := make(map[status.Status]int, len(status.All()))
	for _, st := range status.All() {
		counts[st] = s.container.Count(st)
	}
	return printer.Snapshot{Total: s.container.Len(), Counts: counts}
}

// backendFor returns the Scheduler's configured backend for BATCH jobs,
// or nil for LOCAL: a LOCAL job never holds a Backend reference.
func (s *Scheduler) backendFor(t status.Type) backend.Backend {
	if t == status.Local {
		return nil
	}
	return s.backend
}

func (s *Scheduler) stopListeners() {
	for _, l := range s.listeners {
		l.Stop()
	}
	// A stopped Listener cannot be started again; a later RunJobs starts
	// only the listeners attached after this point.
	s.listeners = nil
}

// Flush persists every dirty job plus the session config immediately,
// for callers outside RunJobs's own tick loop (cmd/batchctl's add-job and
// reset subcommands write one job at a time and need the snapshot durable
// before the process exits).
func (s *Scheduler) Flush() error {
	return s.flushSnapshot()
}

// flushSnapshot persists every dirty job plus the session config, honoring
// opts.DoSnapshot. A nil Store (tests, or DoSnapshot=false at
// construction) makes this a no-op.
func (s *Scheduler) flushSnapshot() error {
	if s.store == nil || !s.opts.DoSnapshot {
		return nil
	}
	for _, name := range s.order {
		j, ok := s.container.Job(name)
		if !ok {
			continue
		}
		if err := s.store.SaveJob(j); err != nil {
			return err
		}
	}
	paths := make([]string, 0, len(s.order))
	for _, name := range s.order {
		paths = append(paths, s.store.JobPath(name))
	}
	return s.store.SaveSession(snapshot.SessionConfig{
		Name:              s.opts.SessionName,
		WorkDir:           s.opts.WorkDir,
		DefaultBackend:    s.opts.DefaultBackend,
		LocalMax:          s.opts.LocalMax,
		LocalDynamic:      s.opts.LocalDynamic,
		RunMax:            s.opts.RunMax,
		Listens:           s.opts.Listens,
		DoSnapshot:        s.opts.DoSnapshot,
		OutputMaxAttempts: s.opts.OutputMaxAttempts,
		JobConfigPaths:    paths,
	})
}

// tickSource returns a channel that fires once per tick and a stop func.
// interval > 0 drives it off a time.Ticker; interval <= 0 drives it off
// stdin lines, for fully interactive sessions.
func (s *Scheduler) tickSource(ctx context.Context, interval time.Duration) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{} // fire once immediately so the first tick isn't delayed

	if interval > 0 {
		ticker := time.NewTicker(interval)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			}
		}()
		return ch, ticker.Stop
	}

	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-done:
				return
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, func() { close(done) }
}
