// Package job implements a single job's persistent configuration, its
// state machine, and, for LOCAL jobs, the detached child process that
// backs it.
package job

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/batchctl/batchctl/backend/local"
	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/corerr"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// ValidateName rejects names that are not plain identifiers: no '.', '-',
// '/', or whitespace.
func ValidateName(name string) error {
	if name == "" {
		return corerr.NewConfigError(name, "name", "name must not be empty")
	}
	if strings.ContainsAny(name, "./- \t\n\r") {
		return corerr.NewConfigError(name, "name", "name must not contain '.', '-', '/', or whitespace")
	}
	return nil
}

// Config is a Job's persistent, serializable state, one YAML document per
// job under snapshot/<name>.yaml.
type Config struct {
	Name       string   `yaml:"name"`
	ScriptPath string   `yaml:"script_path"`
	Args       []string `yaml:"args,omitempty"`

	Tags       []string `yaml:"tags,omitempty"`
	ParentTags []string `yaml:"parent_tags,omitempty"`

	FinishedSpec PredicateSpec `yaml:"finished_spec"`
	SuccessSpec  PredicateSpec `yaml:"success_spec"`
	HasPostHook  bool          `yaml:"has_post_hook,omitempty"`

	MaxRetries int `yaml:"max_retries"`
	NRetries   int `yaml:"n_retries"`

	OutputPath string `yaml:"output_path,omitempty"`

	Type      status.Type                    `yaml:"type"`
	Modes     map[status.Status]status.Mode  `yaml:"modes"`
	Status    status.Status                  `yaml:"status"`
	JobID     *string                        `yaml:"job_id,omitempty"`
	ExitCode  *string                        `yaml:"exitcode,omitempty"`
	StartTime *time.Time                     `yaml:"starttime,omitempty"`
}

// Job owns one job's Config plus the runtime handles a Config cannot
// serialize: the backend it submits through, its predicate/post-hook
// implementations, and, for LOCAL jobs, its live child process.
//
// Only a Job's own methods ever mutate its Config; Container reads
// Status()/Tags() after calling one of these methods and moves the job
// between state buckets, but never writes into it directly.
type Job struct {
	cfg Config
	log logr.Logger

	backend  backend.Backend
	finished FinishedPredicate
	success  SuccessPredicate
	post     PostHook

	proc    *local.Process
	logPath string

	hookFired bool
	isDirty   bool
}

// Params constructs a new Job. Backend is nil for a job whose Type is
// LOCAL, or not yet decided: local_dynamic may retype a CONFIGURED BATCH
// job later.
type Params struct {
	Config            Config
	Logger            logr.Logger
	Backend           backend.Backend
	FinishedPredicate FinishedPredicate
	SuccessPredicate  SuccessPredicate
	PostHook          PostHook
	LogPath           string
}

// New validates and constructs a Job, wiring default predicates from the
// Config's specs when no override is supplied.
func New(p Params) (*Job, error) {
	if err := ValidateName(p.Config.Name); err != nil {
		return nil, err
	}
	cfg := p.Config
	if cfg.Modes == nil {
		cfg.Modes = status.DefaultModes()
	}

	fin := p.FinishedPredicate
	if fin == nil {
		fin = buildFinished(cfg.FinishedSpec)
	}
	succ := p.SuccessPredicate
	if succ == nil {
		succ = buildSuccess(cfg.SuccessSpec)
	}

	return &Job{
		cfg:      cfg,
		log:      p.Logger,
		backend:  p.Backend,
		finished: fin,
		success:  succ,
		post:     p.PostHook,
		logPath:  p.LogPath,
		isDirty:  true, // not yet on disk
	}, nil
}

func (j *Job) Name() string             { return j.cfg.Name }
func (j *Job) Status() status.Status    { return j.cfg.Status }
func (j *Job) Type() status.Type        { return j.cfg.Type }
func (j *Job) Tags() []string           { return j.cfg.Tags }
func (j *Job) ParentTags() []string     { return j.cfg.ParentTags }
func (j *Job) MaxRetries() int          { return j.cfg.MaxRetries }
func (j *Job) NRetries() int            { return j.cfg.NRetries }
func (j *Job) Dirty() bool              { return j.isDirty }
func (j *Job) StartTime() *time.Time    { return j.cfg.StartTime }
func (j *Job) JobID() *string           { return j.cfg.JobID }

// Snapshot returns a copy of the persistent Config, for the snapshot
// package to encode.
func (j *Job) Snapshot() Config { return j.cfg }

// SetMaxRetries lets the Scheduler implement its retry-on-start policy:
// temporarily force max_retries=1 on every FAILED/CANCELLED job, then
// restore the original value at loop exit.
func (j *Job) SetMaxRetries(n int) {
	j.cfg.MaxRetries = n
	j.markDirty()
}

// SetStartTime records the earliest-submit timestamp consulted by
// resolver.IsReady.
func (j *Job) SetStartTime(t time.Time) {
	j.cfg.StartTime = &t
	j.markDirty()
}

// SetNRetries zeroes the retry counter alongside the temporary
// max_retries=1 of the retry-on-start policy, so the normal retry path
// fires exactly once per job.
func (j *Job) SetNRetries(n int) {
	j.cfg.NRetries = n
	j.markDirty()
}

// Property looks up a job attribute by the name a Listener's MapProperty
// names ("id", "output", "name").
func (j *Job) Property(name string) (string, bool) {
	switch name {
	case "id":
		if j.cfg.JobID != nil {
			return *j.cfg.JobID, true
		}
		return "", false
	case "output":
		return j.cfg.OutputPath, j.cfg.OutputPath != ""
	case "name":
		return j.cfg.Name, true
	default:
		return "", false
	}
}

// Mode returns the configured Mode for a given Status.
func (j *Job) Mode(s status.Status) status.Mode {
	if m, ok := j.cfg.Modes[s]; ok {
		return m
	}
	return status.Active
}

func (j *Job) markDirty() { j.isDirty = true }

// MarkClean clears the dirty flag; called by the snapshot package after a
// successful write.
func (j *Job) MarkClean() { j.isDirty = false }

// SetType fails unless the job is CONFIGURED: once a job has run, its
// type never changes again short of a reset.
func (j *Job) SetType(t status.Type) error {
	if j.cfg.Status != status.Configured {
		return corerr.NewConfigError(j.cfg.Name, "type", "type may only be set while CONFIGURED")
	}
	j.cfg.Type = t
	j.markDirty()
	return nil
}

// Submit moves a CONFIGURED job to RUNNING: for LOCAL, spawns a detached
// child process; for BATCH, calls Backend.Submit.
func (j *Job) Submit(ctx context.Context) (status.Status, error) {
	if j.cfg.Status != status.Configured {
		return j.cfg.Status, corerr.NewConfigError(j.cfg.Name, "status", "submit attempted outside CONFIGURED")
	}

	switch j.cfg.Type {
	case status.Local:
		proc, err := local.Start(ctx, j.cfg.ScriptPath, j.cfg.Args)
		if err != nil {
			return j.cfg.Status, corerr.NewBackendError(j.cfg.Name, "local_start", err)
		}
		j.proc = proc
	case status.Batch:
		if j.backend == nil {
			return j.cfg.Status, corerr.NewConfigError(j.cfg.Name, "type", "batch job has no backend attached")
		}
		id, err := j.backend.Submit(ctx, j.cfg.ScriptPath, backend.ScriptSpec{
			Name: j.cfg.Name,
			Args: j.cfg.Args,
		})
		if err != nil {
			return j.cfg.Status, corerr.NewBackendError(j.cfg.Name, "submit", err)
		}
		j.cfg.JobID = &id
	default:
		return j.cfg.Status, corerr.NewConfigError(j.cfg.Name, "type", fmt.Sprintf("unknown job type %q", j.cfg.Type))
	}

	j.cfg.Status = status.Running
	j.markDirty()
	j.log.V(1).Info("job submitted", "job", j.cfg.Name, "type", j.cfg.Type)
	return j.cfg.Status, nil
}

// Cancel moves a RUNNING job to CANCELLED; a no-op on FAILED. clearRetry
// zeroes max_retries so the scheduler's retry policy never resurrects this
// job; cascade-cancel sets it.
func (j *Job) Cancel(ctx context.Context, clearRetry bool) error {
	if j.cfg.Status == status.Failed {
		if clearRetry {
			j.cfg.MaxRetries = 0
			j.markDirty()
		}
		return nil
	}

	if j.cfg.Status == status.Running {
		switch j.cfg.Type {
		case status.Local:
			if j.proc != nil {
				if err := j.proc.Cancel(); err != nil {
					return corerr.NewBackendError(j.cfg.Name, "local_cancel", err)
				}
			}
		case status.Batch:
			if j.backend != nil && j.cfg.JobID != nil {
				if err := j.backend.Cancel(ctx, *j.cfg.JobID); err != nil {
					return corerr.NewBackendError(j.cfg.Name, "cancel", err)
				}
			}
		}
	}

	if clearRetry {
		j.cfg.MaxRetries = 0
	}
	j.enterTerminal(status.Cancelled)
	return nil
}

// Reset wipes live state back to CONFIGURED: clears exitcode/job_id,
// removes the log file, and optionally zeroes n_retries.
func (j *Job) Reset(resetRetries bool) error {
	j.cfg.Status = status.Configured
	j.cfg.ExitCode = nil
	j.cfg.JobID = nil
	if resetRetries {
		j.cfg.NRetries = 0
	}
	j.proc = nil
	j.hookFired = false

	if j.logPath != "" {
		if err := os.Remove(j.logPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("job %q: remove log file: %w", j.cfg.Name, err)
		}
	}
	j.markDirty()
	return nil
}

// Retry is the internal retry path driven by the Scheduler's
// FAILED/CANCELLED handling. It no-ops when retries are exhausted,
// refuses to touch a RUNNING job unless force is set, then resets
// (preserving n_retries), increments n_retries, optionally retypes,
// and optionally resubmits.
func (j *Job) Retry(ctx context.Context, force, submit, ignoreMaxRetries bool, newType *status.Type) error {
	if !ignoreMaxRetries && j.cfg.NRetries >= j.cfg.MaxRetries {
		return nil
	}
	if j.cfg.Status == status.Running && !force {
		return corerr.NewConfigError(j.cfg.Name, "status", "refusing to retry a running job without force")
	}

	if err := j.Reset(false); err != nil {
		return err
	}
	j.cfg.NRetries++

	if newType != nil {
		if err := j.SetType(*newType); err != nil {
			return err
		}
	}
	j.markDirty()

	if submit {
		if _, err := j.Submit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus is the state-advancing query driving the RUNNING to FINISHED
// and FINISHED to SUCCESS/FAILED transitions.
func (j *Job) GetStatus(ctx context.Context, skipEval, forceSuccessCheck bool) (status.Status, error) {
	switch j.cfg.Status {
	case status.Running:
		if skipEval {
			return j.cfg.Status, nil
		}
		return j.evaluateRunning(ctx)
	case status.Finished:
		if !forceSuccessCheck && j.Mode(status.Finished) == status.Passive {
			return j.cfg.Status, nil
		}
		return j.evaluateFinished(ctx)
	default:
		return j.cfg.Status, nil
	}
}

func (j *Job) evaluateRunning(ctx context.Context) (status.Status, error) {
	if j.cfg.Type == status.Local {
		if j.proc == nil {
			return j.cfg.Status, corerr.NewConfigError(j.cfg.Name, "status", "running local job has no process handle")
		}
		if j.proc.Poll() {
			return j.cfg.Status, nil
		}
		code := strconv.Itoa(j.proc.ExitCode())
		j.cfg.ExitCode = &code
		j.cfg.Status = status.Finished
		j.markDirty()
		return j.cfg.Status, nil
	}

	if j.Mode(status.Running) == status.Passive {
		return j.cfg.Status, nil
	}

	done, err := j.finished.Evaluate(ctx, j)
	if err != nil {
		return j.cfg.Status, err
	}
	if done {
		j.cfg.Status = status.Finished
		j.markDirty()
	}
	return j.cfg.Status, nil
}

func (j *Job) evaluateFinished(ctx context.Context) (status.Status, error) {
	ok, err := j.success.Evaluate(ctx, j)
	if err != nil {
		return j.cfg.Status, err
	}
	if ok {
		j.enterTerminal(status.Success)
	} else {
		j.enterTerminal(status.Failed)
	}
	return j.cfg.Status, nil
}

// resolveExitCode returns the job's exit code, lazily fetching it from the
// backend if it is still nil after a transition to a terminal status.
func (j *Job) resolveExitCode(ctx context.Context) (string, error) {
	if j.cfg.ExitCode != nil {
		return *j.cfg.ExitCode, nil
	}
	if j.cfg.Type == status.Local {
		return "", corerr.NewConfigError(j.cfg.Name, "exitcode", "local job exit code not yet available")
	}
	if j.backend == nil || j.cfg.JobID == nil {
		return "", corerr.NewConfigError(j.cfg.Name, "exitcode", "batch job has no backend/job id to query")
	}
	code, err := j.backend.ExitCode(ctx, *j.cfg.JobID)
	if err != nil {
		return "", corerr.NewBackendError(j.cfg.Name, "exitcode", err)
	}
	j.cfg.ExitCode = &code
	j.markDirty()
	return code, nil
}

// enterTerminal transitions into a terminal status and fires the
// completion hook exactly once.
func (j *Job) enterTerminal(s status.Status) {
	j.cfg.Status = s
	j.markDirty()
	j.fireCompletionHook()
}

func (j *Job) fireCompletionHook() {
	if j.hookFired {
		return
	}
	j.hookFired = true

	if j.post != nil {
		j.post.Apply(j)
	}
	if j.cfg.Type == status.Local && j.proc != nil {
		if j.logPath != "" {
			if err := j.proc.FlushLog(j.logPath); err != nil {
				j.log.Error(err, "failed to flush local job log", "job", j.cfg.Name)
			}
		}
		j.proc = nil
	}
}

// ApplyListenerUpdate applies a Listener-observed property write: every
// key/value pair in the payload lands on the job. Only called by the
// scheduler's drain step, and only for a job in PASSIVE mode for its
// current status.
func (j *Job) ApplyListenerUpdate(values map[string]string) {
	if v, ok := values["exitcode"]; ok {
		j.cfg.ExitCode = &v
		j.markDirty()
	}
	if v, ok := values["status"]; ok {
		switch strings.ToUpper(v) {
		case "FINISHED":
			j.cfg.Status = status.Finished
			j.markDirty()
		case "SUCCESS":
			j.enterTerminal(status.Success)
		case "FAILED":
			j.enterTerminal(status.Failed)
		case "RUNNING":
			j.cfg.Status = status.Running
			j.markDirty()
		}
	}
}

// ResurrectStaleLocal handles a LOCAL job decoded from a snapshot in
// RUNNING status: its child process did not survive the controlling
// process, so it is moved straight to CANCELLED rather than left RUNNING
// forever. No-op for anything but a RUNNING LOCAL job. Only the snapshot
// reload path calls this, before the job is ever ticked.
func (j *Job) ResurrectStaleLocal() {
	if j.cfg.Type != status.Local || j.cfg.Status != status.Running {
		return
	}
	j.cfg.ExitCode = nil
	j.enterTerminal(status.Cancelled)
}

// ApplyFailResult forces a terminal FAILED verdict when a Listener's
// MaxAttempts has been exhausted without an observed update.
func (j *Job) ApplyFailResult() {
	j.enterTerminal(status.Failed)
}
