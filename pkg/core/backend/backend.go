// Package backend defines the seam between the orchestration core and a
// concrete batch-execution system (an HPC scheduler, a container
// executor, ...). Concrete adapters live outside pkg/core; this package
// only specifies the contract a Job/Scheduler calls through.
package backend

import (
	"context"
	"time"
)

// RunState is the coarse, backend-agnostic verdict of Status(): a BATCH job
// is either still running or it is not. The finer SUCCESS/FAILED verdict is
// decided by the core from ExitCode against SuccessCode, never by the
// backend directly.
type RunState int

const (
	StillRunning RunState = iota
	Done
)

// ScriptSpec carries everything an adapter needs to materialise and submit
// one job's run-script. It intentionally holds no reference to pkg/core/job
// types: the core depends on Backend, never the other way around.
type ScriptSpec struct {
	// Name is the job's unique name; adapters use it to derive a
	// backend-side resource/job name.
	Name string

	// Body is the already-parsed script text (tokens substituted, status
	// markers rewritten) to write to disk.
	Body string

	// Args is an optional argv tail appended to the script invocation.
	Args []string

	// Wrapper, if set, wraps Body with a fixed prelude (module loads,
	// environment setup) before it is written.
	Wrapper func(body string) string

	// Labels are free-form adapter metadata (e.g. Kubernetes labels)
	// derived from the job's tags; adapters that don't need them ignore
	// this field.
	Labels map[string]string
}

// ListenPayload is what a Listener's poll function produces on each tick:
// a mapping from a backend-observed key (a backend id, or an output path)
// to the property values observed for it. The Listener does not
// interpret these values; the scheduler drain step does, keyed by the
// job's configured map property.
type ListenPayload map[string]map[string]string

// ListenFunc is a single poll of an external source. It must be cheap and
// non-blocking-for-long: the scheduler calls it from the single control
// thread's listener goroutine on a fixed interval.
type ListenFunc func(ctx context.Context) (ListenPayload, error)

// Backend is the contract a Job (for BATCH jobs) and a Listener call
// through. Exactly one Backend instance typically backs all BATCH jobs in
// a session, but nothing here assumes that.
type Backend interface {
	// WriteScript materialises spec.Body, passed through spec.Wrapper when
	// set, to a run-script under dir and returns its path. ScriptSpec
	// carries script text only, so there is no on-disk source to copy, and
	// this contract adds no shebang of its own.
	WriteScript(dir string, spec ScriptSpec) (path string, err error)

	// Submit submits the already-written script and returns a
	// backend-assigned id.
	Submit(ctx context.Context, scriptPath string, spec ScriptSpec) (id string, err error)

	// Cancel cancels a previously submitted job.
	Cancel(ctx context.Context, id string) error

	// Status distinguishes "still running" from "finished" for id.
	Status(ctx context.Context, id string) (RunState, error)

	// ExitCode returns the backend-native exit code string (e.g. "0:0").
	ExitCode(ctx context.Context, id string) (string, error)

	// GetListenFunc returns a polling function producing
	// {id -> {status, exitcode, ...}} for every job this backend knows
	// about. May return nil if the backend has no out-of-band channel
	// (e.g. it only supports ACTIVE polling).
	GetListenFunc() ListenFunc

	// SuccessCode is the backend-native exit code string compared against
	// ExitCode() for the default success verdict.
	SuccessCode() string

	// Commands lists executables that must be present on PATH; their
	// absence triggers the backend-unavailable / test-mode policy.
	Commands() []string

	// Name identifies the backend for logging and metrics.
	Name() string
}

// PollInterval is the default interval a Listener uses for ListenFunc calls
// that do not carry their own cadence; concrete Listener construction may
// override it.
const PollInterval = 5 * time.Second
