package job

import (
	"context"
	"os"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/corerr"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// PredicateKind names which variant a PredicateSpec carries: the default
// exit-code check, an output-file-presence rule, or a caller-supplied
// closure.
type PredicateKind string

const (
	KindDefault    PredicateKind = "default"
	KindOutputFile PredicateKind = "output_file"
	KindCustom     PredicateKind = "custom"
)

// PredicateSpec is the serializable half of a predicate: enough to
// reconstruct a Default or OutputFile predicate on snapshot reload. A
// UserCustom predicate's closure is never serialized: reload degrades it
// to KindDefault and callers that need the custom behavior back must
// re-attach it themselves, the same way the snapshot protocol breaks the
// backend-adapter cycle by re-linking at reload.
type PredicateSpec struct {
	Kind        PredicateKind `yaml:"kind"`
	Path        string        `yaml:"path,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
}

// FinishedPredicate decides whether a RUNNING BATCH job in ACTIVE mode
// has moved past "process done" and may transition to FINISHED.
type FinishedPredicate interface {
	Evaluate(ctx context.Context, j *Job) (bool, error)
}

// SuccessPredicate decides the FINISHED→{SUCCESS,FAILED} verdict.
type SuccessPredicate interface {
	Evaluate(ctx context.Context, j *Job) (bool, error)
}

// PostHook runs once on entry into a terminal status; pure side effect.
type PostHook interface {
	Apply(j *Job)
}

// defaultFinished asks the backend directly; this is what a BATCH job with
// no finished_func uses.
type defaultFinished struct{}

func (defaultFinished) Evaluate(ctx context.Context, j *Job) (bool, error) {
	if j.backend == nil || j.cfg.JobID == nil {
		return false, corerr.NewConfigError(j.cfg.Name, "job_id", "finished check requires a submitted batch job")
	}
	state, err := j.backend.Status(ctx, *j.cfg.JobID)
	if err != nil {
		return false, corerr.NewBackendError(j.cfg.Name, "status", err)
	}
	return state == backend.Done, nil
}

// outputFilePresent is both a FinishedPredicate and a SuccessPredicate: its
// job carries an output path and this checks for the file's existence. In
// PASSIVE mode (the common case, set automatically when an output path is
// declared) the scheduler never calls Evaluate directly; a Listener
// supplies the verdict instead. Evaluate still works standalone for
// ACTIVE/test-mode use.
type outputFilePresent struct {
	path        string
	maxAttempts int
}

func (o outputFilePresent) Evaluate(_ context.Context, _ *Job) (bool, error) {
	_, err := os.Stat(o.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// defaultExitCodeSuccess compares the job's exit code against the
// zero/success verdict: exitcode == 0 for LOCAL, exitcode == the
// backend's success code for BATCH.
type defaultExitCodeSuccess struct{}

func (defaultExitCodeSuccess) Evaluate(ctx context.Context, j *Job) (bool, error) {
	code, err := j.resolveExitCode(ctx)
	if err != nil {
		return false, err
	}
	if j.cfg.Type == status.Local {
		return code == "0", nil
	}
	if j.backend == nil {
		return false, corerr.NewConfigError(j.cfg.Name, "type", "batch job has no backend attached")
	}
	return code == j.backend.SuccessCode(), nil
}

// UserCustomFinished wraps a caller-supplied finished predicate. Never
// serialized; see PredicateSpec.
type UserCustomFinished struct {
	Fn func(ctx context.Context, j *Job) (bool, error)
}

func (u UserCustomFinished) Evaluate(ctx context.Context, j *Job) (bool, error) {
	ok, err := u.Fn(ctx, j)
	if err != nil {
		return false, corerr.NewPredicateError(j.cfg.Name, "finished_func", err)
	}
	return ok, nil
}

// UserCustomSuccess wraps a caller-supplied success predicate.
type UserCustomSuccess struct {
	Fn func(ctx context.Context, j *Job) (bool, error)
}

func (u UserCustomSuccess) Evaluate(ctx context.Context, j *Job) (bool, error) {
	ok, err := u.Fn(ctx, j)
	if err != nil {
		return false, corerr.NewPredicateError(j.cfg.Name, "success_func", err)
	}
	return ok, nil
}

// UserCustomPost wraps a caller-supplied post hook.
type UserCustomPost struct {
	Fn func(j *Job)
}

func (u UserCustomPost) Apply(j *Job) { u.Fn(j) }

// buildFinished reconstructs a FinishedPredicate from a spec. Used both at
// construction time and on snapshot reload.
func buildFinished(spec PredicateSpec) FinishedPredicate {
	switch spec.Kind {
	case KindOutputFile:
		return outputFilePresent{path: spec.Path, maxAttempts: spec.MaxAttempts}
	default:
		return defaultFinished{}
	}
}

// buildSuccess reconstructs a SuccessPredicate from a spec.
func buildSuccess(spec PredicateSpec) SuccessPredicate {
	switch spec.Kind {
	case KindOutputFile:
		return outputFilePresent{path: spec.Path, maxAttempts: spec.MaxAttempts}
	default:
		return defaultExitCodeSuccess{}
	}
}
