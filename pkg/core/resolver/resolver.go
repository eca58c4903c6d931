// Package resolver decides whether a job's parents permit submission and
// performs cascade-cancel when a parent fails with retries exhausted. It
// is split out of the scheduler because it is the one piece of
// control-loop logic with an independently testable contract.
package resolver

import (
	"context"
	"time"

	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// Resolver decides whether a CONFIGURED job may be submitted.
type Resolver struct {
	container *container.Container
	localMax  int
	now       func() time.Time
}

// New constructs a Resolver over c, capping LOCAL concurrency at localMax.
func New(c *container.Container, localMax int) *Resolver {
	return &Resolver{container: c, localMax: localMax, now: time.Now}
}

// SetLocalMax replaces the LOCAL concurrency cap that later IsReady calls
// check.
func (r *Resolver) SetLocalMax(n int) { r.localMax = n }

// IsReady reports whether j may be submitted: its start time has passed,
// every parent matched by its parent_tags is SUCCESS, and a LOCAL job
// still fits under the local cap. An undeclared parent_tag is a
// ConfigError, never a silent pass. While evaluating parents, a parent
// stuck in FAILED/CANCELLED with retries exhausted cascade-cancels j
// with clear_retry set; that is the only state change this check makes.
func (r *Resolver) IsReady(ctx context.Context, j *job.Job) (bool, error) {
	if st := j.StartTime(); st != nil && st.After(r.now()) {
		return false, nil
	}

	if len(j.ParentTags()) > 0 {
		parents, err := r.container.ParentsOf(j.ParentTags())
		if err != nil {
			return false, err
		}
		for _, parent := range parents {
			if parent.Status() == status.Success {
				continue
			}
			if parent.Status() == status.Failed || parent.Status() == status.Cancelled {
				if parent.NRetries() >= parent.MaxRetries() {
					if err := j.Cancel(ctx, true); err != nil {
						return false, err
					}
					r.container.UpdateJobStatus(j)
					return false, nil
				}
				// Parent can still retry; wait for it.
				return false, nil
			}
			// Parent still CONFIGURED/RUNNING/FINISHED: not ready yet.
			return false, nil
		}
	}

	if j.Type() == status.Local && r.container.LocalCount() >= r.localMax {
		return false, nil
	}

	return true, nil
}
