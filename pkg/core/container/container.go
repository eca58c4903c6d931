// Package container implements the in-memory compound index over Jobs
// that every other core component reads through: by name, by backend id,
// by tag, and by status bucket.
package container

import (
	"context"
	"fmt"
	"sort"

	"github.com/batchctl/batchctl/pkg/core/corerr"
	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// Container is the session's job registry. It is owned exclusively by
// the scheduler's control goroutine: nothing here is safe for concurrent
// access.
type Container struct {
	jobs   map[string]*job.Job
	states map[status.Status]tagset // bucket -> set of job names
	tags   map[string][]*job.Job
	ids    map[string]string // backend id -> job name
	local  tagset             // names of LOCAL jobs occupying a concurrency slot

	nameGen *NameGenerator
}

// New constructs an empty Container with its status buckets pre-seeded,
// so every job always sits in exactly one bucket from the start.
func New(nameGen *NameGenerator) *Container {
	c := &Container{
		jobs:    make(map[string]*job.Job),
		states:  make(map[status.Status]tagset),
		tags:    make(map[string][]*job.Job),
		ids:     make(map[string]string),
		local:   newTagset(),
		nameGen: nameGen,
	}
	for _, s := range status.All() {
		c.states[s] = newTagset()
	}
	return c
}

// Add inserts a newly constructed Job into every index. Name collisions
// are only resolvable for jobs created with an auto-assigned name (the
// caller re-rolls via NextName); an explicit, already-colliding name is a
// ConfigError.
func (c *Container) Add(j *job.Job, autoNamed bool) error {
	name := j.Name()
	if _, exists := c.jobs[name]; exists {
		if !autoNamed {
			return corerr.NewConfigError(name, "name", "job name already in use")
		}
		return corerr.NewConfigError(name, "name", "auto-generated name collided; caller must retry with NameGenerator.Next")
	}

	// Parent-tag existence is not checked here: a parent_tag may name a
	// job added later in the same session, so it is only an error at
	// readiness-check time, not at Add time.

	c.jobs[name] = j
	c.states[j.Status()].add(name)
	for _, tag := range j.Tags() {
		c.tags[tag] = append(c.tags[tag], j)
	}
	if j.Type() == status.Local && j.Status() == status.Running {
		c.local.add(name)
	}
	return nil
}

// AddID registers a backend-assigned id for name, so a Listener, which
// only ever sees backend ids, can resolve them back to a Job.
func (c *Container) AddID(backendID, name string) {
	c.ids[backendID] = name
}

// ResolveID looks up the job name for a backend id.
func (c *Container) ResolveID(backendID string) (string, bool) {
	name, ok := c.ids[backendID]
	return name, ok
}

// Get returns jobs matching the union of tags and the union of states. A
// nil/empty tags or states argument matches everything on that axis.
func (c *Container) Get(tags []string, states []status.Status) []*job.Job {
	var candidateNames tagset
	if len(states) == 0 {
		candidateNames = newTagset()
		for _, bucket := range c.states {
			for name := range bucket {
				candidateNames.add(name)
			}
		}
	} else {
		candidateNames = newTagset()
		for _, s := range states {
			for name := range c.states[s] {
				candidateNames.add(name)
			}
		}
	}

	result := make([]*job.Job, 0, len(candidateNames))
	for name := range candidateNames {
		j := c.jobs[name]
		if j == nil {
			continue
		}
		if len(tags) > 0 && !newTagset(j.Tags()...).union(tags) {
			continue
		}
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name() < result[k].Name() })
	return result
}

// All returns every job, in a stable name-sorted order. The Scheduler
// keeps its own declaration-order list for submission; most read paths
// (Printer, tests) just want a deterministic sweep.
func (c *Container) All() []*job.Job {
	return c.Get(nil, nil)
}

// Job looks up a job by name.
func (c *Container) Job(name string) (*job.Job, bool) {
	j, ok := c.jobs[name]
	return j, ok
}

// Count returns the number of jobs currently in bucket s.
func (c *Container) Count(s status.Status) int {
	return len(c.states[s])
}

// Len returns the total number of jobs in the container.
func (c *Container) Len() int { return len(c.jobs) }

// LocalCount returns the number of LOCAL jobs currently occupying a
// concurrency slot, checked against local_max by resolver.IsReady.
func (c *Container) LocalCount() int { return len(c.local) }

// UpdateJobStatus is the only way a job moves between state buckets:
// it removes name from every bucket, then re-inserts it
// into its current (post-call) status, and keeps the local-slot set in
// sync. Callers invoke a Job method first (Submit/Cancel/GetStatus/...)
// and then call this to fold the resulting status into the index.
func (c *Container) UpdateJobStatus(j *job.Job) {
	name := j.Name()
	for _, bucket := range c.states {
		bucket.remove(name)
	}
	c.states[j.Status()].add(name)

	if j.Type() == status.Local {
		if j.Status() == status.Running {
			c.local.add(name)
		} else {
			c.local.remove(name)
		}
	}
}

// UpdateTags keeps the LOCAL concurrency-slot set in sync when a job's
// type changes dynamically (local_dynamic retyping).
// Retyping is only legal while CONFIGURED, so this never needs to touch
// the status buckets, only local-slot membership, which UpdateJobStatus
// will also true up the moment the job actually submits.
func (c *Container) UpdateTags(j *job.Job) {
	if j.Type() == status.Local && j.Status() == status.Running {
		c.local.add(j.Name())
	} else {
		c.local.remove(j.Name())
	}
}

// ParentsOf returns every job carrying any of parentTags, the candidate
// parent set the resolver checks for SUCCESS.
func (c *Container) ParentsOf(parentTags []string) ([]*job.Job, error) {
	var out []*job.Job
	seen := newTagset()
	for _, tag := range parentTags {
		parents, ok := c.tags[tag]
		if !ok {
			return nil, corerr.NewConfigError("", tag, fmt.Sprintf("parent_tag %q is not declared by any job", tag))
		}
		for _, p := range parents {
			if seen.has(p.Name()) {
				continue
			}
			seen.add(p.Name())
			out = append(out, p)
		}
	}
	return out, nil
}

// NextName resolves a collision-free name for a job added without an
// explicit one.
func (c *Container) NextName() string {
	cycle := 0
	for {
		candidate := c.nameGen.Next(cycle)
		if _, exists := c.jobs[candidate]; !exists {
			return candidate
		}
		cycle++
	}
}

// Refresh calls GetStatus on every job and folds the result into the
// index. The scheduler does not call it; its submission pass refreshes
// and re-indexes each job itself.
func (c *Container) Refresh(ctx context.Context) error {
	for _, j := range c.All() {
		if _, err := j.GetStatus(ctx, false, false); err != nil {
			return err
		}
		c.UpdateJobStatus(j)
	}
	return nil
}
