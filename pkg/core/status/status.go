// Package status defines the job status model shared by every core
// component: the totally ordered Status enum, the BATCH/LOCAL job Type, and
// the per-status Mode (ACTIVE/PASSIVE) that governs whether a Job evaluates
// its own transitions or waits for a Listener.
package status

import "fmt"

// Status is a job's position in its lifecycle. The numeric value is part of
// the contract: callers compare statuses with < and >= to ask "has this job
// moved past X yet", so the ordering below must never change.
type Status int

const (
	Configured Status = iota
	Running
	Finished
	Success
	Failed
	Cancelled
)

// terminal reports whether a status only changes via an explicit reset or
// retry.
func (s Status) terminal() bool {
	return s == Success || s == Failed || s == Cancelled
}

// Terminal reports whether s is one of SUCCESS, FAILED, CANCELLED.
func (s Status) Terminal() bool { return s.terminal() }

func (s Status) String() string {
	switch s {
	case Configured:
		return "CONFIGURED"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// All lists every status in lifecycle order; JobContainer uses it to seed
// its state-bucket index so the partition invariant holds from the start.
func All() []Status {
	return []Status{Configured, Running, Finished, Success, Failed, Cancelled}
}

// Type distinguishes where a job actually executes.
type Type string

const (
	Batch Type = "batch"
	Local Type = "local"
)

// Mode says whether a Job evaluates its own transition out of a status
// (Active) or waits for a Listener to write the transition for it (Passive).
type Mode string

const (
	Active  Mode = "active"
	Passive Mode = "passive"
)

// DefaultModes returns the default mode map: everything ACTIVE. Callers
// (JobConfig construction) flip RUNNING to PASSIVE when the session runs in
// listen-mode, and FINISHED to PASSIVE when an output-file success rule is
// used without a custom success predicate.
func DefaultModes() map[Status]Mode {
	return map[Status]Mode{
		Configured: Active,
		Running:    Active,
		Finished:   Active,
		Success:    Active,
		Failed:     Active,
		Cancelled:  Active,
	}
}
