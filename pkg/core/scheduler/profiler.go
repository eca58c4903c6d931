package scheduler

import "time"

// tickTimer is a trivial wall-clock stopwatch around one submit pass; its
// one reading feeds the submission-latency histogram.
type tickTimer struct{ start time.Time }

func startTick() tickTimer { return tickTimer{start: time.Now()} }

func (t tickTimer) elapsed() time.Duration { return time.Since(t.start) }
