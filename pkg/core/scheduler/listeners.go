package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/listener"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// AttachBackendListener wires s.backend's GetListenFunc (when non-nil) as
// the poll source for every BATCH job in PASSIVE RUNNING mode: target
// status RUNNING, map property "id".
func (s *Scheduler) AttachBackendListener(interval time.Duration) {
	if s.backend == nil {
		return
	}
	poll := s.backend.GetListenFunc()
	if poll == nil {
		return
	}
	s.AttachListeners(listener.New(listener.Config{
		Name:         s.backend.Name(),
		Poll:         poll,
		Interval:     interval,
		TargetStatus: status.Running,
		MapProperty:  "id",
	}, s.log))
}

// AttachOutputListener adds an output-file presence poller: target status
// FINISHED, map property "output". File presence is local filesystem
// state, not something any Backend reports, so the poll source is os.Stat
// over the declared output paths. Call this after every job has been
// added: the path set is captured here, because the polling goroutine
// must not read the container the control goroutine owns.
func (s *Scheduler) AttachOutputListener(interval time.Duration, maxAttempts int) {
	s.AttachListeners(listener.New(listener.Config{
		Name:         "output-file",
		Poll:         s.outputPollFunc(),
		Interval:     interval,
		TargetStatus: status.Finished,
		MapProperty:  "output",
		MaxAttempts:  maxAttempts,
		FailResult:   map[string]string{"status": "FAILED"},
	}, s.log))
}

func (s *Scheduler) outputPollFunc() backend.ListenFunc {
	var paths []string
	for _, j := range s.container.All() {
		if path, ok := j.Property("output"); ok {
			paths = append(paths, path)
		}
	}
	return func(ctx context.Context) (backend.ListenPayload, error) {
		payload := backend.ListenPayload{}
		for _, path := range paths {
			if _, err := os.Stat(path); err == nil {
				payload[path] = map[string]string{"status": "SUCCESS"}
			}
		}
		return payload, nil
	}
}
