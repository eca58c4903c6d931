// Package listener implements the background producer side of status
// observation: a polling function feeding a single-slot, overwrite-on-
// backpressure queue that the Scheduler's control goroutine drains once
// per tick. The single-slot property bounds memory when the scheduler
// tick is slower than the listener tick; an unbounded channel would not.
package listener

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// Listener owns one polling source: a backend status poller (target
// status RUNNING, map property "id") or an output-file presence poller
// (target status FINISHED, map property "output").
type Listener struct {
	name         string
	poll         backend.ListenFunc
	interval     time.Duration
	targetStatus status.Status
	mapProperty  string
	maxAttempts  int
	failResult   map[string]string

	log   logr.Logger
	queue chan backend.ListenPayload

	stop chan struct{}
	done chan struct{}
}

// Config describes one Listener.
type Config struct {
	Name         string
	Poll         backend.ListenFunc
	Interval     time.Duration
	TargetStatus status.Status
	MapProperty  string
	MaxAttempts  int
	FailResult   map[string]string
}

// New constructs a stopped Listener; call Start to begin polling.
func New(cfg Config, log logr.Logger) *Listener {
	interval := cfg.Interval
	if interval <= 0 {
		interval = backend.PollInterval
	}
	return &Listener{
		name:         cfg.Name,
		poll:         cfg.Poll,
		interval:     interval,
		targetStatus: cfg.TargetStatus,
		mapProperty:  cfg.MapProperty,
		maxAttempts:  cfg.MaxAttempts,
		failResult:   cfg.FailResult,
		log:          log.WithName("listener").WithValues("listener", cfg.Name),
		queue:        make(chan backend.ListenPayload, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (l *Listener) Name() string                    { return l.name }
func (l *Listener) TargetStatus() status.Status     { return l.targetStatus }
func (l *Listener) MapProperty() string             { return l.mapProperty }
func (l *Listener) MaxAttempts() int                { return l.maxAttempts }
func (l *Listener) FailResult() map[string]string   { return l.failResult }

// Start runs the poll loop in its own goroutine and returns immediately.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop terminates the background task; any unread payload is dropped.
func (l *Listener) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			payload, err := l.poll(ctx)
			if err != nil {
				l.log.Error(err, "poll failed")
				continue
			}
			l.publish(payload)
		}
	}
}

// publish writes payload into the single-slot queue, overwriting any
// value the control thread has not yet drained.
func (l *Listener) publish(payload backend.ListenPayload) {
	select {
	case l.queue <- payload:
		return
	default:
	}
	select {
	case <-l.queue:
	default:
	}
	select {
	case l.queue <- payload:
	default:
	}
}

// Drain non-blockingly takes the latest published payload, if any. The
// Scheduler calls this once per tick, before any submission decisions.
func (l *Listener) Drain() (backend.ListenPayload, bool) {
	select {
	case p := <-l.queue:
		return p, true
	default:
		return nil, false
	}
}
