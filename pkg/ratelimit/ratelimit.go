// Package ratelimit paces batchctl's calls to a backend control plane.
//
// A scheduler tick can fan out one API call per job (submit, cancel,
// status poll), and a listener adds a list call on top of that. Over a
// large session an unpaced tick is a thundering herd against the
// backend's API server, so every outbound call goes through a Pacer: a
// floor between consecutive calls, a cap on in-flight calls, and
// exponential suspension while the server is shedding load.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config tunes a Pacer. One Pacer serves one backend client; the
// adapter that owns the client picks the numbers (backend/k8sjob carries
// its own defaults).
type Config struct {
	// MinInterval is the floor between the start of two consecutive
	// calls. Zero disables spacing.
	MinInterval time.Duration

	// MaxInFlight caps concurrently outstanding calls.
	MaxInFlight int

	// BackoffBase is the suspension imposed by the first shed response
	// (HTTP 429 or 503); it doubles per consecutive shed, up to
	// BackoffCap. A Retry-After header longer than the computed
	// suspension wins.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Pacer gates one backend client's outbound calls.
type Pacer interface {
	// Acquire blocks until the next call may start and returns a release
	// func the caller must invoke once the call completes.
	Acquire(ctx context.Context) (release func(), err error)

	// Observe feeds a completed call's response back into the pacing
	// state: shed responses suspend the pacer, successes recover it.
	// A nil response (transport error) is ignored.
	Observe(resp *http.Response)
}

// NewPacer builds a Pacer from cfg.
func NewPacer(cfg Config) Pacer {
	return &pacer{
		cfg:   cfg,
		slots: make(chan struct{}, cfg.MaxInFlight),
	}
}

type pacer struct {
	cfg   Config
	slots chan struct{}

	mu        sync.Mutex
	notBefore time.Time // earliest instant the next call may start
	sheds     int       // consecutive shed responses observed
}

func (p *pacer) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-p.slots }

	// Re-check after every sleep: an Observe may have pushed notBefore
	// further out while we were waiting.
	for {
		p.mu.Lock()
		wait := time.Until(p.notBefore)
		if wait <= 0 {
			p.notBefore = time.Now().Add(p.cfg.MinInterval)
			p.mu.Unlock()
			return release, nil
		}
		p.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
}

func (p *pacer) Observe(resp *http.Response) {
	if resp == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if shedding(resp.StatusCode) {
		p.sheds++
		delay := p.suspension()
		if ra := retryAfter(resp); ra > delay {
			delay = ra
		}
		if until := time.Now().Add(delay); until.After(p.notBefore) {
			p.notBefore = until
		}
		return
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.sheds = 0
	}
}

// shedding reports whether the API server asked us to slow down rather
// than answering the call.
func shedding(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// suspension is BackoffBase doubled per consecutive shed beyond the
// first, capped at BackoffCap.
func (p *pacer) suspension() time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < p.sheds && d < p.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > p.cfg.BackoffCap {
		d = p.cfg.BackoffCap
	}
	return d
}

// retryAfter parses the integer-seconds form of a Retry-After header,
// the form Kubernetes API servers send.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
