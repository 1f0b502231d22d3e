package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Status describes a periodic job's lifecycle: Active means it has been
// started, IsRunning means a cycle is executing right now.
type Status struct {
	Active    bool `json:"active"`
	IsRunning bool `json:"is_running"`
}

// runner drives a named periodic job. Start and Stop are idempotent, and a
// tick is skipped (never queued) while the previous cycle is still running.
type runner struct {
	name string
	log  zerolog.Logger
	job  func(ctx context.Context)

	mu       sync.Mutex
	active   bool
	stopCh   chan struct{}
	done     chan struct{}
	inFlight atomic.Bool
}

func newRunner(name string, logger zerolog.Logger, job func(ctx context.Context)) *runner {
	return &runner{name: name, log: logger.With().Str("component", name).Logger(), job: job}
}

func (r *runner) Start(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.log.Warn().Msg("already started, ignoring")
		return
	}
	r.active = true
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	r.log.Info().Dur("interval", interval).Msg("started")

	go r.loop(interval, r.stopCh, r.done)
}

func (r *runner) loop(interval time.Duration, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !r.inFlight.CompareAndSwap(false, true) {
				r.log.Warn().Msg("previous cycle still running, skipping tick")
				continue
			}
			r.job(context.Background())
			r.inFlight.Store(false)
		}
	}
}

func (r *runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	close(r.stopCh)
	<-r.done
	r.active = false
	r.log.Info().Msg("stopped")
}

func (r *runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Active: r.active, IsRunning: r.inFlight.Load()}
}
