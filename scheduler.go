package wardsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PassRunner runs one sync pass. *Executor satisfies it.
type PassRunner interface {
	RunPass(ctx context.Context) (*PassResult, error)
}

// Scheduler guarantees at most one sync pass in flight and decides when
// passes start: on request, on reconnect and on a fixed timer.
//
// A pass that has started always runs to completion; its context is
// detached from whoever triggered it.
type Scheduler struct {
	runner   PassRunner
	monitor  *Monitor
	interval time.Duration
	log      *DebugLogger

	running atomic.Bool
	wg      sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	onPass      func(*PassResult, error)
	lastResult  *PassResult
	lastErr     error
	lastSuccess time.Time
	passes      int64
}

// NewScheduler creates a scheduler. A non-positive interval disables the
// timer trigger.
func NewScheduler(runner PassRunner, monitor *Monitor, interval time.Duration, log *DebugLogger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		monitor:  monitor,
		interval: interval,
		log:      log,
	}
}

// OnPass registers a callback invoked after every pass, outside any lock.
func (s *Scheduler) OnPass(fn func(*PassResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPass = fn
}

// acquire claims the single pass slot.
func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	return true
}

// RequestSync starts a pass in the background and reports whether it did.
// It is a no-op while offline, while a pass is running, or after Close.
func (s *Scheduler) RequestSync() bool {
	if !s.monitor.Online() {
		return false
	}
	if !s.acquire() {
		return false
	}
	go s.run(context.Background())
	return true
}

// SyncNow runs a pass and waits for it. Cancelling ctx does not interrupt
// the pass once started.
func (s *Scheduler) SyncNow(ctx context.Context) (*PassResult, error) {
	if !s.monitor.Online() {
		return nil, ErrOffline
	}
	if !s.acquire() {
		if s.isClosed() {
			return nil, ErrClosed
		}
		return nil, ErrSyncInProgress
	}
	return s.run(context.WithoutCancel(ctx))
}

func (s *Scheduler) run(ctx context.Context) (*PassResult, error) {
	defer s.wg.Done()

	s.log.LogSync("scheduler", "pass started")
	result, err := s.runner.RunPass(ctx)

	s.mu.Lock()
	s.passes++
	s.lastResult = result
	s.lastErr = err
	if err == nil && result != nil && result.Failed == 0 {
		s.lastSuccess = result.FinishedAt
	}
	hook := s.onPass
	s.mu.Unlock()

	s.running.Store(false)
	if err != nil {
		s.log.LogError("scheduler", err)
	}
	if hook != nil {
		hook(result, err)
	}
	return result, err
}

// Run drives the reconnect and timer triggers until ctx is done, then closes
// the scheduler and waits for any in-flight pass. It requests a pass
// immediately on entry.
func (s *Scheduler) Run(ctx context.Context) error {
	transitions, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.RequestSync()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-tick:
			s.RequestSync()
		case t, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if t.Reconnected() {
				s.log.LogSync("scheduler", "reconnected")
				s.RequestSync()
			}
		}
	}
}

// Running reports whether a pass is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// LastResult returns the outcome of the most recent pass.
func (s *Scheduler) LastResult() (*PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.lastErr
}

// LastSuccess returns when the last pass without failures finished.
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// Passes returns the number of passes run.
func (s *Scheduler) Passes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops new passes and waits for the in-flight one.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until no pass is in flight.
func (s *Scheduler) Wait() { s.wg.Wait() }
