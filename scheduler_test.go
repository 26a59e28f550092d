package wardsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateRunner blocks every pass until release is closed and tracks how many
// passes overlap.
type gateRunner struct {
	release chan struct{}
	started chan struct{}

	calls      atomic.Int32
	inFlight   atomic.Int32
	maxOverlap atomic.Int32
}

func newGateRunner() *gateRunner {
	return &gateRunner{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (g *gateRunner) RunPass(ctx context.Context) (*PassResult, error) {
	g.calls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		old := g.maxOverlap.Load()
		if n <= old || g.maxOverlap.CompareAndSwap(old, n) {
			break
		}
	}
	g.started <- struct{}{}
	<-g.release
	now := time.Now()
	return &PassResult{Succeeded: 1, StartedAt: now, FinishedAt: now}, nil
}

// countRunner returns immediately.
type countRunner struct{ calls atomic.Int32 }

func (c *countRunner) RunPass(context.Context) (*PassResult, error) {
	c.calls.Add(1)
	return &PassResult{FinishedAt: time.Now()}, nil
}

func TestScheduler_SingleFlight(t *testing.T) {
	runner := newGateRunner()
	s := NewScheduler(runner, NewMonitor(true), 0, nil)

	require.True(t, s.RequestSync())
	<-runner.started

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.RequestSync() {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, accepted.Load(), "requests during a pass are no-ops")
	assert.True(t, s.Running())

	_, err := s.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(runner.release)
	s.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxOverlap.Load())
	assert.False(t, s.Running())
	assert.Equal(t, int64(1), s.Passes())
}

func TestScheduler_RequestAfterPassStartsAnother(t *testing.T) {
	runner := &countRunner{}
	s := NewScheduler(runner, NewMonitor(true), 0, nil)

	_, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	require.True(t, s.RequestSync())
	s.Wait()

	assert.Equal(t, int32(2), runner.calls.Load())
	assert.False(t, s.LastSuccess().IsZero())
}

func TestScheduler_OfflineIsNoop(t *testing.T) {
	runner := &countRunner{}
	s := NewScheduler(runner, NewMonitor(false), 0, nil)

	assert.False(t, s.RequestSync())
	_, err := s.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, runner.calls.Load())
}

func TestScheduler_ClosedRejectsPasses(t *testing.T) {
	runner := &countRunner{}
	s := NewScheduler(runner, NewMonitor(true), 0, nil)
	s.Close()

	assert.False(t, s.RequestSync())
	_, err := s.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, runner.calls.Load())
}

func TestScheduler_SyncNowIgnoresCallerCancel(t *testing.T) {
	runner := newGateRunner()
	s := NewScheduler(runner, NewMonitor(true), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.SyncNow(ctx)
		done <- err
	}()
	<-runner.started
	cancel()
	close(runner.release)

	require.NoError(t, <-done)
}

func TestScheduler_OnPassHook(t *testing.T) {
	s := NewScheduler(&countRunner{}, NewMonitor(true), 0, nil)
	var got atomic.Int32
	s.OnPass(func(r *PassResult, err error) {
		if r != nil && err == nil {
			got.Add(1)
		}
	})

	_, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Load())

	result, err := s.LastResult()
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestScheduler_RunTriggers(t *testing.T) {
	runner := &countRunner{}
	monitor := NewMonitor(false)
	s := NewScheduler(runner, monitor, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Offline at startup: the initial request is a no-op.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runner.calls.Load())

	monitor.Set(true)
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond,
		"reconnect triggers a pass")

	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.RequestSync(), "Run closes the scheduler on exit")
}

func TestScheduler_RunTimer(t *testing.T) {
	runner := &countRunner{}
	s := NewScheduler(runner, NewMonitor(true), 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
