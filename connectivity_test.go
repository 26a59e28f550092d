package wardsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/wardsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_NotifiesOnChangeOnly(t *testing.T) {
	m := NewMonitor(false)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)

	first := <-ch
	assert.True(t, first.Reconnected())
	second := <-ch
	assert.False(t, second.Reconnected())
	assert.True(t, second.From)
	assert.False(t, second.To)

	select {
	case tr := <-ch:
		require.Failf(t, "unexpected transition", "%+v", tr)
	default:
	}
}

func TestMonitor_UnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor(true)
	ch, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	m.Set(false)
	assert.False(t, m.Online())
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor(false)
	_, unsubscribe := m.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Set(i%2 == 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Set blocked on an unread subscriber")
	}
}

type fakePinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePinger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func TestHeartbeat_Beat(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"ok", nil, true},
		{"network", errors.New("dial tcp: no route to host"), false},
		{"server error", &remote.StatusError{Operation: "ping", StatusCode: 503}, false},
		{"rejected but reachable", &remote.StatusError{Operation: "ping", StatusCode: 401}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(!tt.want)
			h := NewHeartbeat(&fakePinger{err: tt.err}, m, time.Second, nil)
			assert.Equal(t, tt.want, h.Beat(context.Background()))
			assert.Equal(t, tt.want, m.Online())
		})
	}
}

func TestHeartbeat_RunTracksState(t *testing.T) {
	pinger := &fakePinger{err: errors.New("offline")}
	m := NewMonitor(true)
	h := NewHeartbeat(pinger, m, 40*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 2*time.Millisecond)
	// Offline backoff starts well below the interval.
	require.Eventually(t, func() bool { return pinger.count() >= 3 }, time.Second, 2*time.Millisecond)

	pinger.set(nil)
	require.Eventually(t, m.Online, time.Second, 2*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
