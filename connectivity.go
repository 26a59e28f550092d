package wardsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperengineering/wardsync/internal/remote"
	"github.com/sethvargo/go-retry"
)

// Transition is a change in connectivity.
type Transition struct {
	From bool
	To   bool
	At   time.Time
}

// Reconnected reports an offline to online transition.
func (t Transition) Reconnected() bool { return !t.From && t.To }

// Monitor holds the current connectivity state and fans out transitions to
// subscribers. Safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]chan Transition
	nextID int
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]chan Transition)}
}

// Online returns the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set updates the state. Subscribers are notified only on change.
// A subscriber that is not keeping up misses the transition.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	t := Transition{From: m.online, To: online, At: time.Now()}
	m.online = online

	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe returns a channel of transitions and a function that
// unsubscribes and closes it.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, 8)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Pinger checks whether the remote service can be reached.
// *remote.HTTPClient satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Heartbeat drives a Monitor from periodic pings: a fixed interval while
// online and exponential backoff, capped at the interval, while offline.
type Heartbeat struct {
	pinger   Pinger
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	log      *DebugLogger
}

// NewHeartbeat creates a heartbeat. interval must be positive.
func NewHeartbeat(p Pinger, m *Monitor, interval time.Duration, log *DebugLogger) *Heartbeat {
	timeout := interval
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Heartbeat{pinger: p, monitor: m, interval: interval, timeout: timeout, log: log}
}

// Beat pings once and updates the monitor. Any HTTP answer below 500
// means the service is reachable, even if it rejects the request.
func (h *Heartbeat) Beat(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.pinger.Ping(pctx)
	online := err == nil
	var se *remote.StatusError
	if errors.As(err, &se) && se.Reachable() {
		online = true
	}

	if h.monitor.Online() != online {
		if online {
			h.log.LogSync("connectivity", "online")
		} else {
			h.log.LogError("heartbeat", err)
		}
	}
	h.monitor.Set(online)
	return online
}

// Run beats immediately, then on schedule until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	var backoff retry.Backoff
	for {
		var wait time.Duration
		if h.Beat(ctx) {
			backoff = nil
			wait = h.interval
		} else {
			if backoff == nil {
				backoff = retry.WithCappedDuration(h.interval, retry.NewExponential(h.interval/8+time.Millisecond))
			}
			wait, _ = backoff.Next()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
