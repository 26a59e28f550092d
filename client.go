package wardsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hyperengineering/wardsync/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Client is the main interface for the offline-first record store. Writes
// land in the local store and the mutation queue atomically; a background
// scheduler pushes them when the remote service is reachable.
//
// A Client owns its store, scheduler and connectivity monitor. Construct it
// with New, call Start to begin background sync, and Close when done.
type Client struct {
	config   Config
	store    *Store
	monitor  *Monitor
	log      *DebugLogger
	remote   Remote
	pinger   Pinger
	executor *Executor
	sched    *Scheduler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	remote   Remote
	pinger   Pinger
	registry func(Remote) *Registry
	onPass   func(*PassResult, error)
}

// WithRemote replaces the HTTP client built from Config.ServerURL.
// If the remote also implements Pinger it is used for connectivity heartbeats.
func WithRemote(r Remote) Option {
	return func(o *clientOptions) { o.remote = r }
}

// WithPinger replaces the connectivity heartbeat target.
func WithPinger(p Pinger) Option {
	return func(o *clientOptions) { o.pinger = p }
}

// WithRegistry replaces the default translator registry.
func WithRegistry(build func(Remote) *Registry) Option {
	return func(o *clientOptions) { o.registry = build }
}

// WithPassHook registers a callback invoked after every sync pass.
func WithPassHook(fn func(*PassResult, error)) Option {
	return func(o *clientOptions) { o.onPass = fn }
}

// New creates a client. Background sync does not start until Start.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		config: cfg,
		store:  store,
		log:    log,
	}

	// An injected remote stands in for ServerURL.
	if cfg.OfflineMode || (cfg.ServerURL == "" && o.remote == nil) {
		c.monitor = NewMonitor(false)
		return c, nil
	}

	c.remote = o.remote
	if c.remote == nil {
		c.remote = remote.NewHTTPClient(cfg.ServerURL, cfg.APIKey, cfg.DeviceID).WithLogger(log)
	}
	c.pinger = o.pinger
	if c.pinger == nil {
		c.pinger, _ = c.remote.(Pinger)
	}

	// With a heartbeat configured, connectivity is unknown until the first ping.
	c.monitor = NewMonitor(!(cfg.HeartbeatInterval > 0 && c.pinger != nil))

	build := o.registry
	if build == nil {
		build = DefaultRegistry
	}
	c.executor = NewExecutor(store, build(c.remote), cfg, log)
	c.sched = NewScheduler(c.executor, c.monitor, cfg.SyncInterval, log)
	if o.onPass != nil {
		c.sched.OnPass(o.onPass)
	}

	return c, nil
}

// Start begins background sync: the scheduler's timer and reconnect
// triggers, and the connectivity heartbeat when HeartbeatInterval is set.
// It returns immediately. In offline mode Start is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("client: already started")
	}
	c.started = true
	if c.sched == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.sched.Run(gctx) })
	if c.config.HeartbeatInterval > 0 && c.pinger != nil {
		hb := NewHeartbeat(c.pinger, c.monitor, c.config.HeartbeatInterval, c.log)
		g.Go(func() error { return hb.Run(gctx) })
	}

	go func() {
		defer close(c.done)
		if err := g.Wait(); err != nil {
			c.log.LogError("background", err)
		}
	}()
	return nil
}

// Close stops background sync, waits for an in-flight pass (up to ten
// seconds) and closes the store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-time.After(10 * time.Second):
			c.log.Log("close: timed out waiting for sync pass")
		}
		c.cancel = nil
	}
	if c.sched != nil {
		waited := make(chan struct{})
		go func() {
			c.sched.Close()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(10 * time.Second):
		}
	}

	err := c.store.Close()
	_ = c.log.Close()
	return err
}

// Store returns the underlying store.
func (c *Client) Store() *Store { return c.store }

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.config }

func (c *Client) afterWrite() {
	if c.config.AutoSync {
		c.RequestSync()
	}
}

// CreatePatient stores a new patient and queues its create.
func (c *Client) CreatePatient(ctx context.Context, f PatientFields) (*Patient, error) {
	p := &Patient{PatientFields: f}
	if _, err := c.store.Record(ctx, p); err != nil {
		return nil, err
	}
	c.afterWrite()
	return p, nil
}

// CreatePlan stores a new treatment plan for an existing patient and
// queues its create.
func (c *Client) CreatePlan(ctx context.Context, f PlanFields) (*TreatmentPlan, error) {
	tp := &TreatmentPlan{PlanFields: f}
	if _, err := c.store.Record(ctx, tp); err != nil {
		return nil, err
	}
	c.afterWrite()
	return tp, nil
}

// CreateStep stores a new plan step for an existing plan and queues its create.
func (c *Client) CreateStep(ctx context.Context, f StepFields) (*PlanStep, error) {
	ps := &PlanStep{StepFields: f}
	if _, err := c.store.Record(ctx, ps); err != nil {
		return nil, err
	}
	c.afterWrite()
	return ps, nil
}

// Update applies a partial update and queues it.
func (c *Client) Update(ctx context.Context, table Table, localID int64, fields Fields) error {
	if _, err := c.store.Change(ctx, table, localID, fields); err != nil {
		return err
	}
	c.afterWrite()
	return nil
}

// Delete soft-deletes a record, with its live children, and queues the
// deletes. A row is purged once its delete reaches the server, or
// immediately on the next pass if it never did.
func (c *Client) Delete(ctx context.Context, table Table, localID int64) error {
	if _, err := c.store.Remove(ctx, table, localID); err != nil {
		return err
	}
	c.afterWrite()
	return nil
}

// Patient returns a patient by local identity.
func (c *Client) Patient(ctx context.Context, localID int64) (*Patient, error) {
	return c.store.Patient(ctx, localID)
}

// Plan returns a treatment plan by local identity.
func (c *Client) Plan(ctx context.Context, localID int64) (*TreatmentPlan, error) {
	return c.store.Plan(ctx, localID)
}

// Step returns a plan step by local identity.
func (c *Client) Step(ctx context.Context, localID int64) (*PlanStep, error) {
	return c.store.Step(ctx, localID)
}

// Patients lists live patients.
func (c *Client) Patients(ctx context.Context) ([]*Patient, error) {
	return c.store.Patients(ctx)
}

// PlansForPatient lists a patient's live plans.
func (c *Client) PlansForPatient(ctx context.Context, patientLocalID int64) ([]*TreatmentPlan, error) {
	return c.store.PlansForPatient(ctx, patientLocalID)
}

// StepsForPlan lists a plan's live steps.
func (c *Client) StepsForPlan(ctx context.Context, planLocalID int64) ([]*PlanStep, error) {
	return c.store.StepsForPlan(ctx, planLocalID)
}

// RequestSync starts a background pass if online and idle. Reports whether
// a pass was started.
func (c *Client) RequestSync() bool {
	if c.sched == nil {
		return false
	}
	return c.sched.RequestSync()
}

// Sync runs a pass and waits for its result.
// Returns ErrOffline in offline mode or while disconnected, and
// ErrSyncInProgress if a pass is already running.
func (c *Client) Sync(ctx context.Context) (*PassResult, error) {
	if c.sched == nil {
		return nil, ErrOffline
	}
	return c.sched.SyncNow(ctx)
}

// SetOnline overrides the connectivity state, for platforms that report
// network changes directly.
func (c *Client) SetOnline(online bool) {
	if c.sched == nil {
		return
	}
	c.monitor.Set(online)
}

// Online reports the current connectivity state.
func (c *Client) Online() bool { return c.monitor.Online() }

// Status returns what the UI needs for its pending and last-sync indicators.
func (c *Client) Status(ctx context.Context) (*SyncStatus, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	st := &SyncStatus{
		Online:      c.monitor.Online(),
		Pending:     stats.PendingSync,
		Stuck:       stats.Stuck,
		LastSync:    stats.LastSync,
		OfflineOnly: c.sched == nil,
		RemoteURL:   c.config.ServerURL,
	}
	if c.sched != nil {
		st.Running = c.sched.Running()
		st.PassCount = c.sched.Passes()
		st.LastPass, err = c.sched.LastResult()
		if err != nil {
			st.LastError = err.Error()
		}
	}
	return st, nil
}

// Stats returns store statistics.
func (c *Client) Stats(ctx context.Context) (*StoreStats, error) {
	return c.store.Stats(ctx)
}

// Pending returns the queued mutations in processing order.
func (c *Client) Pending(ctx context.Context) ([]Mutation, error) {
	return c.store.ListPending(ctx)
}

// Stuck returns evicted mutations whose records remain unsynced.
func (c *Client) Stuck(ctx context.Context) ([]Failure, error) {
	return c.store.Failures(ctx)
}

// Requeue returns an evicted mutation to the queue and requests a pass.
func (c *Client) Requeue(ctx context.Context, failureID int64) (int64, error) {
	id, err := c.store.Requeue(ctx, failureID)
	if err != nil {
		return 0, err
	}
	c.afterWrite()
	return id, nil
}

// HealthCheck returns the health status of the client.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		StoreOK: true,
	}

	if _, err := c.store.Stats(ctx); err != nil {
		status.StoreOK = false
		status.Healthy = false
		status.Error = err.Error()
		return status
	}

	if c.pinger != nil {
		err := c.pinger.Ping(ctx)
		status.RemoteReachable = err == nil
		if err != nil {
			status.Error = err.Error()
		}
	}

	return status
}

// ExportDiagnostics writes the queue and quarantine as JSON to w.
func (c *Client) ExportDiagnostics(ctx context.Context, w io.Writer) error {
	return c.store.ExportDiagnostics(ctx, c.config.Profile, w)
}
