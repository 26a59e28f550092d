package wardsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Executor runs sync passes: it drains a snapshot of the mutation queue in
// order, pushing each entry through its table's translator.
//
// An Executor is not safe for concurrent passes; the Scheduler guarantees at
// most one RunPass at a time.
type Executor struct {
	store    *Store
	registry *Registry
	log      *DebugLogger

	retryThreshold  int
	dependencyLimit int
	requestTimeout  time.Duration

	now func() time.Time
}

// NewExecutor creates an executor. Zero thresholds in cfg fall back to the
// defaults.
func NewExecutor(store *Store, registry *Registry, cfg Config, log *DebugLogger) *Executor {
	defaults := DefaultConfig()
	e := &Executor{
		store:           store,
		registry:        registry,
		log:             log,
		retryThreshold:  cfg.RetryThreshold,
		dependencyLimit: cfg.DependencyRetryLimit,
		requestTimeout:  cfg.RequestTimeout,
		now:             time.Now,
	}
	if e.retryThreshold <= 0 {
		e.retryThreshold = defaults.RetryThreshold
	}
	if e.dependencyLimit <= 0 {
		e.dependencyLimit = defaults.DependencyRetryLimit
	}
	if e.requestTimeout <= 0 {
		e.requestTimeout = defaults.RequestTimeout
	}
	return e
}

type entityKey struct {
	table   Table
	localID int64
}

// pass carries the state of one RunPass call.
type pass struct {
	result  *PassResult
	blocked map[entityKey]bool
}

func (p *pass) record(m Mutation, err error) {
	se := &SyncError{QueueID: m.QueueID, Table: m.Table, Action: m.Action, Err: err}
	p.result.Errors = append(p.result.Errors, se.Error())
}

// RunPass processes every entry queued when the pass starts. Individual
// mutation failures never abort the pass. A store failure, a credential
// rejection or ctx cancellation does: the partial result is returned along
// with an error wrapping ErrPassAborted.
func (e *Executor) RunPass(ctx context.Context) (*PassResult, error) {
	p := &pass{
		result:  &PassResult{StartedAt: e.now()},
		blocked: make(map[entityKey]bool),
	}
	defer func() { p.result.FinishedAt = e.now() }()

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return p.result, fmt.Errorf("%w: list pending: %w", ErrPassAborted, err)
	}
	e.log.LogSync("pass", fmt.Sprintf("start: %d pending", len(pending)))

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return p.result, fmt.Errorf("%w: %w", ErrPassAborted, err)
		}
		if err := e.process(ctx, p, m); err != nil {
			e.log.LogError("pass", err)
			return p.result, err
		}
	}

	r := p.result
	e.log.LogSync("pass", fmt.Sprintf("done: succeeded=%d failed=%d skipped=%d deferred=%d evicted=%d",
		r.Succeeded, r.Failed, r.Skipped, r.Deferred, r.Evicted))

	if r.Failed == 0 {
		if err := e.store.SetLastSync(ctx, e.now()); err != nil {
			return r, fmt.Errorf("%w: record last sync: %w", ErrPassAborted, err)
		}
	}
	return r, nil
}

// process handles one entry. A non-nil error aborts the pass.
func (e *Executor) process(ctx context.Context, p *pass, m Mutation) error {
	key := entityKey{m.Table, m.TargetLocalID}
	if p.blocked[key] {
		p.result.Deferred++
		e.log.LogSync("defer", fmt.Sprintf("queue %d: earlier entry for %s #%d failed", m.QueueID, m.Table, m.TargetLocalID))
		return nil
	}

	if m.Payload == nil {
		return e.fail(ctx, p, m, fmt.Errorf("%w: undecodable payload", ErrInvalidPayload))
	}
	translator, err := e.registry.For(m.Table)
	if err != nil {
		return e.fail(ctx, p, m, err)
	}

	rec, err := e.store.Get(ctx, m.Table, m.TargetLocalID)
	if errors.Is(err, ErrNotFound) {
		return e.skip(ctx, p, m, "record no longer exists", false)
	}
	if err != nil {
		return storeAbort("load record", err)
	}
	meta := rec.Bookkeeping()

	if m.Action != ActionDelete && meta.Deleted {
		return e.skip(ctx, p, m, "record deleted locally", false)
	}

	req := PushRequest{
		Action:         m.Action,
		Record:         rec,
		ServerID:       meta.ServerID,
		IdempotencyKey: m.IdempotencyKey,
	}

	if m.Action == ActionDelete {
		if req.ServerID == "" {
			if ts, ok := m.Payload.(Tombstone); ok {
				req.ServerID = ts.ServerID
			}
		}
		if req.ServerID == "" {
			// Never reached the server: nothing to delete remotely.
			if err := e.store.Purge(ctx, m.Table, m.TargetLocalID); err != nil {
				return storeAbort("purge", err)
			}
			return e.succeed(ctx, p, m, "purged locally")
		}
	} else {
		if m.Action == ActionUpdate && req.ServerID == "" {
			return e.fail(ctx, p, m, fmt.Errorf("%w: %s #%d has no server identity", ErrDependencyNotReady, m.Table, m.TargetLocalID))
		}

		if parentTable, parentLocalID, ok := rec.ParentRef(); ok {
			parent, err := e.store.Get(ctx, parentTable, parentLocalID)
			if errors.Is(err, ErrNotFound) {
				return e.skip(ctx, p, m, fmt.Sprintf("parent %s #%d no longer exists", parentTable, parentLocalID), true)
			}
			if err != nil {
				return storeAbort("load parent", err)
			}
			pm := parent.Bookkeeping()
			if pm.ServerID == "" {
				if pm.Deleted {
					return e.skip(ctx, p, m, fmt.Sprintf("parent %s #%d deleted before reaching the server", parentTable, parentLocalID), true)
				}
				return e.fail(ctx, p, m, fmt.Errorf("%w: %s #%d", ErrDependencyNotReady, parentTable, parentLocalID))
			}
			req.Parents = ParentIDs{parentTable: pm.ServerID}
		}
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	serverID, err := translator.Push(pushCtx, req)
	cancel()
	if err != nil {
		return e.fail(ctx, p, m, err)
	}
	if m.Action == ActionCreate && req.ServerID == "" && serverID == "" {
		return e.fail(ctx, p, m, fmt.Errorf("%w: create returned no server identity", ErrInvalidResponse))
	}

	switch m.Action {
	case ActionDelete:
		if err := e.store.Purge(ctx, m.Table, m.TargetLocalID); err != nil {
			return storeAbort("purge", err)
		}
		return e.succeed(ctx, p, m, "deleted "+req.ServerID)
	default:
		synced, err := e.store.MarkSynced(ctx, m.Table, m.TargetLocalID, serverID, meta.Revision)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return storeAbort("mark synced", err)
		}
		detail := "server id " + serverID
		if !synced {
			detail += " (edited during push, stays unsynced)"
		}
		return e.succeed(ctx, p, m, detail)
	}
}

func (e *Executor) succeed(ctx context.Context, p *pass, m Mutation, detail string) error {
	if err := e.store.Ack(ctx, m.QueueID); err != nil {
		return storeAbort("ack", err)
	}
	p.result.Succeeded++
	e.log.LogSync("ok", fmt.Sprintf("queue %d %s %s #%d: %s", m.QueueID, m.Action, m.Table, m.TargetLocalID, detail))
	return nil
}

// skip acknowledges a moot entry. Integrity skips are reported in Errors.
func (e *Executor) skip(ctx context.Context, p *pass, m Mutation, why string, integrity bool) error {
	if err := e.store.Ack(ctx, m.QueueID); err != nil {
		return storeAbort("ack", err)
	}
	p.result.Skipped++
	if integrity {
		p.record(m, errors.New(why))
	}
	e.log.LogSync("skip", fmt.Sprintf("queue %d %s %s #%d: %s", m.QueueID, m.Action, m.Table, m.TargetLocalID, why))
	return nil
}

// fail classifies a push failure and updates the queue entry accordingly.
func (e *Executor) fail(ctx context.Context, p *pass, m Mutation, cause error) error {
	p.blocked[entityKey{m.Table, m.TargetLocalID}] = true
	p.record(m, cause)

	if IsUnauthorized(cause) {
		return fmt.Errorf("%w: %w: %v", ErrPassAborted, ErrUnauthorized, cause)
	}

	p.result.Failed++
	switch {
	case IsPermanent(cause):
		return e.evict(ctx, p, m, ReasonPermanent, cause)

	case errors.Is(cause, ErrDependencyNotReady):
		waits, err := e.store.MarkWaiting(ctx, m.QueueID, cause)
		if err != nil {
			return storeAbort("mark waiting", err)
		}
		e.log.LogSync("wait", fmt.Sprintf("queue %d: %v (%d/%d)", m.QueueID, cause, waits, e.dependencyLimit))
		if waits >= e.dependencyLimit {
			return e.evict(ctx, p, m, ReasonDependencyTimeout, nil)
		}

	default:
		retries, err := e.store.MarkFailed(ctx, m.QueueID, cause)
		if err != nil {
			return storeAbort("mark failed", err)
		}
		e.log.LogSync("retry", fmt.Sprintf("queue %d: %v (%d/%d)", m.QueueID, cause, retries, e.retryThreshold))
		if retries >= e.retryThreshold {
			return e.evict(ctx, p, m, ReasonRetriesExhausted, nil)
		}
	}
	return nil
}

// evict quarantines the entry. A non-nil cause is recorded as the attempt
// that triggered the eviction.
func (e *Executor) evict(ctx context.Context, p *pass, m Mutation, reason EvictionReason, cause error) error {
	if cause != nil {
		if _, err := e.store.MarkFailed(ctx, m.QueueID, cause); err != nil {
			return storeAbort("mark failed", err)
		}
	}
	if err := e.store.Evict(ctx, m.QueueID, reason); err != nil {
		return storeAbort("evict", err)
	}
	p.result.Evicted++
	e.log.LogSync("evict", fmt.Sprintf("queue %d %s %s #%d: %s", m.QueueID, m.Action, m.Table, m.TargetLocalID, reason))
	return nil
}

func storeAbort(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPassAborted, op, err)
}
