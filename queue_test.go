package wardsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ListPendingIsFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.SetClock(fixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), time.Second))

	a := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})
	b := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "B"}})
	_, err := store.Change(ctx, TablePatients, a, Fields{"notes": "n"})
	require.NoError(t, err)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	want := []struct {
		action Action
		id     int64
	}{{ActionCreate, a}, {ActionCreate, b}, {ActionUpdate, a}}
	require.Len(t, pending, len(want))
	for i, w := range want {
		assert.Equal(t, w.action, pending[i].Action, "pending[%d]", i)
		assert.Equal(t, w.id, pending[i].TargetLocalID, "pending[%d]", i)
	}
}

func TestQueue_SameTimestampKeepsInsertOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	frozen := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return frozen })

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := store.Enqueue(ctx, ActionDelete, TablePatients, int64(i+1), Tombstone{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, len(ids))
	for i, m := range pending {
		assert.Equal(t, ids[i], m.QueueID, "pending[%d]", i)
		assert.True(t, m.EnqueuedAt.Equal(frozen), "EnqueuedAt = %v, want %v", m.EnqueuedAt, frozen)
	}
}

func TestQueue_OrderSurvivesClockStepBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return t0 })

	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})

	// The device clock is corrected backwards before the next edit.
	store.SetClock(func() time.Time { return t0.Add(-time.Second) })
	_, err := store.Change(ctx, TablePatients, id, Fields{"notes": "n"})
	require.NoError(t, err)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ActionCreate, pending[0].Action)
	assert.Equal(t, ActionUpdate, pending[1].Action)
	assert.True(t, pending[1].EnqueuedAt.Before(pending[0].EnqueuedAt), "timestamps keep the stepped-back clock")
}

func TestQueue_EnqueueChecksPayloadKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		action  Action
		table   Table
		payload Payload
		want    error
	}{
		{"plan payload on patient", ActionCreate, TablePatients, PlanFields{}, ErrInvalidPayload},
		{"tombstone on update", ActionUpdate, TablePlanSteps, Tombstone{}, ErrInvalidPayload},
		{"fields on delete", ActionDelete, TablePatients, PatientFields{Name: "A"}, ErrInvalidPayload},
		{"nil payload", ActionCreate, TablePatients, nil, ErrInvalidPayload},
		{"unknown action", Action("upsert"), TablePatients, PatientFields{}, ErrInvalidPayload},
		{"unknown table", ActionCreate, Table("visits"), PatientFields{}, ErrUnknownTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Enqueue(ctx, tt.action, tt.table, 1, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	n, _ := store.PendingCount(ctx)
	assert.Zero(t, n)
}

func TestQueue_IdempotencyKeysAreUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "P"}})
	}
	pending, _ := store.ListPending(ctx)
	for _, m := range pending {
		require.False(t, seen[m.IdempotencyKey], "duplicate idempotency key %q", m.IdempotencyKey)
		seen[m.IdempotencyKey] = true
	}
}

func TestQueue_AckIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})
	pending, _ := store.ListPending(ctx)

	require.NoError(t, store.Ack(ctx, pending[0].QueueID))
	assert.NoError(t, store.Ack(ctx, pending[0].QueueID), "second Ack")

	n, _ := store.PendingCount(ctx)
	assert.Zero(t, n)
}

func TestQueue_MarkFailedCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})
	pending, _ := store.ListPending(ctx)
	id := pending[0].QueueID

	for want := 1; want <= 3; want++ {
		got, err := store.MarkFailed(ctx, id, errors.New("connection refused"))
		require.NoError(t, err)
		assert.Equal(t, want, got, "retry count")
	}

	waits, err := store.MarkWaiting(ctx, id, ErrDependencyNotReady)
	require.NoError(t, err)
	assert.Equal(t, 1, waits)

	m, _ := store.Mutation(ctx, id)
	assert.Equal(t, 3, m.RetryCount)
	assert.Equal(t, 1, m.DependencyWaits)
	assert.Equal(t, ErrDependencyNotReady.Error(), m.LastError)
	assert.False(t, m.LastAttemptAt.IsZero(), "LastAttemptAt not set")

	_, err = store.MarkFailed(ctx, 999, errors.New("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_EvictQuarantines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})
	pending, _ := store.ListPending(ctx)
	queueID := pending[0].QueueID
	_, _ = store.MarkFailed(ctx, queueID, errors.New("timeout"))

	require.NoError(t, store.Evict(ctx, queueID, ReasonRetriesExhausted))
	n, _ := store.PendingCount(ctx)
	assert.Zero(t, n)

	failures, err := store.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, queueID, f.QueueID)
	assert.Equal(t, id, f.TargetLocalID)
	assert.Equal(t, ReasonRetriesExhausted, f.Reason)
	assert.Equal(t, 1, f.RetryCount)
	assert.Equal(t, "timeout", f.LastError)
	assert.IsType(t, PatientFields{}, f.Payload)

	p, _ := store.Patient(ctx, id)
	assert.False(t, p.Synced, "evicted entity must stay unsynced")

	assert.ErrorIs(t, store.Evict(ctx, queueID, ReasonPermanent), ErrNotFound, "second Evict")
}

func TestQueue_RequeueRestoresPosition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.SetClock(fixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), time.Second))

	a := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "A"}})
	mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "B"}})

	pending, _ := store.ListPending(ctx)
	first := pending[0]
	_, _ = store.MarkFailed(ctx, first.QueueID, errors.New("boom"))
	require.NoError(t, store.Evict(ctx, first.QueueID, ReasonRetriesExhausted))

	// Edited while quarantined: the requeued entry must carry the new name.
	require.NoError(t, store.Update(ctx, TablePatients, a, Fields{"name": "A2"}))

	failures, _ := store.Failures(ctx)
	newID, err := store.Requeue(ctx, failures[0].ID)
	require.NoError(t, err)
	assert.Equal(t, first.QueueID, newID, "requeue keeps the original queue ID")

	pending, _ = store.ListPending(ctx)
	require.Len(t, pending, 2)
	got := pending[0]
	assert.Equal(t, newID, got.QueueID, "requeued entry at head")
	assert.Equal(t, a, got.TargetLocalID)
	assert.Zero(t, got.RetryCount)
	assert.Zero(t, got.DependencyWaits)
	assert.NotEqual(t, first.IdempotencyKey, got.IdempotencyKey, "requeue must mint a fresh idempotency key")
	f, ok := got.Payload.(PatientFields)
	require.True(t, ok)
	assert.Equal(t, "A2", f.Name, "requeued snapshot")

	failures, _ = store.Failures(ctx)
	assert.Empty(t, failures)
	_, err = store.Requeue(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_UndecodablePayloadIsNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.Exec(`
		INSERT INTO sync_queue (action, table_name, target_local_id, payload, idempotency_key, enqueued_at)
		VALUES ('create', 'patients', 1, '{"kind":"lab_result","data":{}}', 'k1', ?)
	`, formatTime(time.Now()))
	require.NoError(t, err)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].Payload)
}
