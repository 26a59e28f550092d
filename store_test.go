package wardsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewStore")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func mustRecord(t *testing.T, s *Store, rec Record) int64 {
	t.Helper()
	id, err := s.Record(context.Background(), rec)
	require.NoError(t, err, "Record(%s)", rec.Table())
	return id
}

// TestNewStore_CreatesAllTables verifies that migrations create every table.
func TestNewStore_CreatesAllTables(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"patients", "treatment_plans", "plan_steps", "sync_queue", "sync_failures", "metadata"}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}
}

// TestNewStore_EnablesWAL verifies that WAL mode is enabled after initialization.
func TestNewStore_EnablesWAL(t *testing.T) {
	store := newTestStore(t)

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	require.NoError(t, store.Close())

	store, err = NewStore(path)
	require.NoError(t, err, "reopen")
	defer store.Close()

	patients, err := store.Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Jane Doe", patients[0].Name)

	v, _ := store.GetMetadata(context.Background(), "schema_version")
	assert.Equal(t, schemaVersion, v)
}

func TestStore_RecordEnqueuesCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &Patient{PatientFields: PatientFields{Name: "Jane Doe"}}
	id := mustRecord(t, store, p)

	assert.Equal(t, id, p.LocalID)
	assert.Equal(t, int64(1), p.Revision)
	assert.False(t, p.Synced)

	got, err := store.Patient(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Synced)
	assert.Empty(t, got.ServerID)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	m := pending[0]
	assert.Equal(t, ActionCreate, m.Action)
	assert.Equal(t, TablePatients, m.Table)
	assert.Equal(t, id, m.TargetLocalID)
	f, ok := m.Payload.(PatientFields)
	require.True(t, ok, "payload = %#v, want PatientFields", m.Payload)
	assert.Equal(t, "Jane Doe", f.Name)
	assert.NotEmpty(t, m.IdempotencyKey)
}

func TestStore_RecordValidation(t *testing.T) {
	store := newTestStore(t)
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	planID := mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})

	tests := []struct {
		name  string
		rec   Record
		field string
	}{
		{"patient without name", &Patient{PatientFields: PatientFields{Name: "  "}}, "name"},
		{"bad birth date", &Patient{PatientFields: PatientFields{Name: "A", DateOfBirth: "1990-13-01"}}, "date_of_birth"},
		{"plan without title", &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID}}, "title"},
		{"plan bad status", &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab", Status: "paused"}}, "status"},
		{"step zero number", &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: 0}}, "step_number"},
		{"step bad status", &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: 1, Status: "blocked"}}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Record(context.Background(), tt.rec)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	n, _ := store.PendingCount(context.Background())
	assert.Equal(t, 2, n, "rejected records must not enqueue")
}

func TestStore_RecordRequiresLiveParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Record(ctx, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: 42, Title: "Rehab"}})
	require.ErrorIs(t, err, ErrNotFound, "plan for missing patient")

	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	_, err = store.Remove(ctx, TablePatients, patientID)
	require.NoError(t, err)
	_, err = store.Record(ctx, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})
	require.ErrorIs(t, err, ErrNotFound, "plan for deleted patient")
}

func TestStore_RecordDefaultsStatus(t *testing.T) {
	store := newTestStore(t)
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	plan := &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}}
	planID := mustRecord(t, store, plan)
	step := &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: 1}}
	mustRecord(t, store, step)

	assert.Equal(t, PlanStatusDraft, plan.Status)
	assert.Equal(t, StepStatusPending, step.Status)
}

func TestStore_ChangeBumpsRevisionAndEnqueues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	queueID, err := store.Change(ctx, TablePatients, id, Fields{"notes": "allergic to penicillin"})
	require.NoError(t, err)

	p, _ := store.Patient(ctx, id)
	assert.Equal(t, int64(2), p.Revision)
	assert.Equal(t, "allergic to penicillin", p.Notes)

	m, err := store.Mutation(ctx, queueID)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, m.Action)
	f, ok := m.Payload.(PatientFields)
	require.True(t, ok)
	assert.Equal(t, "allergic to penicillin", f.Notes, "update snapshot")
}

func TestStore_ChangeRejectsBadFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	_, err := store.Change(ctx, TablePatients, id, Fields{"synced": true})
	assert.ErrorIs(t, err, ErrUnknownField, "synced via Change")
	_, err = store.Change(ctx, TablePatients, id, Fields{"local_id": 7})
	assert.ErrorIs(t, err, ErrUnknownField, "local_id via Change")

	var ve *ValidationError
	_, err = store.Change(ctx, TablePatients, id, Fields{"name": 3})
	assert.ErrorAs(t, err, &ve, "non-string name")

	_, err = store.Change(ctx, TablePatients, 999, Fields{"name": "X"})
	assert.ErrorIs(t, err, ErrNotFound, "missing record")

	n, _ := store.PendingCount(ctx)
	assert.Equal(t, 1, n)
}

func TestStore_UpdateAcceptsJSONNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	planID := mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})
	stepID := mustRecord(t, store, &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: 1}})

	require.NoError(t, store.Update(ctx, TablePlanSteps, stepID, Fields{"step_number": float64(3)}))
	step, _ := store.Step(ctx, stepID)
	assert.Equal(t, 3, step.StepNumber)

	var ve *ValidationError
	err := store.Update(ctx, TablePlanSteps, stepID, Fields{"step_number": 2.5})
	assert.ErrorAs(t, err, &ve, "fractional step_number")
}

func TestStore_UpdateSyncedFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	require.NoError(t, store.Update(ctx, TablePatients, id, Fields{"synced": true}))
	p, _ := store.Patient(ctx, id)
	assert.True(t, p.Synced)
	assert.Equal(t, int64(1), p.Revision, "synced-only update keeps the revision")

	require.NoError(t, store.Update(ctx, TablePatients, id, Fields{"sex": "F"}))
	p, _ = store.Patient(ctx, id)
	assert.False(t, p.Synced, "domain update must clear synced")
}

func TestStore_RemoveSoftDeletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	_, err := store.MarkSynced(ctx, TablePatients, id, "srv_1", 1)
	require.NoError(t, err)

	queueID, err := store.Remove(ctx, TablePatients, id)
	require.NoError(t, err)

	rec, err := store.Get(ctx, TablePatients, id)
	require.NoError(t, err, "Get after Remove")
	assert.True(t, rec.Bookkeeping().Deleted)
	assert.False(t, rec.Bookkeeping().Synced)

	patients, _ := store.Patients(ctx)
	assert.Empty(t, patients, "deleted patient must be hidden")

	m, _ := store.Mutation(ctx, queueID)
	assert.Equal(t, Tombstone{ServerID: "srv_1"}, m.Payload)

	_, err = store.Remove(ctx, TablePatients, id)
	assert.ErrorIs(t, err, ErrNotFound, "second Remove")
}

func TestStore_RemoveCascadesToChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	planID := mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})
	stepID := mustRecord(t, store, &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: 1}})
	otherID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "John Roe"}})
	otherPlanID := mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: otherID, Title: "Physio"}})

	_, err := store.MarkSynced(ctx, TableTreatmentPlans, planID, "srv_plan", 1)
	require.NoError(t, err)

	queueID, err := store.Remove(ctx, TablePatients, patientID)
	require.NoError(t, err)

	for _, ref := range []struct {
		table Table
		id    int64
	}{{TablePatients, patientID}, {TableTreatmentPlans, planID}, {TablePlanSteps, stepID}} {
		rec, err := store.Get(ctx, ref.table, ref.id)
		require.NoError(t, err)
		assert.True(t, rec.Bookkeeping().Deleted, "%s #%d deleted", ref.table, ref.id)
		assert.False(t, rec.Bookkeeping().Synced, "%s #%d synced", ref.table, ref.id)
	}
	other, err := store.Plan(ctx, otherPlanID)
	require.NoError(t, err)
	assert.False(t, other.Deleted, "unrelated plan untouched")

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	var deletes []Mutation
	for _, m := range pending {
		if m.Action == ActionDelete {
			deletes = append(deletes, m)
		}
	}
	require.Len(t, deletes, 3)
	assert.Equal(t, TablePlanSteps, deletes[0].Table, "deepest child first")
	assert.Equal(t, TableTreatmentPlans, deletes[1].Table)
	assert.Equal(t, Tombstone{ServerID: "srv_plan"}, deletes[1].Payload)
	assert.Equal(t, TablePatients, deletes[2].Table)
	assert.Equal(t, queueID, deletes[2].QueueID, "Remove returns the parent's entry")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Patients)
	assert.Equal(t, 1, stats.Plans, "only the other patient's plan is live")
	assert.Equal(t, 0, stats.Steps)
}

func TestStore_RemoveRollsBackOnMissingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Remove(ctx, TablePatients, 42)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Remove(ctx, Table("visits"), 1)
	require.ErrorIs(t, err, ErrUnknownTable)

	n, _ := store.PendingCount(ctx)
	assert.Zero(t, n)
}

func TestStore_MarkSyncedRevisionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	// An edit lands while revision 1 is being pushed.
	_, err := store.Change(ctx, TablePatients, id, Fields{"notes": "edited"})
	require.NoError(t, err)

	synced, err := store.MarkSynced(ctx, TablePatients, id, "srv_1", 1)
	require.NoError(t, err)
	assert.False(t, synced, "stale revision must not report synced")
	p, _ := store.Patient(ctx, id)
	assert.Equal(t, "srv_1", p.ServerID)
	assert.False(t, p.Synced)

	synced, _ = store.MarkSynced(ctx, TablePatients, id, "", 2)
	p, _ = store.Patient(ctx, id)
	assert.True(t, synced)
	assert.True(t, p.Synced)
	assert.Equal(t, "srv_1", p.ServerID)
}

func TestStore_MarkSyncedKeepsFirstServerID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	_, err := store.MarkSynced(ctx, TablePatients, id, "srv_1", 1)
	require.NoError(t, err)
	synced, err := store.MarkSynced(ctx, TablePatients, id, "srv_2", 1)
	require.NoError(t, err)
	assert.True(t, synced)

	p, _ := store.Patient(ctx, id)
	assert.Equal(t, "srv_1", p.ServerID, "first server identity wins")
}

func TestStore_Purge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})

	require.NoError(t, store.Purge(ctx, TablePatients, id))
	_, err := store.Get(ctx, TablePatients, id)
	assert.ErrorIs(t, err, ErrNotFound, "Get after Purge")
	assert.ErrorIs(t, store.Purge(ctx, Table("visits"), 1), ErrUnknownTable)
}

func TestStore_StepsOrderedByNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	planID := mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})
	for _, n := range []int{3, 1, 2} {
		mustRecord(t, store, &PlanStep{StepFields: StepFields{PlanLocalID: planID, StepNumber: n}})
	}

	steps, err := store.StepsForPlan(ctx, planID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, s := range steps {
		assert.Equal(t, i+1, s.StepNumber, "steps[%d]", i)
	}
}

func TestStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	patientID := mustRecord(t, store, &Patient{PatientFields: PatientFields{Name: "Jane Doe"}})
	mustRecord(t, store, &TreatmentPlan{PlanFields: PlanFields{PatientLocalID: patientID, Title: "Rehab"}})

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Patients)
	assert.Equal(t, 1, stats.Plans)
	assert.Equal(t, 0, stats.Steps)
	assert.Equal(t, 2, stats.Unsynced)
	assert.Equal(t, 2, stats.PendingSync)
	assert.Equal(t, 0, stats.Stuck)
	assert.True(t, stats.LastSync.IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastSync(ctx, at))
	stats, _ = store.Stats(ctx)
	assert.True(t, stats.LastSync.Equal(at), "LastSync = %v, want %v", stats.LastSync, at)
}

func TestStore_ClosedReturnsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "second Close")

	_, err := store.Record(ctx, &Patient{PatientFields: PatientFields{Name: "A"}})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.ListPending(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Stats(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
