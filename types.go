package wardsync

import (
	"fmt"
	"time"
)

// Table identifies an entity family in the local store.
type Table string

const (
	TablePatients       Table = "patients"
	TableTreatmentPlans Table = "treatment_plans"
	TablePlanSteps      Table = "plan_steps"
)

// Tables returns all entity tables in parent-before-child order.
func Tables() []Table {
	return []Table{TablePatients, TableTreatmentPlans, TablePlanSteps}
}

// IsValid checks if the table is a known entity table.
func (t Table) IsValid() bool {
	switch t {
	case TablePatients, TableTreatmentPlans, TablePlanSteps:
		return true
	}
	return false
}

// ParseTable converts user input ("patient", "plans", "plan_steps", ...) into a Table.
func ParseTable(s string) (Table, error) {
	switch s {
	case "patients", "patient":
		return TablePatients, nil
	case "treatment_plans", "treatment_plan", "plans", "plan":
		return TableTreatmentPlans, nil
	case "plan_steps", "plan_step", "steps", "step":
		return TablePlanSteps, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
}

// Action is the kind of mutation recorded in the queue.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid checks if the action is a known mutation kind.
func (a Action) IsValid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Meta holds the bookkeeping fields shared by every entity record.
type Meta struct {
	LocalID   int64     `json:"local_id"`
	ServerID  string    `json:"server_id,omitempty"`
	Synced    bool      `json:"synced"`
	Deleted   bool      `json:"deleted"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bookkeeping returns a copy of the record's bookkeeping fields.
func (m Meta) Bookkeeping() Meta { return m }

func (m *Meta) meta() *Meta { return m }

// Record is a Patient, TreatmentPlan or PlanStep.
type Record interface {
	Table() Table
	Bookkeeping() Meta
	// ParentRef reports the owning record, if the entity kind has one.
	ParentRef() (table Table, localID int64, ok bool)
	// Snapshot captures the domain fields for a queued create or update.
	Snapshot() Payload

	meta() *Meta
}

// Patient is the root aggregate.
type Patient struct {
	Meta
	PatientFields
}

func (p *Patient) Table() Table                   { return TablePatients }
func (p *Patient) ParentRef() (Table, int64, bool) { return "", 0, false }
func (p *Patient) Snapshot() Payload               { return p.PatientFields }

// TreatmentPlan belongs to a Patient.
type TreatmentPlan struct {
	Meta
	PlanFields
}

func (tp *TreatmentPlan) Table() Table { return TableTreatmentPlans }
func (tp *TreatmentPlan) ParentRef() (Table, int64, bool) {
	return TablePatients, tp.PatientLocalID, true
}
func (tp *TreatmentPlan) Snapshot() Payload { return tp.PlanFields }

// PlanStep belongs to a TreatmentPlan.
type PlanStep struct {
	Meta
	StepFields
}

func (ps *PlanStep) Table() Table { return TablePlanSteps }
func (ps *PlanStep) ParentRef() (Table, int64, bool) {
	return TableTreatmentPlans, ps.PlanLocalID, true
}
func (ps *PlanStep) Snapshot() Payload { return ps.StepFields }

// Fields is a partial update keyed by column name.
// The key "synced" is reserved for the sync executor.
type Fields map[string]any

// Plan statuses.
const (
	PlanStatusDraft     = "draft"
	PlanStatusActive    = "active"
	PlanStatusCompleted = "completed"
	PlanStatusCancelled = "cancelled"
)

// Step statuses.
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusDone       = "done"
	StepStatusSkipped    = "skipped"
)

// Mutation is a pending entry in the sync queue.
type Mutation struct {
	QueueID         int64     `json:"queue_id"`
	Action          Action    `json:"action"`
	Table           Table     `json:"table"`
	TargetLocalID   int64     `json:"target_local_id"`
	Payload         Payload   `json:"payload"`
	IdempotencyKey  string    `json:"idempotency_key"`
	RetryCount      int       `json:"retry_count"`
	DependencyWaits int       `json:"dependency_waits"`
	LastError       string    `json:"last_error,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	LastAttemptAt   time.Time `json:"last_attempt_at,omitempty"`
}

// EvictionReason records why a mutation left the queue without succeeding.
type EvictionReason string

const (
	ReasonRetriesExhausted  EvictionReason = "retries_exhausted"
	ReasonPermanent         EvictionReason = "permanent"
	ReasonDependencyTimeout EvictionReason = "dependency_timeout"
)

// Failure is an evicted mutation. Its entity stays unsynced until requeued.
type Failure struct {
	ID            int64          `json:"id"`
	QueueID       int64          `json:"queue_id"`
	Action        Action         `json:"action"`
	Table         Table          `json:"table"`
	TargetLocalID int64          `json:"target_local_id"`
	Payload       Payload        `json:"payload"`
	RetryCount    int            `json:"retry_count"`
	LastError     string         `json:"last_error,omitempty"`
	Reason        EvictionReason `json:"reason"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
	EvictedAt     time.Time      `json:"evicted_at"`
}

// PassResult aggregates the outcome of one sync pass. It is not persisted.
type PassResult struct {
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Deferred   int       `json:"deferred"`
	Evicted    int       `json:"evicted"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Attempted returns the number of entries the pass acted on.
func (r *PassResult) Attempted() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// StoreStats contains local store statistics.
type StoreStats struct {
	Patients      int       `json:"patients"`
	Plans         int       `json:"plans"`
	Steps         int       `json:"steps"`
	Unsynced      int       `json:"unsynced"`
	PendingSync   int       `json:"pending_sync"`
	Stuck         int       `json:"stuck"`
	LastSync      time.Time `json:"last_sync,omitempty"`
	SchemaVersion string    `json:"schema_version"`
}

// SyncStatus is the state the UI renders as pending-count and last-sync indicators.
type SyncStatus struct {
	Online      bool        `json:"online"`
	Running     bool        `json:"running"`
	Pending     int         `json:"pending"`
	Stuck       int         `json:"stuck"`
	LastSync    time.Time   `json:"last_sync,omitempty"`
	LastPass    *PassResult `json:"last_pass,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	PassCount   int64       `json:"pass_count"`
	RemoteURL   string      `json:"remote_url,omitempty"`
	OfflineOnly bool        `json:"offline_only"`
}

// HealthStatus represents the health of the client.
type HealthStatus struct {
	Healthy         bool   `json:"healthy"`
	StoreOK         bool   `json:"store_ok"`
	RemoteReachable bool   `json:"remote_reachable"`
	Error           string `json:"error,omitempty"`
}
