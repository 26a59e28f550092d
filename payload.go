package wardsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is the snapshot stored with a queued mutation. It is one of
// PatientFields, PlanFields, StepFields (create and update) or Tombstone
// (delete).
type Payload interface {
	PayloadKind() PayloadKind
	isPayload()
}

// PayloadKind tags the concrete payload type in its persisted form.
type PayloadKind string

const (
	KindPatient   PayloadKind = "patient"
	KindPlan      PayloadKind = "treatment_plan"
	KindStep      PayloadKind = "plan_step"
	KindTombstone PayloadKind = "tombstone"
)

// PatientFields are the domain fields of a Patient.
type PatientFields struct {
	Name        string `json:"name"`
	MRN         string `json:"mrn,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (PatientFields) PayloadKind() PayloadKind { return KindPatient }
func (PatientFields) isPayload()               {}

// Validate checks required fields.
func (f PatientFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	return validateDate("date_of_birth", f.DateOfBirth)
}

// PlanFields are the domain fields of a TreatmentPlan.
type PlanFields struct {
	PatientLocalID int64  `json:"patient_local_id"`
	Title          string `json:"title"`
	Diagnosis      string `json:"diagnosis,omitempty"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date,omitempty"`
}

func (PlanFields) PayloadKind() PayloadKind { return KindPlan }
func (PlanFields) isPayload()               {}

// Validate checks required fields and the status vocabulary.
func (f PlanFields) Validate() error {
	if f.PatientLocalID <= 0 {
		return &ValidationError{Field: "patient_local_id", Message: "required"}
	}
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Message: "required"}
	}
	if err := validatePlanStatus(f.Status); err != nil {
		return err
	}
	return validateDate("start_date", f.StartDate)
}

// StepFields are the domain fields of a PlanStep.
type StepFields struct {
	PlanLocalID int64  `json:"plan_local_id"`
	StepNumber  int    `json:"step_number"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date,omitempty"`
}

func (StepFields) PayloadKind() PayloadKind { return KindStep }
func (StepFields) isPayload()               {}

// Validate checks required fields and the status vocabulary.
func (f StepFields) Validate() error {
	if f.PlanLocalID <= 0 {
		return &ValidationError{Field: "plan_local_id", Message: "required"}
	}
	if f.StepNumber < 1 {
		return &ValidationError{Field: "step_number", Message: "must be at least 1"}
	}
	if err := validateStepStatus(f.Status); err != nil {
		return err
	}
	return validateDate("due_date", f.DueDate)
}

// Tombstone is the payload of a delete. ServerID is the remote identity at
// the time of deletion, empty if the record never reached the server.
type Tombstone struct {
	ServerID string `json:"server_id,omitempty"`
}

func (Tombstone) PayloadKind() PayloadKind { return KindTombstone }
func (Tombstone) isPayload()               {}

// payloadKindFor returns the payload kind a (table, action) pair must carry.
func payloadKindFor(table Table, action Action) (PayloadKind, error) {
	if !action.IsValid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, action)
	}
	if action == ActionDelete {
		if !table.IsValid() {
			return "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
		}
		return KindTombstone, nil
	}
	switch table {
	case TablePatients:
		return KindPatient, nil
	case TableTreatmentPlans:
		return KindPlan, nil
	case TablePlanSteps:
		return KindStep, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// checkPayload verifies the payload matches the (table, action) pair.
func checkPayload(table Table, action Action, p Payload) error {
	want, err := payloadKindFor(table, action)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: missing payload for %s %s", ErrInvalidPayload, action, table)
	}
	if got := p.PayloadKind(); got != want {
		return fmt.Errorf("%w: %s %s carries %s, want %s", ErrInvalidPayload, action, table, got, want)
	}
	return nil
}

type payloadEnvelope struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodePayload serializes a payload with its kind tag.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.PayloadKind(), Data: data})
}

// DecodePayload restores a payload written by EncodePayload.
func DecodePayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var (
		p   Payload
		err error
	)
	switch env.Kind {
	case KindPatient:
		var f PatientFields
		err = json.Unmarshal(env.Data, &f)
		p = f
	case KindPlan:
		var f PlanFields
		err = json.Unmarshal(env.Data, &f)
		p = f
	case KindStep:
		var f StepFields
		err = json.Unmarshal(env.Data, &f)
		p = f
	case KindTombstone:
		var f Tombstone
		err = json.Unmarshal(env.Data, &f)
		p = f
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

func validatePlanStatus(s string) error {
	switch s {
	case PlanStatusDraft, PlanStatusActive, PlanStatusCompleted, PlanStatusCancelled:
		return nil
	}
	return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid plan status %q", s)}
}

func validateStepStatus(s string) error {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusDone, StepStatusSkipped:
		return nil
	}
	return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid step status %q", s)}
}

// validateDate accepts an empty string or a YYYY-MM-DD date.
func validateDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, value); err != nil {
		return &ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return nil
}
