package wardsync

import (
	"context"
	"fmt"

	"github.com/hyperengineering/wardsync/internal/remote"
)

// clientRef lets the service correlate a record with this installation's
// local row in its logs.
func clientRef(table Table, localID int64) string {
	return fmt.Sprintf("%s/%d", table, localID)
}

// push runs the create, update or delete for one resource.
func push(ctx context.Context, rem Remote, resource string, req PushRequest, body func() any) (string, error) {
	switch req.Action {
	case ActionCreate:
		if req.ServerID != "" {
			return req.ServerID, rem.Update(ctx, resource, req.ServerID, body())
		}
		return rem.Create(ctx, resource, body(), req.IdempotencyKey)
	case ActionUpdate:
		if req.ServerID == "" {
			return "", fmt.Errorf("%w: %s has no server identity", ErrDependencyNotReady, resource)
		}
		return req.ServerID, rem.Update(ctx, resource, req.ServerID, body())
	case ActionDelete:
		if req.ServerID == "" {
			return "", nil
		}
		return req.ServerID, rem.Delete(ctx, resource, req.ServerID)
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, req.Action)
}

func parentID(req PushRequest, table Table) (string, error) {
	id := req.Parents[table]
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrDependencyNotReady, table)
	}
	return id, nil
}

// PatientTranslator pushes patients.
type PatientTranslator struct {
	Remote Remote
}

func (t *PatientTranslator) Table() Table { return TablePatients }

func (t *PatientTranslator) Push(ctx context.Context, req PushRequest) (string, error) {
	if req.Action == ActionDelete {
		return push(ctx, t.Remote, remote.ResourcePatients, req, nil)
	}
	p, ok := req.Record.(*Patient)
	if !ok {
		return "", fmt.Errorf("%w: patient translator got %T", ErrInvalidPayload, req.Record)
	}
	return push(ctx, t.Remote, remote.ResourcePatients, req, func() any {
		return remote.PatientDTO{
			Name:        p.Name,
			MRN:         p.MRN,
			DateOfBirth: p.DateOfBirth,
			Sex:         p.Sex,
			Notes:       p.Notes,
			ClientRef:   clientRef(TablePatients, p.LocalID),
		}
	})
}

// PlanTranslator pushes treatment plans. The patient's server identity
// must be known.
type PlanTranslator struct {
	Remote Remote
}

func (t *PlanTranslator) Table() Table { return TableTreatmentPlans }

func (t *PlanTranslator) Push(ctx context.Context, req PushRequest) (string, error) {
	if req.Action == ActionDelete {
		return push(ctx, t.Remote, remote.ResourceTreatmentPlans, req, nil)
	}
	tp, ok := req.Record.(*TreatmentPlan)
	if !ok {
		return "", fmt.Errorf("%w: plan translator got %T", ErrInvalidPayload, req.Record)
	}
	patientID, err := parentID(req, TablePatients)
	if err != nil {
		return "", err
	}
	return push(ctx, t.Remote, remote.ResourceTreatmentPlans, req, func() any {
		return remote.TreatmentPlanDTO{
			PatientID: patientID,
			Title:     tp.Title,
			Diagnosis: tp.Diagnosis,
			Status:    tp.Status,
			StartDate: tp.StartDate,
			ClientRef: clientRef(TableTreatmentPlans, tp.LocalID),
		}
	})
}

// StepTranslator pushes plan steps. The plan's server identity must be known.
type StepTranslator struct {
	Remote Remote
}

func (t *StepTranslator) Table() Table { return TablePlanSteps }

func (t *StepTranslator) Push(ctx context.Context, req PushRequest) (string, error) {
	if req.Action == ActionDelete {
		return push(ctx, t.Remote, remote.ResourcePlanSteps, req, nil)
	}
	ps, ok := req.Record.(*PlanStep)
	if !ok {
		return "", fmt.Errorf("%w: step translator got %T", ErrInvalidPayload, req.Record)
	}
	planID, err := parentID(req, TableTreatmentPlans)
	if err != nil {
		return "", err
	}
	return push(ctx, t.Remote, remote.ResourcePlanSteps, req, func() any {
		return remote.PlanStepDTO{
			PlanID:      planID,
			StepNumber:  ps.StepNumber,
			Description: ps.Description,
			Status:      ps.Status,
			DueDate:     ps.DueDate,
			ClientRef:   clientRef(TablePlanSteps, ps.LocalID),
		}
	})
}
