package remote

// Resource paths under /api/v1.
const (
	ResourcePatients       = "patients"
	ResourceTreatmentPlans = "treatment-plans"
	ResourcePlanSteps      = "plan-steps"
)

// PatientDTO is the wire representation of a patient.
type PatientDTO struct {
	Name        string `json:"name"`
	MRN         string `json:"mrn,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// TreatmentPlanDTO is the wire representation of a treatment plan.
// PatientID is the patient's server identity.
type TreatmentPlanDTO struct {
	PatientID string `json:"patient_id"`
	Title     string `json:"title"`
	Diagnosis string `json:"diagnosis,omitempty"`
	Status    string `json:"status"`
	StartDate string `json:"start_date,omitempty"`
	ClientRef string `json:"client_ref,omitempty"`
}

// PlanStepDTO is the wire representation of a plan step.
// PlanID is the treatment plan's server identity.
type PlanStepDTO struct {
	PlanID      string `json:"plan_id"`
	StepNumber  int    `json:"step_number"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date,omitempty"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// CreateResponse is returned by every create endpoint.
type CreateResponse struct {
	ID string `json:"id"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
