package entity

import "time"

// StepStatus is the outcome of one step within a run.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStatus is the overall outcome of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// ErrorKind classifies errors recorded in a run result.
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "validation"
	ErrKindNavigation     ErrorKind = "navigation"
	ErrKindDiscovery      ErrorKind = "discovery"
	ErrKindExtraction     ErrorKind = "extraction"
	ErrKindPostProcessing ErrorKind = "post_processing"
	ErrKindStorage        ErrorKind = "storage"
	ErrKindCancellation   ErrorKind = "cancellation"
	ErrKindCleanup        ErrorKind = "cleanup"
)

// RunError is one structured error entry in a WorkflowResult. The engine never
// lets a raw error escape its boundary; everything is recorded here.
type RunError struct {
	StepID  string    `json:"step_id,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StepResult is the append-only outcome record of one step.
type StepResult struct {
	StepID    string        `json:"step_id"`
	Kind      StepKind      `json:"kind"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration_ns"`
	Elements  []DataElement `json:"elements,omitempty"`
	Error     *RunError     `json:"error,omitempty"`
	Retries   int           `json:"retries"`
}

// WorkflowResult is the structured outcome of one run. It is created in the
// running state and finalized exactly once when the run terminates.
type WorkflowResult struct {
	RunID           string        `json:"run_id"`
	WorkflowName    string        `json:"workflow_name"`
	Status          RunStatus     `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at,omitzero"`
	Duration        time.Duration `json:"duration_ns"`
	Steps           []StepResult  `json:"steps"`
	TotalRecords    int           `json:"total_records"`
	StorageLocation string        `json:"storage_location,omitempty"`
	Errors          []RunError    `json:"errors,omitempty"`
}

// NewWorkflowResult creates an in-progress result for the given run.
func NewWorkflowResult(runID, workflowName string) *WorkflowResult {
	return &WorkflowResult{
		RunID:        runID,
		WorkflowName: workflowName,
		Status:       RunRunning,
		StartedAt:    time.Now(),
	}
}

// AddError appends a non-fatal error entry.
func (r *WorkflowResult) AddError(stepID string, kind ErrorKind, message string) {
	r.Errors = append(r.Errors, RunError{StepID: stepID, Kind: kind, Message: message})
}

// Finalize stamps the terminal status and timing. A result that has already
// been finalized keeps its first terminal status.
func (r *WorkflowResult) Finalize(status RunStatus) {
	if r.Status != RunRunning {
		return
	}
	r.Status = status
	r.EndedAt = time.Now()
	r.Duration = r.EndedAt.Sub(r.StartedAt)
}

// Violation is one structural defect found by workflow validation.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationReport lists every violation found in a workflow definition.
type ValidationReport struct {
	Violations []Violation `json:"violations"`
}

// OK reports whether the workflow passed validation.
func (v *ValidationReport) OK() bool { return len(v.Violations) == 0 }

// Add appends a violation to the report.
func (v *ValidationReport) Add(field, message string) {
	v.Violations = append(v.Violations, Violation{Field: field, Message: message})
}
