package request

import "github.com/user/scraper-service/internal/entity"

// ExecuteWorkflowRequest wraps a workflow definition for submission.
type ExecuteWorkflowRequest struct {
	Workflow entity.Workflow `json:"workflow"`
}

// ValidateWorkflowRequest wraps a workflow definition for dry-run validation.
type ValidateWorkflowRequest struct {
	Workflow entity.Workflow `json:"workflow"`
}
