package response

import "github.com/user/scraper-service/internal/entity"

type SubmitWorkflowResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

type ValidateWorkflowResponse struct {
	Valid      bool               `json:"valid"`
	Violations []entity.Violation `json:"violations,omitempty"`
}

type CancelRunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

type ProvidersResponse struct {
	Scraping []string `json:"scraping"`
	Storage  []string `json:"storage"`
}
