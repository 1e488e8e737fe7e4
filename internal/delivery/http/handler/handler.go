package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/scraper-service/internal/delivery/http/request"
	"github.com/user/scraper-service/internal/delivery/http/response"
	"github.com/user/scraper-service/internal/engine"
)

type Handler struct {
	engine engine.Service
}

func NewHandler(svc engine.Service) *Handler {
	return &Handler{engine: svc}
}

// HandleSubmitWorkflow validates a workflow and, if it passes, starts it in
// the background and returns its run id.
func (h *Handler) HandleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req request.ExecuteWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report := h.engine.Validate(&req.Workflow)
	if !report.OK() {
		h.writeJSON(w, http.StatusUnprocessableEntity, response.ValidateWorkflowResponse{
			Valid:      false,
			Violations: report.Violations,
		})
		return
	}

	runID := h.engine.Submit(&req.Workflow)
	h.writeJSON(w, http.StatusAccepted, response.SubmitWorkflowResponse{
		Status:  "accepted",
		Message: "Workflow submitted for execution",
		RunID:   runID,
	})
}

// HandleValidateWorkflow checks a workflow definition without executing it.
func (h *Handler) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req request.ValidateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report := h.engine.Validate(&req.Workflow)
	h.writeJSON(w, http.StatusOK, response.ValidateWorkflowResponse{
		Valid:      report.OK(),
		Violations: report.Violations,
	})
}

// HandleGetRun reports the current state of a run, in progress or finished.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("id"))
	if runID == "" {
		h.writeJSONError(w, "Run id is required", http.StatusBadRequest)
		return
	}

	result, ok := h.engine.Run(runID)
	if !ok {
		h.writeJSONError(w, "No run with the given id", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleCancelRun aborts an active run.
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("id"))
	if runID == "" {
		h.writeJSONError(w, "Run id is required", http.StatusBadRequest)
		return
	}

	if err := h.engine.Cancel(runID); err != nil {
		h.writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.CancelRunResponse{
		Status:  "accepted",
		Message: "Cancellation requested",
		RunID:   runID,
	})
}

// HandleListProviders lists the registered scraping and storage providers.
func (h *Handler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	scrapers, storages := h.engine.Providers()
	h.writeJSON(w, http.StatusOK, response.ProvidersResponse{
		Scraping: scrapers,
		Storage:  storages,
	})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
