package api

import (
	"net/http"
)

// GetWorkflow возвращает план загруженного workflow.
// GET /api/v1/workflow
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	Success(w, WorkflowFromPlan(h.tests.Plan()))
}
