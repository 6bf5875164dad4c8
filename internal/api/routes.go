package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Tests
	mux.Handle("GET /api/v1/tests", chain(http.HandlerFunc(h.ListTests)))
	mux.Handle("POST /api/v1/tests/{id}/start", chain(http.HandlerFunc(h.StartTest)))
	mux.Handle("POST /api/v1/tests/{id}/stop", chain(http.HandlerFunc(h.StopTest)))
	mux.Handle("POST /api/v1/tests/{id}/confirm", chain(http.HandlerFunc(h.ConfirmTest)))
	mux.Handle("GET /api/v1/tests/{id}/events", chain(http.HandlerFunc(h.ListTestEvents)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))

	// Workflow
	mux.Handle("GET /api/v1/workflow", chain(http.HandlerFunc(h.GetWorkflow)))
}
