package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Labrun/internal/repo"
)

// Значения по умолчанию для выборок.
const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ListTests возвращает активные тесты.
// GET /api/v1/tests
func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	entries := h.tests.ActiveTests()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartTime.Before(entries[j].StartTime)
	})

	now := time.Now()
	result := make([]TestResponse, len(entries))
	for i, e := range entries {
		result[i] = TestFromEntry(e, now)
		if p, ok := h.tests.Pending(e.ID); ok {
			cycle := p.Cycle
			result[i].PendingCycle = &cycle
		}
	}

	List(w, result, len(result))
}

// StartTest запускает тест.
// POST /api/v1/tests/{id}/start
func (h *Handler) StartTest(w http.ResponseWriter, r *http.Request) {
	testID, ok := testIDFromPath(w, r)
	if !ok {
		return
	}

	if HandleTestError(w, h.logger, h.tests.Start(testID)) {
		return
	}

	Accepted(w, CommandResponse{TestID: testID, Command: "start"})
}

// StopTest останавливает тест.
// POST /api/v1/tests/{id}/stop
func (h *Handler) StopTest(w http.ResponseWriter, r *http.Request) {
	testID, ok := testIDFromPath(w, r)
	if !ok {
		return
	}

	if HandleTestError(w, h.logger, h.tests.Stop(testID)) {
		return
	}

	Success(w, CommandResponse{TestID: testID, Command: "stop"})
}

// ConfirmTest передаёт решение оператора по завершённому циклу.
// POST /api/v1/tests/{id}/confirm
func (h *Handler) ConfirmTest(w http.ResponseWriter, r *http.Request) {
	testID, ok := testIDFromPath(w, r)
	if !ok {
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Confirmed == nil {
		BadRequest(w, "confirmed is required")
		return
	}

	if err := h.tests.Confirm(testID, *req.Confirmed); err != nil {
		// Без ожидающего запроса решение не применяется.
		InvalidState(w, err.Error())
		return
	}

	command := "confirm"
	if !*req.Confirmed {
		command = "decline"
	}
	Success(w, CommandResponse{TestID: testID, Command: command})
}

// ListTestEvents возвращает события теста из журнала.
// GET /api/v1/tests/{id}/events?limit=...
func (h *Handler) ListTestEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		Unavailable(w, "run journal is not configured")
		return
	}

	testID, ok := testIDFromPath(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.journal.ListEvents(r.Context(), testID, limit)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]EventResponse, len(records))
	for i, rec := range records {
		result[i] = EventFromRecord(rec)
	}

	List(w, result, len(result))
}

// ListRuns возвращает прогоны из журнала.
// GET /api/v1/runs?test_id=...&limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		Unavailable(w, "run journal is not configured")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := h.journal.ListRuns(r.Context(), repo.RunFilter{
		TestID: r.URL.Query().Get("test_id"),
		Limit:  limit,
	})
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	List(w, runs, len(runs))
}

// --- Helpers ---

// testIDFromPath извлекает testId из пути.
func testIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	testID := strings.TrimSpace(r.PathValue("id"))
	if testID == "" {
		BadRequest(w, "empty test id")
		return "", false
	}
	return testID, true
}

// parseLimit читает ?limit= (по умолчанию 100, не больше 1000).
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, true
	}

	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		BadRequest(w, "invalid limit")
		return 0, false
	}
	return min(limit, maxLimit), true
}
