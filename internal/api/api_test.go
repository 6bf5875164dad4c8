package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/gate"
	"github.com/shaiso/Labrun/internal/orchestrator"
	"github.com/shaiso/Labrun/internal/registry"
	"github.com/shaiso/Labrun/internal/repo"
)

// fakeTests — оркестратор в памяти.
type fakeTests struct {
	mu        sync.Mutex
	active    map[string]registry.Entry
	pending   map[string]int
	confirmed map[string]bool
	stopped   bool
	plan      *engine.Plan
}

func newFakeTests(t *testing.T) *fakeTests {
	def, err := engine.Preset(engine.PresetClassic)
	require.NoError(t, err)
	plan, err := engine.NewPlan(def)
	require.NoError(t, err)

	return &fakeTests{
		active:    make(map[string]registry.Entry),
		pending:   make(map[string]int),
		confirmed: make(map[string]bool),
		plan:      plan,
	}
}

func (f *fakeTests) Start(testID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return orchestrator.ErrOrchestratorStopped
	}
	if _, ok := f.active[testID]; ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrAlreadyRunning, testID)
	}
	f.active[testID] = registry.Entry{ID: testID, RunID: uuid.New(), StartTime: time.Now()}
	return nil
}

func (f *fakeTests) Stop(testID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[testID]; !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrTestNotActive, testID)
	}
	delete(f.active, testID)
	return nil
}

func (f *fakeTests) Confirm(testID string, confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[testID]; !ok {
		return fmt.Errorf("%w: no pending confirmation for %s", orchestrator.ErrTestNotActive, testID)
	}
	delete(f.pending, testID)
	f.confirmed[testID] = confirmed
	return nil
}

func (f *fakeTests) ActiveTests() []registry.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]registry.Entry, 0, len(f.active))
	for _, e := range f.active {
		entries = append(entries, e)
	}
	return entries
}

func (f *fakeTests) Pending(testID string) (gate.Pending, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.pending[testID]
	if !ok {
		return gate.Pending{}, false
	}
	return gate.Pending{TestID: testID, Cycle: cycle}, true
}

func (f *fakeTests) Plan() *engine.Plan {
	return f.plan
}

// fakeJournal — журнал в памяти.
type fakeJournal struct {
	events    []repo.EventRecord
	runs      []domain.RunSummary
	lastLimit int
	lastRun   repo.RunFilter
	err       error
}

func (j *fakeJournal) ListEvents(_ context.Context, testID string, limit int) ([]repo.EventRecord, error) {
	j.lastLimit = limit
	if j.err != nil {
		return nil, j.err
	}
	var out []repo.EventRecord
	for _, e := range j.events {
		if e.TestID == testID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.RunSummary, error) {
	j.lastRun = filter
	return j.runs, j.err
}

func newServer(t *testing.T, tests Tests, journal Journal) *httptest.Server {
	t.Helper()

	h := NewHandler(Config{
		Tests:   tests,
		Journal: journal,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	detail, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error in body: %v", body)
	return detail["code"].(string)
}

func TestStartStop(t *testing.T) {
	tests := newFakeTests(t)
	srv := newServer(t, tests, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/start", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "t-1", body["data"].(map[string]any)["testId"])
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(ErrCodeConflict), errorCode(t, body))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/tests", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(ErrCodeNotFound), errorCode(t, body))
}

func TestStart_OrchestratorStopped(t *testing.T) {
	tests := newFakeTests(t)
	tests.stopped = true
	srv := newServer(t, tests, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(ErrCodeUnavailable), errorCode(t, body))
}

func TestListTests_PendingCycle(t *testing.T) {
	tests := newFakeTests(t)
	require.NoError(t, tests.Start("t-1"))
	tests.pending["t-1"] = 3
	srv := newServer(t, tests, nil)

	_, body := do(t, http.MethodGet, srv.URL+"/api/v1/tests", "")
	items := body["data"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "t-1", item["testId"])
	assert.EqualValues(t, 3, item["pending_cycle"])
}

func TestConfirm(t *testing.T) {
	tests := newFakeTests(t)
	srv := newServer(t, tests, nil)

	t.Run("invalid body", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/confirm", "{")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing field", func(t *testing.T) {
		resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/confirm", "{}")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("nothing pending", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/confirm", `{"confirmed":true}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, string(ErrCodeInvalidState), errorCode(t, body))
	})

	t.Run("decline", func(t *testing.T) {
		tests.mu.Lock()
		tests.pending["t-1"] = 2
		tests.mu.Unlock()

		resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/tests/t-1/confirm", `{"confirmed":false}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "decline", body["data"].(map[string]any)["command"])

		confirmed, ok := tests.confirmed["t-1"]
		require.True(t, ok)
		assert.False(t, confirmed)
	})
}

func TestEvents(t *testing.T) {
	t.Run("no journal", func(t *testing.T) {
		srv := newServer(t, newFakeTests(t), nil)

		resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/tests/t-1/events", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, string(ErrCodeUnavailable), errorCode(t, body))

		resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/runs", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("from journal", func(t *testing.T) {
		stage := 2
		journal := &fakeJournal{events: []repo.EventRecord{
			{ID: 1, StatusEvent: domain.NewStatusEvent("t-1", domain.StatusStarted).WithStage(0)},
			{ID: 2, StatusEvent: domain.NewStatusEvent("t-1", domain.StatusRunning).WithStage(stage)},
			{ID: 3, StatusEvent: domain.NewStatusEvent("t-2", domain.StatusStarted).WithStage(0)},
		}}
		srv := newServer(t, newFakeTests(t), journal)

		resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/tests/t-1/events?limit=5", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 5, journal.lastLimit)

		items := body["data"].([]any)
		require.Len(t, items, 2)
		assert.Equal(t, "running", items[1].(map[string]any)["run_status"])
		assert.EqualValues(t, 2, items[1].(map[string]any)["run_stage"])
	})

	t.Run("invalid limit", func(t *testing.T) {
		srv := newServer(t, newFakeTests(t), &fakeJournal{})

		resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/tests/t-1/events?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("journal error", func(t *testing.T) {
		srv := newServer(t, newFakeTests(t), &fakeJournal{err: errors.New("db down")})

		resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/tests/t-1/events", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, string(ErrCodeInternalError), errorCode(t, body))
	})
}

func TestListRuns(t *testing.T) {
	journal := &fakeJournal{runs: []domain.RunSummary{
		{RunID: uuid.New(), TestID: "t-1", Status: domain.StatusCompleted},
	}}
	srv := newServer(t, newFakeTests(t), journal)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/runs?test_id=t-1&limit=5000", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, "t-1", journal.lastRun.TestID)
	assert.Equal(t, maxLimit, journal.lastRun.Limit)
}

func TestGetWorkflow(t *testing.T) {
	tests := newFakeTests(t)
	srv := newServer(t, tests, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/workflow", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]any)
	assert.Equal(t, tests.plan.Name, data["name"])
	assert.EqualValues(t, tests.plan.MaxCycles, data["max_cycles"])
	assert.EqualValues(t, tests.plan.FinalStage(), data["final_stage"])
	assert.Len(t, data["stages"].([]any), len(tests.plan.Stages()))
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWrongMethod(t *testing.T) {
	srv := newServer(t, newFakeTests(t), nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/tests/t-1/start", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// 405 отдаёт сам ServeMux по шаблонам с методом.
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), http.MethodPost)
}
