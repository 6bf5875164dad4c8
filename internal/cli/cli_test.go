package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI — минимальная реализация API стенда.
type fakeAPI struct {
	confirmed *bool
	lastQuery string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/v1/tests", func(w http.ResponseWriter, r *http.Request) {
		cycle := 2
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []TestResponse{{
				TestID:       "T1",
				RunID:        "9a7c",
				StartTime:    "2025-01-01T10:00:00Z",
				DurationSec:  42,
				PendingCycle: &cycle,
			}},
			"total": 1,
		})
	})
	mux.HandleFunc("POST /api/v1/tests/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "busy" {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]string{"code": "CONFLICT", "message": "test already running: busy"},
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"data": CommandResponse{TestID: r.PathValue("id"), Command: "start"},
		})
	})
	mux.HandleFunc("POST /api/v1/tests/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": CommandResponse{TestID: r.PathValue("id"), Command: "stop"},
		})
	})
	mux.HandleFunc("POST /api/v1/tests/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Confirmed bool `json:"confirmed"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.confirmed = &req.Confirmed
		writeJSON(w, http.StatusOK, map[string]any{
			"data": CommandResponse{TestID: r.PathValue("id"), Command: "confirm"},
		})
	})
	mux.HandleFunc("GET /api/v1/tests/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = r.URL.RawQuery
		stage := 3
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []EventResponse{
				{ID: 1, TestID: "T1", Status: "started", Timestamp: "2025-01-01T10:00:00Z"},
				{ID: 2, TestID: "T1", Status: "running", Stage: &stage, Timestamp: "2025-01-01T10:00:05Z"},
			},
			"total": 2,
		})
	})
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{"code": "UNAVAILABLE", "message": "run journal is not configured"},
		})
	})
	mux.HandleFunc("GET /api/v1/workflow", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": WorkflowResponse{
				Name:       "classic",
				Background: "heater",
				MaxCycles:  5,
				FinalStage: 5,
				Stages: []StageResponse{
					{Position: 1, Name: "Preparation", Kind: "once", Action: "delay"},
					{Position: 2, Name: "Dissolution", Kind: "per_cycle", Action: "delay", Capture: true},
				},
			},
		})
	})

	return mux
}

// run выполняет команду CLI против fakeAPI.
func run(t *testing.T, api *fakeAPI, jsonMode bool, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	var out, errOut bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL + "/") }
	outputFn := func() *Output { return NewOutputTo(&out, &errOut, jsonMode) }

	root := &cobra.Command{Use: "labrun", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		NewTestCmd(clientFn, outputFn),
		NewWorkflowCmd(clientFn, outputFn),
	)
	root.SetArgs(args)

	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestTestList(t *testing.T) {
	stdout, _, err := run(t, &fakeAPI{}, false, "test", "list")
	require.NoError(t, err)

	assert.Contains(t, stdout, "TEST_ID")
	assert.Contains(t, stdout, "T1")
	assert.Contains(t, stdout, "42s")
}

func TestTestList_JSON(t *testing.T) {
	stdout, _, err := run(t, &fakeAPI{}, true, "test", "list")
	require.NoError(t, err)

	var tests []TestResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &tests))
	require.Len(t, tests, 1)
	require.NotNil(t, tests[0].PendingCycle)
	assert.Equal(t, 2, *tests[0].PendingCycle)
}

func TestTestStart(t *testing.T) {
	_, stderr, err := run(t, &fakeAPI{}, false, "test", "start", "T1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Test T1 started")
}

func TestTestStart_Conflict(t *testing.T) {
	_, _, err := run(t, &fakeAPI{}, false, "test", "start", "busy")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "CONFLICT", apiErr.Code)
}

func TestTestStop(t *testing.T) {
	_, stderr, err := run(t, &fakeAPI{}, false, "test", "stop", "T1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Test T1 stopped")
}

func TestTestConfirm(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"confirm", []string{"test", "confirm", "T1"}, true},
		{"decline", []string{"test", "confirm", "T1", "--decline"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			_, _, err := run(t, api, false, tt.args...)
			require.NoError(t, err)
			require.NotNil(t, api.confirmed)
			assert.Equal(t, tt.want, *api.confirmed)
		})
	}
}

func TestTestEvents(t *testing.T) {
	api := &fakeAPI{}
	stdout, _, err := run(t, api, false, "test", "events", "T1", "--limit", "20")
	require.NoError(t, err)

	assert.Equal(t, "limit=20", api.lastQuery)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "started")
	assert.Contains(t, lines[3], "running")
	assert.Contains(t, lines[3], "3")
}

func TestTestRuns_Unavailable(t *testing.T) {
	_, _, err := run(t, &fakeAPI{}, false, "test", "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAVAILABLE")
}

func TestWorkflowShow(t *testing.T) {
	stdout, stderr, err := run(t, &fakeAPI{}, false, "workflow", "show")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Workflow classic: 5 cycles, background heater")
	assert.Contains(t, stdout, "Dissolution")
	assert.Contains(t, stdout, "per_cycle")
	assert.Contains(t, stdout, "yes")
}

func TestOptInt(t *testing.T) {
	v := 7
	assert.Equal(t, "7", optInt(&v))
	assert.Equal(t, "-", optInt(nil))
}
