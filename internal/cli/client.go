package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TestResponse — активный тест из API.
type TestResponse struct {
	TestID       string  `json:"testId"`
	RunID        string  `json:"run_id"`
	StartTime    string  `json:"start_time"`
	DurationSec  float64 `json:"duration_sec"`
	PendingCycle *int    `json:"pending_cycle,omitempty"`
}

// CommandResponse — результат команды.
type CommandResponse struct {
	TestID  string `json:"testId"`
	Command string `json:"command"`
}

// EventResponse — событие статуса из журнала.
type EventResponse struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id,omitempty"`
	TestID    string `json:"testId"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"run_status"`
	Stage     *int   `json:"run_stage,omitempty"`
	Cycle     *int   `json:"cycle,omitempty"`
	Message   string `json:"message,omitempty"`
}

// RunResponse — прогон из журнала.
type RunResponse struct {
	RunID      string `json:"run_id"`
	TestID     string `json:"testId"`
	Status     string `json:"run_status"`
	Stage      *int   `json:"run_stage,omitempty"`
	Cycle      *int   `json:"cycle,omitempty"`
	Message    string `json:"message,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// StageResponse — стадия workflow.
type StageResponse struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Action   string `json:"action"`
	Capture  bool   `json:"capture,omitempty"`
}

// WorkflowResponse — загруженный workflow.
type WorkflowResponse struct {
	Name       string          `json:"name"`
	Background string          `json:"background,omitempty"`
	MaxCycles  int             `json:"max_cycles"`
	FinalStage int             `json:"final_stage"`
	Stages     []StageResponse `json:"stages"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для API стенда.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tests ---

// ListTests возвращает активные тесты.
func (c *Client) ListTests() ([]TestResponse, error) {
	var tests []TestResponse
	err := c.list("/api/v1/tests", nil, &tests)
	return tests, err
}

// StartTest запускает тест.
func (c *Client) StartTest(testID string) (*CommandResponse, error) {
	var resp CommandResponse
	err := c.post(testPath(testID, "start"), nil, &resp)
	return &resp, err
}

// StopTest останавливает тест.
func (c *Client) StopTest(testID string) (*CommandResponse, error) {
	var resp CommandResponse
	err := c.post(testPath(testID, "stop"), nil, &resp)
	return &resp, err
}

// ConfirmTest отправляет решение по завершённому циклу.
func (c *Client) ConfirmTest(testID string, confirmed bool) (*CommandResponse, error) {
	body := map[string]bool{"confirmed": confirmed}
	var resp CommandResponse
	err := c.post(testPath(testID, "confirm"), body, &resp)
	return &resp, err
}

// ListEvents возвращает события теста из журнала.
func (c *Client) ListEvents(testID string, limit int) ([]EventResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var events []EventResponse
	err := c.list(testPath(testID, "events"), params, &events)
	return events, err
}

// ListRuns возвращает прогоны из журнала. Если testID не пустой — фильтрует.
func (c *Client) ListRuns(testID string, limit int) ([]RunResponse, error) {
	params := url.Values{}
	if testID != "" {
		params.Set("test_id", testID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// --- Workflow ---

// GetWorkflow возвращает загруженный workflow.
func (c *Client) GetWorkflow() (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get("/api/v1/workflow", &wf)
	return &wf, err
}

// --- HTTP helpers ---

func testPath(testID, action string) string {
	return "/api/v1/tests/" + url.PathEscape(testID) + "/" + action
}

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
