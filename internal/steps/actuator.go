package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// StepTypeActuator — тип шага HTTP-актуатора.
	StepTypeActuator = "actuator"

	defaultActuatorTimeout = 30 * time.Second
	maxResponseBody        = 1024 * 1024 // 1 MB
)

// Ключи конфигурации actuator.
const (
	configMethod      = "method"
	configURL         = "url"
	configHeaders     = "headers"
	configBody        = "body"
	configValidateSSL = "validate_ssl"
)

// ActuatorStep — команда драйверу прибора по HTTP.
//
// Ответ со статусом >= 400 — провал стадии.
//
// Конфигурация:
//
//	{
//	    "url": "http://pump.local/api/dispense",
//	    "method": "POST",
//	    "headers": {"Authorization": "Bearer xxx"},
//	    "body": {"volume_ml": 5},
//	    "validate_ssl": true,
//	    "timeout_sec": 30
//	}
//
// Без body отправляется описание стадии:
//
//	{"testId": "...", "stage": "...", "position": 2, "cycle": 1}
type ActuatorStep struct{}

// NewActuatorStep создаёт новый ActuatorStep.
func NewActuatorStep() *ActuatorStep {
	return &ActuatorStep{}
}

// Type возвращает тип шага.
func (s *ActuatorStep) Type() string {
	return StepTypeActuator
}

// actuatorConfig — распарсенная конфигурация.
type actuatorConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	ValidateSSL bool
	Timeout     time.Duration
}

// Execute отправляет команду актуатору.
func (s *ActuatorStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := s.parseConfig(req)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}

	body, err := json.Marshal(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: body: %v", ErrInvalidConfig, StepTypeActuator, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, StepTypeActuator, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrActionFailed, cfg.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %w", ErrActionFailed, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(respBody),
		})
	}

	var parsed any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = string(respBody)
		}
	} else {
		parsed = string(respBody)
	}

	return NewResponse(map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
	}), nil
}

// parseConfig парсит конфигурацию и подставляет значения по умолчанию.
func (s *ActuatorStep) parseConfig(req *Request) (*actuatorConfig, error) {
	cfg := &actuatorConfig{
		Method:      strings.ToUpper(GetConfigString(req.Config, configMethod)),
		URL:         GetConfigString(req.Config, configURL),
		Headers:     GetConfigMapString(req.Config, configHeaders),
		Body:        req.Config[configBody],
		ValidateSSL: GetConfigBool(req.Config, configValidateSSL, true),
		Timeout:     defaultActuatorTimeout,
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, StepTypeActuator)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if sec := GetConfigInt(req.Config, configTimeoutSec); sec > 0 {
		cfg.Timeout = time.Duration(sec) * time.Second
	}
	if req.Timeout > 0 {
		cfg.Timeout = req.Timeout
	}
	if cfg.Body == nil {
		cfg.Body = map[string]any{
			"testId":   req.TestID,
			"stage":    req.Stage,
			"position": req.Position,
			"cycle":    req.Cycle,
		}
	}

	return cfg, nil
}

// HTTPError — ответ актуатора с ошибочным статусом.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
