package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Context — данные для шаблонов в конфигурации стадий.
//
// Строки конфигурации могут ссылаться на текущий прогон:
//   - {{ .TestID }}, {{ .Cycle }}, {{ .Position }}
//   - {{ .Steps.Dissolution.Outputs.elapsed_ms }} — результат уже пройденной стадии
//   - {{ .Vars.lab_id }} — переменные из конфигурации стенда
//
// Например, скрипт анализа получает номер цикла:
// args: ["--test", "{{ .TestID }}", "--cycle", "{{ .Cycle }}"].
type Context struct {
	// TestID — внешний идентификатор теста.
	TestID string `json:"testId"`

	// RunID — идентификатор прогона.
	RunID string `json:"run_id"`

	// Workflow — имя workflow.
	Workflow string `json:"workflow"`

	// Stage — имя текущей стадии.
	Stage string `json:"stage"`

	// Position — позиция текущей стадии.
	Position int `json:"position"`

	// Cycle — текущий цикл, 0 вне per_cycle блока.
	Cycle int `json:"cycle"`

	// MaxCycles — число циклов workflow.
	MaxCycles int `json:"max_cycles"`

	// Steps — результаты завершённых стадий (в цикле — последнего прохода).
	Steps map[string]*StepContext `json:"steps"`

	// Vars — переменные стенда (workflow.vars).
	Vars map[string]string `json:"vars"`
}

// StepContext — результат стадии для использования в шаблонах.
type StepContext struct {
	// Outputs — выходные данные стадии.
	Outputs map[string]any `json:"outputs"`

	// Cycle — цикл, в котором стадия выполнялась.
	Cycle int `json:"cycle"`
}

// NewContext создаёт контекст прогона.
func NewContext(testID, runID string, plan *Plan) *Context {
	ctx := &Context{
		TestID: testID,
		RunID:  runID,
		Steps:  make(map[string]*StepContext),
		Vars:   make(map[string]string),
	}
	if plan != nil {
		ctx.Workflow = plan.Name
		ctx.MaxCycles = plan.MaxCycles
	}
	return ctx
}

// At возвращает копию контекста для стадии stage в цикле cycle.
// Steps и Vars общие с исходным контекстом.
func (c *Context) At(stage Stage, cycle int) *Context {
	cp := *c
	cp.Stage = stage.Step.Name
	cp.Position = stage.Position
	cp.Cycle = cycle
	return &cp
}

// AddStepResult запоминает результат стадии. Повтор стадии
// в следующем цикле перезаписывает результат.
func (c *Context) AddStepResult(stage string, cycle int, outputs map[string]any) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	c.Steps[stage] = &StepContext{
		Outputs: outputs,
		Cycle:   cycle,
	}
}

// SetVar устанавливает переменную.
func (c *Context) SetVar(key, value string) {
	c.Vars[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// pad — номер с ведущими нулями: {{ pad 3 .Cycle }} → 002
	"pad": func(width, n int) string {
		return fmt.Sprintf("%0*d", width, n)
	},

	"join":    func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
// Строки без "{{" возвращаются как есть.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// int, float, bool и nil возвращаются как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию стадии. Исходная карта не меняется:
// одна и та же стадия рендерится заново в каждом цикле.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	if len(config) == 0 {
		return config, nil
	}

	rendered, err := RenderValue(config, ctx)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]any), nil
}

// CheckTemplates разбирает все шаблоны конфигурации без подстановки,
// чтобы синтаксические ошибки находились при загрузке workflow.
func CheckTemplates(value any) error {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return nil
		}
		if _, err := template.New("").Funcs(templateFuncs).Parse(v); err != nil {
			return fmt.Errorf("%w: %v", ErrTemplateParse, err)
		}
	case map[string]any:
		for _, val := range v {
			if err := CheckTemplates(val); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range v {
			if err := CheckTemplates(val); err != nil {
				return err
			}
		}
	case []string:
		for _, val := range v {
			if err := CheckTemplates(val); err != nil {
				return err
			}
		}
	}
	return nil
}
