package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Labrun/internal/domain"
)

func testContext(t *testing.T) *Context {
	t.Helper()

	def, err := Preset(PresetClassic)
	require.NoError(t, err)
	plan, err := NewPlan(def)
	require.NoError(t, err)

	ctx := NewContext("T-42", "run-1", plan)
	ctx.SetVar("lab_id", "lab7")
	return ctx.At(plan.Cycle[0], 2)
}

func TestNewContext(t *testing.T) {
	ctx := NewContext("T1", "r1", nil)
	assert.Equal(t, "T1", ctx.TestID)
	assert.NotNil(t, ctx.Steps)
	assert.NotNil(t, ctx.Vars)
	assert.Zero(t, ctx.MaxCycles)
}

func TestContext_At(t *testing.T) {
	base := NewContext("T1", "r1", nil)
	stage := Stage{Position: 3, Step: domain.StageStep{Name: "Dilution"}}

	at := base.At(stage, 4)
	assert.Equal(t, "Dilution", at.Stage)
	assert.Equal(t, 3, at.Position)
	assert.Equal(t, 4, at.Cycle)
	assert.Empty(t, base.Stage, "base context must not change")

	// Steps общие: результат, добавленный через копию, виден в исходном.
	at.AddStepResult("Dilution", 4, map[string]any{"ok": true})
	require.Contains(t, base.Steps, "Dilution")
	assert.Equal(t, 4, base.Steps["Dilution"].Cycle)
}

func TestContext_AddStepResult(t *testing.T) {
	ctx := NewContext("T1", "r1", nil)

	ctx.AddStepResult("Dissolution", 1, map[string]any{"elapsed_ms": 10})
	ctx.AddStepResult("Dissolution", 2, nil)

	step := ctx.Steps["Dissolution"]
	require.NotNil(t, step)
	assert.Equal(t, 2, step.Cycle, "later cycle overwrites")
	assert.NotNil(t, step.Outputs)
}

func TestRender(t *testing.T) {
	ctx := testContext(t)
	ctx.AddStepResult("Preparation", 0, map[string]any{"elapsed_ms": 1500})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain string", "no templates", "no templates"},
		{"test id", "{{ .TestID }}", "T-42"},
		{"cycle of max", "cycle {{ .Cycle }}/{{ .MaxCycles }}", "cycle 2/5"},
		{"padded cycle", "img_{{ pad 3 .Cycle }}.png", "img_002.png"},
		{"var", "{{ .Vars.lab_id }}", "lab7"},
		{"previous step output", "{{ .Steps.Preparation.Outputs.elapsed_ms }}", "1500"},
		{"default", `{{ default "x" "" }}`, "x"},
		{"upper", "{{ upper .TestID }}", "T-42"},
		{"lower", "{{ lower .Stage }}", "dissolution"},
		{"json", "{{ json .Position }}", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	ctx := testContext(t)

	_, err := Render("{{ .TestID", ctx)
	assert.ErrorIs(t, err, ErrTemplateParse)

	_, err = Render("{{ .Vars.missing }}", ctx)
	assert.ErrorIs(t, err, ErrTemplateRender)

	_, err = Render("{{ .Steps.Unknown.Outputs.x }}", ctx)
	assert.ErrorIs(t, err, ErrTemplateRender)
}

func TestRenderConfig(t *testing.T) {
	ctx := testContext(t)

	config := map[string]any{
		"path":        "analyze.py",
		"args":        []any{"--test", "{{ .TestID }}", "--cycle", "{{ .Cycle }}"},
		"timeout_sec": 30,
		"nested":      map[string]any{"label": "{{ .Stage }}"},
		"names":       []string{"{{ .Workflow }}"},
	}

	got, err := RenderConfig(config, ctx)
	require.NoError(t, err)

	assert.Equal(t, "analyze.py", got["path"])
	assert.Equal(t, []any{"--test", "T-42", "--cycle", "2"}, got["args"])
	assert.Equal(t, 30, got["timeout_sec"])
	assert.Equal(t, map[string]any{"label": "Dissolution"}, got["nested"])
	assert.Equal(t, []string{"classic"}, got["names"])

	// Исходная конфигурация не меняется.
	assert.Equal(t, "{{ .TestID }}", config["args"].([]any)[1])
}

func TestRenderConfig_Empty(t *testing.T) {
	got, err := RenderConfig(nil, NewContext("T1", "r1", nil))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckTemplates(t *testing.T) {
	assert.NoError(t, CheckTemplates(map[string]any{
		"args": []any{"{{ .TestID }}", 5},
		"path": "plain",
	}))

	err := CheckTemplates(map[string]any{"args": []string{"{{ .TestID"}})
	assert.ErrorIs(t, err, ErrTemplateParse)
}

func TestValidate_BrokenTemplate(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Name: "broken",
		Stages: []domain.StageStep{
			{Name: "A", Kind: domain.StageOnce, Action: "script", Config: map[string]any{"path": "{{ .TestID"}},
		},
	}

	err := Validate(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateParse)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "config", verr.Field)
}
