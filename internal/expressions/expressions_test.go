package expressions

import (
	"context"
	"testing"

	"github.com/rendis/artifactflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- CEL ---

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_ArtifactGuard(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"artifact": map[string]any{
			"identifier": "chart-1",
			"type":       "application/vnd.pas.react",
			"file_count": int64(2),
		},
	}

	out, err := e.EvaluateBool(context.Background(), `artifact.file_count >= 1`, data)
	require.NoError(t, err)
	assert.True(t, out)

	out, err = e.EvaluateBool(context.Background(), `artifact.identifier.startsWith("chart")`, data)
	require.NoError(t, err)
	assert.True(t, out)
}

func TestCEL_MissingKeysDefaultToEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(artifact) == 0 && prompt == ""`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileErrorIsValidation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `artifact ==`, nil)
	require.Error(t, err)
	var pErr *schema.PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, schema.ErrCodeValidation, pErr.Code)
}

func TestCEL_NonBoolGuardRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), `"not a bool"`, nil)
	require.Error(t, err)
}

// --- Expr ---

func TestExpr_ClassificationRule(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	data := map[string]any{
		"prompt":       "Build me a dashboard with charts",
		"prompt_lower": "build me a dashboard with charts",
		"word_count":   6,
	}

	out, err := e.Evaluate(context.Background(), `prompt_lower contains "dashboard" and word_count > 3`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_EmptyExpressionRejected(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExpr_CompiledProgramsAreCached(t *testing.T) {
	e := NewExprEngine()

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(context.Background(), `1 + 1`, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, out)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

// --- GoJQ ---

func TestGoJQ_ResultQuery(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	data := map[string]any{
		"artifact_count": 2,
		"artifacts": []any{
			map[string]any{"identifier": "a", "is_valid": true},
			map[string]any{"identifier": "b", "is_valid": false},
		},
	}

	out, err := e.Evaluate(context.Background(), `.artifacts | map(select(.is_valid)) | length`, data)
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestGoJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"artifacts": []any{
			map[string]any{"identifier": "a"},
			map[string]any{"identifier": "b"},
		},
	}

	out, err := e.Evaluate(context.Background(), `.artifacts[].identifier`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_ParseErrorIsValidation(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[unclosed`, nil)
	require.Error(t, err)
	var pErr *schema.PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, schema.ErrCodeValidation, pErr.Code)
}

func TestGoJQ_EnvAccessIsSandboxed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}
