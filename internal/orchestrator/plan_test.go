package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/internal/tool"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

func TestDecodePlanPlainJSON(t *testing.T) {
	t.Parallel()

	spec, err := decodePlan(`{"title":"t","steps":[{"title":"s","tool":"echo","args":{"msg":"hi"}}]}`)
	require.NoError(t, err)
	require.Equal(t, "t", spec.Title)
	require.Len(t, spec.Steps, 1)
	require.Equal(t, "echo", spec.Steps[0].Tool)
}

func TestDecodePlanToleratesFences(t *testing.T) {
	t.Parallel()

	reply := "Here is the plan:\n```json\n" +
		`{"title":"fenced","steps":[{"title":"s","tool":"echo","args":{}}]}` +
		"\n```\nLet me know!"
	spec, err := decodePlan(reply)
	require.NoError(t, err)
	require.Equal(t, "fenced", spec.Title)
}

func TestDecodePlanBracesInsideStrings(t *testing.T) {
	t.Parallel()

	spec, err := decodePlan(`{"title":"tricky {brace}","steps":[{"title":"s","tool":"echo","args":{"msg":"a } b"}}]}`)
	require.NoError(t, err)
	require.Equal(t, "tricky {brace}", spec.Title)
	require.Equal(t, "a } b", spec.Steps[0].Args["msg"])
}

func TestDecodePlanRejectsProse(t *testing.T) {
	t.Parallel()

	_, err := decodePlan("I cannot help with that.")
	require.Error(t, err)
}

func TestDecodePlanRejectsEmptySteps(t *testing.T) {
	t.Parallel()

	_, err := decodePlan(`{"title":"t","steps":[]}`)
	require.Error(t, err)
}

func planRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.RegisterFunc(
		tool.Metadata{Name: "echo", Description: "echoes"},
		tool.Schema{Args: []tool.Arg{
			{Name: "msg", Type: "string", Required: true},
			{Name: "loud", Type: "boolean"},
		}},
		nil,
	))
	return reg
}

func TestValidatePlanAccepts(t *testing.T) {
	t.Parallel()

	reg := planRegistry(t)
	err := validatePlan(reg, []stepSpec{
		{Title: "s", Tool: "echo", Args: map[string]any{"msg": "hi", "loud": true}},
	})
	require.NoError(t, err)
}

func TestValidatePlanUnknownTool(t *testing.T) {
	t.Parallel()

	reg := planRegistry(t)
	err := validatePlan(reg, []stepSpec{{Title: "s", Tool: "ghost"}})
	var unknown *loomerrors.UnknownToolError
	require.ErrorAs(t, err, &unknown)
}

func TestValidatePlanArgumentIssues(t *testing.T) {
	t.Parallel()

	reg := planRegistry(t)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing required", map[string]any{}, `missing required argument "msg"`},
		{"undeclared", map[string]any{"msg": "hi", "volume": 11}, `undeclared argument "volume"`},
		{"wrong type", map[string]any{"msg": 42}, `argument "msg" must be string`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validatePlan(reg, []stepSpec{{Title: "s", Tool: "echo", Args: tt.args}})
			var invalid *loomerrors.InvalidArgsError
			require.ErrorAs(t, err, &invalid)
			require.Contains(t, err.Error(), tt.want)
			require.Contains(t, err.Error(), "step 1")
		})
	}
}

func TestTypeMatches(t *testing.T) {
	t.Parallel()

	require.True(t, typeMatches("number", float64(3.5)))
	require.True(t, typeMatches("integer", float64(3)))
	require.False(t, typeMatches("integer", float64(3.5)))
	require.True(t, typeMatches("array", []any{"a"}))
	require.True(t, typeMatches("object", map[string]any{}))
	require.True(t, typeMatches("any", struct{}{}))
	require.False(t, typeMatches("boolean", "true"))
}

func TestDepIndex(t *testing.T) {
	t.Parallel()

	ix, err := depIndex(float64(2))
	require.NoError(t, err)
	require.Equal(t, "2", ix)

	ix, err = depIndex("1.3")
	require.NoError(t, err)
	require.Equal(t, "1.3", ix)

	_, err = depIndex(float64(0))
	require.Error(t, err)

	_, err = depIndex(float64(1.5))
	require.Error(t, err)

	_, err = depIndex(true)
	require.Error(t, err)
}

func TestFirstSentence(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Done.", firstSentence("Done. And then some more rambling."))
	require.Equal(t, "No punctuation here", firstSentence("No punctuation here"))
	require.Equal(t, "Pi is 3.14 roughly!", firstSentence("Pi is 3.14 roughly! More detail."))
}

func TestIsDone(t *testing.T) {
	t.Parallel()

	require.True(t, isDone("DONE"))
	require.True(t, isDone("  done.\n"))
	require.False(t, isDone("DONE, but consider this sub-plan"))
}
