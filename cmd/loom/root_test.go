package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "loom dev")
	require.Contains(t, out, "commit: none")
}

func TestToolsCommandListsBuiltins(t *testing.T) {
	out, err := execute(t, "tools")
	require.NoError(t, err)
	require.Contains(t, out, "search")
	require.Contains(t, out, "calculator")
	require.Contains(t, out, "visit_url")
	require.Contains(t, out, "query (string, required)")
}

func TestRunRequiresGoalArgument(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestRunRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := execute(t, "run", "--plain", "do something")
	require.Error(t, err)
	require.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestSessionsListEmptyStore(t *testing.T) {
	out, err := execute(t, "sessions", "list")
	require.NoError(t, err)
	require.Contains(t, out, "ID")
}
