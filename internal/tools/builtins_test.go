package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftworks/loom/internal/tool"
)

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := tool.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	require.Equal(t, []string{"calculator", "echo", "search", "sum", "visit_url", "weather"}, reg.Names())
}

func TestBuiltinEchoAndWeather(t *testing.T) {
	t.Parallel()

	reg := tool.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	echoTool, err := reg.Get("echo")
	require.NoError(t, err)
	result, err := echoTool.Execute(context.Background(), map[string]any{"msg": "hi"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echo": map[string]any{"msg": "hi"}}, result)

	weatherTool, err := reg.Get("weather")
	require.NoError(t, err)
	result, err = weatherTool.Execute(context.Background(), map[string]any{"location": "Lisbon"})
	require.NoError(t, err)
	out := result.(map[string]any)
	require.Equal(t, "Lisbon", out["location"])
	require.Equal(t, 22.5, out["temperature"])
}
