package calculator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculatorOperations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		op   string
		a, b float64
		want float64
	}{
		{"add", "add", 2, 3, 5},
		{"subtract", "subtract", 10, 4, 6},
		{"multiply", "multiply", 6, 7, 42},
		{"divide", "divide", 9, 3, 3},
	}

	calc := New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result, err := calc.Execute(context.Background(), map[string]any{
				"operation": tc.op,
				"a":         tc.a,
				"b":         tc.b,
			})
			require.NoError(t, err)

			out, ok := result.(map[string]any)
			require.True(t, ok)
			require.Equal(t, tc.want, out["result"])
		})
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	t.Parallel()

	_, err := New().Execute(context.Background(), map[string]any{
		"operation": "divide",
		"a":         1.0,
		"b":         0.0,
	})
	require.ErrorContains(t, err, "division by zero")
}

func TestCalculatorUnknownOperation(t *testing.T) {
	t.Parallel()

	_, err := New().Execute(context.Background(), map[string]any{
		"operation": "modulo",
		"a":         1.0,
		"b":         2.0,
	})
	require.ErrorContains(t, err, "unknown operation")
}

func TestCalculatorMissingOperand(t *testing.T) {
	t.Parallel()

	_, err := New().Execute(context.Background(), map[string]any{
		"operation": "add",
		"a":         1.0,
	})
	require.ErrorContains(t, err, "b is required")
}
