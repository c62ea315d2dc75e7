// Package calculator provides a four-function arithmetic tool.
package calculator

import (
	"context"
	"fmt"

	"github.com/weftworks/loom/internal/tool"
)

type calcTool struct{}

// New returns the calculator tool.
func New() tool.Tool {
	return &calcTool{}
}

func (t *calcTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "calculator",
		Description: "Performs basic arithmetic on two numbers.",
	}
}

func (t *calcTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "operation", Type: "string", Required: true, Description: "One of add, subtract, multiply, divide"},
		{Name: "a", Type: "number", Required: true, Description: "First operand"},
		{Name: "b", Type: "number", Required: true, Description: "Second operand"},
	}}
}

func (t *calcTool) Execute(_ context.Context, args map[string]any) (any, error) {
	op, _ := args["operation"].(string)
	a, err := operand(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := operand(args, "b")
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	return map[string]any{
		"operation": op,
		"a":         a,
		"b":         b,
		"result":    result,
	}, nil
}

func operand(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}
