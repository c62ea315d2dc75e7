// Package sum provides the sum tool: it totals a list of numbers.
package sum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftworks/loom/internal/tool"
)

type sumTool struct{}

// New returns the sum tool.
func New() tool.Tool {
	return &sumTool{}
}

func (t *sumTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "sum",
		Description: "Adds a list of numbers and returns the total.",
	}
}

func (t *sumTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "values", Type: "array", Required: true, Description: "Numbers to add"},
	}}
}

func (t *sumTool) Execute(_ context.Context, args map[string]any) (any, error) {
	raw, ok := args["values"]
	if !ok {
		return nil, fmt.Errorf("values is required")
	}
	values, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("values must be an array, got %T", raw)
	}

	var total float64
	for i, v := range values {
		n, err := toNumber(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		total += n
	}
	return map[string]any{"sum": total}, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}
