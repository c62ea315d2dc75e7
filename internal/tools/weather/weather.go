// Package weather provides a demo weather tool returning deterministic fake
// data, matching the sample tooling the orchestrator demos ship with.
package weather

import (
	"context"
	"fmt"

	"github.com/weftworks/loom/internal/tool"
)

type weatherTool struct{}

// New returns the weather tool.
func New() tool.Tool {
	return &weatherTool{}
}

func (t *weatherTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "weather",
		Description: "Reports current weather conditions for a location.",
	}
}

func (t *weatherTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "location", Type: "string", Required: true, Description: "City or place name"},
	}}
}

func (t *weatherTool) Execute(_ context.Context, args map[string]any) (any, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}
	return map[string]any{
		"location":    location,
		"temperature": 22.5,
		"conditions":  "Partly Cloudy",
		"humidity":    65,
	}, nil
}
