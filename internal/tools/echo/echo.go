// Package echo provides the echo tool: it returns its arguments verbatim.
package echo

import (
	"context"

	"github.com/weftworks/loom/internal/tool"
)

type echoTool struct{}

// New returns the echo tool.
func New() tool.Tool {
	return &echoTool{}
}

func (t *echoTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "echo",
		Description: "Returns the supplied arguments unchanged.",
	}
}

func (t *echoTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "msg", Type: "string", Required: true, Description: "Text to echo back"},
	}}
}

func (t *echoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{"echo": args}, nil
}
