// Package tool defines the contract every executable tool satisfies and the
// registry the processor resolves tool names against.
package tool

import "context"

// Metadata identifies a tool.
type Metadata struct {
	Name        string
	Description string
}

// Arg describes one argument in a tool's schema. Type uses the JSON schema
// primitive names so the table doubles as an LLM function declaration.
type Arg struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Schema is a tool's ordered argument table.
type Schema struct {
	Args []Arg
}

// JSONSchema renders the schema as a JSON-schema parameters object suitable
// for LLM function declarations.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Args))
	var required []string
	for _, arg := range s.Args {
		prop := map[string]any{"type": arg.Type}
		if arg.Description != "" {
			prop["description"] = arg.Description
		}
		properties[arg.Name] = prop
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tool is the unified contract all loom tools satisfy. Execute returns any
// JSON-serializable value; failures are ordinary errors consumed by the
// processor's retry loop.
type Tool interface {
	Metadata() Metadata
	Schema() Schema
	Execute(ctx context.Context, args map[string]any) (any, error)
}
