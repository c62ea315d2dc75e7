package tool

import "context"

// ExecuteFunc is the signature of a bare tool callable.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

type funcTool struct {
	meta   Metadata
	schema Schema
	fn     ExecuteFunc
}

// Func adapts a bare callable plus metadata and schema into a Tool. Legacy
// callables are wrapped this way at registration time.
func Func(meta Metadata, schema Schema, fn ExecuteFunc) Tool {
	return &funcTool{meta: meta, schema: schema, fn: fn}
}

func (t *funcTool) Metadata() Metadata { return t.meta }

func (t *funcTool) Schema() Schema { return t.schema }

func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}
