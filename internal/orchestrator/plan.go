package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/weftworks/loom/internal/tool"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// planSpec is the JSON shape the LLM replies with, for full plans and for
// re-planning sub-plans alike.
type planSpec struct {
	Title string     `json:"title"`
	Steps []stepSpec `json:"steps"`
}

type stepSpec struct {
	Title string         `json:"title"`
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
	// DependsOn entries are 1-based step numbers or index strings.
	DependsOn []any `json:"depends_on"`
}

// decodePlan extracts and parses the outermost JSON object of the reply.
// Fenced or prefixed output is tolerated: everything outside the object is
// ignored.
func decodePlan(text string) (*planSpec, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var spec planSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("plan reply is not valid JSON: %w", err)
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("plan reply has no steps")
	}
	return &spec, nil
}

// extractJSON returns the first balanced {...} region, skipping braces inside
// JSON strings.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("plan reply contains no JSON object")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("plan reply has an unterminated JSON object")
}

// validatePlan checks every step against the registry allow-list: the tool
// must be registered, required arguments present, no undeclared arguments,
// and argument values must match the declared types.
func validatePlan(reg *tool.Registry, steps []stepSpec) error {
	for i, step := range steps {
		t, err := reg.Get(step.Tool)
		if err != nil {
			return err
		}

		var issues []string
		schema := t.Schema()
		declared := make(map[string]tool.Arg, len(schema.Args))
		for _, arg := range schema.Args {
			declared[arg.Name] = arg
			if arg.Required {
				if _, ok := step.Args[arg.Name]; !ok {
					issues = append(issues, fmt.Sprintf("step %d: missing required argument %q", i+1, arg.Name))
				}
			}
		}
		for name, value := range step.Args {
			arg, ok := declared[name]
			if !ok {
				issues = append(issues, fmt.Sprintf("step %d: undeclared argument %q", i+1, name))
				continue
			}
			if !typeMatches(arg.Type, value) {
				issues = append(issues, fmt.Sprintf("step %d: argument %q must be %s", i+1, name, arg.Type))
			}
		}
		if len(issues) > 0 {
			return loomerrors.NewInvalidArgsError(step.Tool, issues, nil)
		}
	}
	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

// depIndex normalizes a depends_on entry to a plan index string. Numbers are
// 1-based step positions; strings pass through as hierarchical indices.
func depIndex(dep any) (string, error) {
	switch v := dep.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", fmt.Errorf("empty depends_on reference")
		}
		return s, nil
	case float64:
		if v != math.Trunc(v) || v < 1 {
			return "", fmt.Errorf("depends_on number %v is not a step position", v)
		}
		return fmt.Sprintf("%d", int(v)), nil
	case int:
		if v < 1 {
			return "", fmt.Errorf("depends_on number %d is not a step position", v)
		}
		return fmt.Sprintf("%d", v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 1 {
			return "", fmt.Errorf("depends_on number %s is not a step position", v)
		}
		return fmt.Sprintf("%d", n), nil
	default:
		return "", fmt.Errorf("depends_on entry %v has unsupported type %T", dep, dep)
	}
}
