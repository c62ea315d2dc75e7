package errors

import (
	"fmt"
	"strings"
	"time"
)

// UnknownToolError reports a tool-call request naming a tool that is not
// registered.
type UnknownToolError struct {
	Tool string
}

// NewUnknownToolError constructs an UnknownToolError.
func NewUnknownToolError(tool string) error {
	return &UnknownToolError{Tool: tool}
}

func (e *UnknownToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// InvalidArgsError captures argument-validation failures for a tool call or
// plan step.
type InvalidArgsError struct {
	Tool   string
	Issues []string
	Err    error
}

// NewInvalidArgsError constructs an InvalidArgsError.
func NewInvalidArgsError(tool string, issues []string, err error) error {
	return &InvalidArgsError{Tool: tool, Issues: issues, Err: err}
}

func (e *InvalidArgsError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Issues) > 0 {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Issues, "; "))
	}
	return fmt.Sprintf("invalid arguments for %s", e.Tool)
}

// Unwrap exposes the underlying error.
func (e *InvalidArgsError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ToolExecutionError represents a runtime failure inside a tool invocation.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

// NewToolExecutionError constructs a ToolExecutionError.
func NewToolExecutionError(tool, callID string, err error) error {
	return &ToolExecutionError{Tool: tool, CallID: callID, Err: err}
}

func (e *ToolExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Tool != "" {
		return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool execution failed: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ToolExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError marks a tool invocation that exceeded its per-call deadline.
// Its message is the exact string recorded on terminal timeout events.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(tool string, timeout time.Duration) error {
	return &TimeoutError{Tool: tool, Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("timeout after %gs", e.Timeout.Seconds())
}

// CancelledError marks work abandoned because the surrounding context was
// cancelled. Its message is the exact string recorded on the final event of
// an abandoned tool call.
type CancelledError struct {
	Err error
}

// NewCancelledError constructs a CancelledError.
func NewCancelledError(err error) error {
	return &CancelledError{Err: err}
}

func (e *CancelledError) Error() string {
	if e == nil {
		return ""
	}
	return "cancelled"
}

// Unwrap exposes the underlying error.
func (e *CancelledError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CyclicPlanError reports a dependency cycle among a plan's steps.
type CyclicPlanError struct {
	PlanID string
}

// NewCyclicPlanError constructs a CyclicPlanError.
func NewCyclicPlanError(planID string) error {
	return &CyclicPlanError{PlanID: planID}
}

func (e *CyclicPlanError) Error() string {
	if e == nil {
		return ""
	}
	if e.PlanID != "" {
		return fmt.Sprintf("cyclic plan: dependency cycle detected in plan %s", e.PlanID)
	}
	return "cyclic plan: dependency cycle detected"
}

// InvalidReferenceError reports a plan operation naming a step index that
// does not exist.
type InvalidReferenceError struct {
	Index string
}

// NewInvalidReferenceError constructs an InvalidReferenceError.
func NewInvalidReferenceError(index string) error {
	return &InvalidReferenceError{Index: index}
}

func (e *InvalidReferenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid reference: step index %q does not exist", e.Index)
}

// UnresolvedDependencyError reports an `after` reference to an index that is
// not defined in the plan.
type UnresolvedDependencyError struct {
	Index string
	After string
}

// NewUnresolvedDependencyError constructs an UnresolvedDependencyError.
func NewUnresolvedDependencyError(index, after string) error {
	return &UnresolvedDependencyError{Index: index, After: after}
}

func (e *UnresolvedDependencyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unresolved dependency: step %q depends on unknown index %q", e.Index, e.After)
}

// NoToolCallsError reports that the LLM produced no tool calls even after
// the re-prompt loop was exhausted.
type NoToolCallsError struct {
	Attempts int
}

// NewNoToolCallsError constructs a NoToolCallsError.
func NewNoToolCallsError(attempts int) error {
	return &NoToolCallsError{Attempts: attempts}
}

func (e *NoToolCallsError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("no tool calls in assistant message after %d attempts", e.Attempts)
}

// SessionNotFoundError reports a lookup for a session id the store does not
// hold.
type SessionNotFoundError struct {
	ID string
}

// NewSessionNotFoundError constructs a SessionNotFoundError.
func NewSessionNotFoundError(id string) error {
	return &SessionNotFoundError{ID: id}
}

func (e *SessionNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("session not found: %s", e.ID)
}

// StoreError wraps a failure inside a session or graph store operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

// NewStoreError constructs a StoreError for the given operation and key.
func NewStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Key != "" {
		return fmt.Sprintf("store failure: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store failure: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
