// Package tools defines the tool contract, the registry that validates
// and dispatches model tool calls, and the builtin tools.
package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/gocode/internal/message"
)

// PermissionFunc asks whether the call may proceed. It blocks while a
// question is pending and reports denial as (false, nil).
type PermissionFunc func(ctx context.Context, permission, path string, meta map[string]any) (bool, error)

// MetadataFunc forwards partial progress (title, metadata) to the owning
// tool part while the tool is still running.
type MetadataFunc func(title string, meta map[string]any)

// Call is the per-invocation capability set handed to a tool. It is the
// tool's sole window into the runtime; tools must not reach around it.
type Call struct {
	SessionID string
	MessageID string
	CallID    string
	Agent     string
	// Dir is the working directory relative paths resolve against.
	Dir      string
	Ask      PermissionFunc
	Metadata MetadataFunc
}

// Allow consults the permission callback. A nil callback grants.
func (c Call) Allow(ctx context.Context, permission, path string, meta map[string]any) (bool, error) {
	if c.Ask == nil {
		return true, nil
	}
	return c.Ask(ctx, permission, path, meta)
}

// Progress forwards metadata when a sink is attached.
func (c Call) Progress(title string, meta map[string]any) {
	if c.Metadata != nil {
		c.Metadata(title, meta)
	}
}

// Result is the unified return type from tool execution.
type Result struct {
	Output      string              `json:"output"`
	Title       string              `json:"title,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	Attachments []*message.FilePart `json:"attachments,omitempty"`
	IsError     bool                `json:"isError,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Ok builds a success result.
func Ok(output string) *Result {
	return &Result{Output: output}
}

// Errorf builds an error result.
func Errorf(format string, args ...any) *Result {
	msg := fmt.Sprintf(format, args...)
	return &Result{Output: msg, Error: msg, IsError: true}
}

// Aborted is the result of a user-cancelled call.
func Aborted() *Result {
	return &Result{
		Output:   "User aborted",
		Error:    "User aborted",
		IsError:  true,
		Metadata: map[string]any{"cancelled": "user"},
	}
}

// Denied is the result of a permission denial.
func Denied(permission string) *Result {
	return Errorf("permission %q was denied by the user", permission)
}

// Tool is the contract every tool implements.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters() map[string]any
	// Parallel reports that the tool is safe to run concurrently with
	// other parallel-safe tools in the same step.
	Parallel() bool
	Execute(ctx context.Context, call Call, args map[string]any) *Result
}

// Argument helpers shared by the builtin tools.

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
