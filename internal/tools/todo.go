package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/gocode/internal/session"
)

// TodoWriteTool replaces the session's task list.
type TodoWriteTool struct {
	store *session.Store
}

// NewTodoWrite creates the todowrite tool.
func NewTodoWrite(store *session.Store) *TodoWriteTool {
	return &TodoWriteTool{store: store}
}

func (t *TodoWriteTool) Name() string { return "todowrite" }
func (t *TodoWriteTool) Description() string {
	return "Replace the session task list. Use it to plan multi-step work and track progress."
}
func (t *TodoWriteTool) Parallel() bool { return false }

func (t *TodoWriteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type":        "array",
				"description": "The full task list",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"pending", "in_progress", "completed", "cancelled"},
						},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	raw, err := json.Marshal(args["todos"])
	if err != nil {
		return Errorf("decode todos: %v", err)
	}
	var todos []session.Todo
	if err := json.Unmarshal(raw, &todos); err != nil {
		return Errorf("decode todos: %v", err)
	}
	for i := range todos {
		if todos[i].ID == "" {
			todos[i].ID = fmt.Sprintf("%d", i+1)
		}
	}

	if err := t.store.SetTodos(ctx, call.SessionID, todos); err != nil {
		return Errorf("save todos: %v", err)
	}
	return &Result{
		Output:   renderTodos(todos),
		Title:    fmt.Sprintf("%d todos", len(todos)),
		Metadata: map[string]any{"count": len(todos)},
	}
}

// TodoReadTool returns the current task list.
type TodoReadTool struct {
	store *session.Store
}

// NewTodoRead creates the todoread tool.
func NewTodoRead(store *session.Store) *TodoReadTool {
	return &TodoReadTool{store: store}
}

func (t *TodoReadTool) Name() string { return "todoread" }
func (t *TodoReadTool) Description() string {
	return "Read the session task list."
}
func (t *TodoReadTool) Parallel() bool { return true }

func (t *TodoReadTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *TodoReadTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	todos, err := t.store.GetTodos(ctx, call.SessionID)
	if err != nil {
		return Errorf("load todos: %v", err)
	}
	if len(todos) == 0 {
		return Ok("No todos")
	}
	return &Result{Output: renderTodos(todos), Metadata: map[string]any{"count": len(todos)}}
}

func renderTodos(todos []session.Todo) string {
	var b strings.Builder
	for _, todo := range todos {
		mark := " "
		switch todo.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = ">"
		case "cancelled":
			mark = "-"
		}
		fmt.Fprintf(&b, "[%s] %s\n", mark, todo.Content)
	}
	return b.String()
}
