package agent

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/session"
	"github.com/nextlevelbuilder/gocode/internal/tools"
)

// TaskTool delegates a prompt to a subagent running in a child session.
type TaskTool struct {
	runner *Runner
}

// NewTaskTool creates the task tool bound to a runner.
func NewTaskTool(r *Runner) *TaskTool {
	return &TaskTool{runner: r}
}

func (t *TaskTool) Name() string { return "task" }
func (t *TaskTool) Description() string {
	return "Delegate a task to a subagent. The subagent works in its own child session and returns its final answer."
}
func (t *TaskTool) Parallel() bool { return false }

func (t *TaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Short title for the delegated task",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The full task prompt for the subagent",
			},
			"subagent": map[string]any{
				"type":        "string",
				"description": "Name of the agent to run (e.g. build, plan)",
			},
		},
		"required": []string{"prompt", "subagent"},
	}
}

func (t *TaskTool) Execute(ctx context.Context, call tools.Call, args map[string]any) *tools.Result {
	prompt := strArg(args, "prompt")
	subagent := strArg(args, "subagent")
	description := strArg(args, "description")
	if description == "" {
		description = prompt
		if len(description) > 60 {
			description = description[:60]
		}
	}

	child, err := t.runner.store.Create(ctx, session.CreateOptions{
		ParentID: call.SessionID,
		Title:    description,
	})
	if err != nil {
		return tools.Errorf("create child session: %v", err)
	}
	call.Progress(description, map[string]any{"sessionID": child.ID, "subagent": subagent})

	res, err := t.runner.Prompt(ctx, PromptInput{
		SessionID: child.ID,
		Agent:     subagent,
		Parts: []message.Part{&message.SubtaskPart{
			Prompt:      prompt,
			Description: description,
			Agent:       subagent,
		}},
		// Subagents cannot delegate further.
		Tools: map[string]bool{"task": false},
	})
	if err != nil {
		return tools.Errorf("subagent failed: %v", err)
	}
	if res.Info.Error != nil {
		return tools.Errorf("subagent failed: %v", res.Info.Error)
	}

	return &tools.Result{
		Output:   assistantText(res),
		Title:    description,
		Metadata: map[string]any{"sessionID": child.ID, "subagent": subagent},
	}
}

// assistantText joins the visible text parts of an assistant message.
func assistantText(m *message.WithParts) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*message.TextPart); ok && tp.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
