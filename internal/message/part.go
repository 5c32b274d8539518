package message

import (
	"encoding/json"
	"fmt"
)

// Part type discriminators as persisted in the "type" field.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartFile       = "file"
	PartTool       = "tool"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartSnapshot   = "snapshot"
	PartPatch      = "patch"
	PartAgent      = "agent"
	PartSubtask    = "subtask"
	PartCompaction = "compaction"
	PartRetry      = "retry"
)

// Part is the discriminated union of message content. Concrete types carry
// a Type field holding their discriminator; switch on the concrete type,
// not on the string.
type Part interface {
	PartType() string
	Base() *PartBase
}

// PartBase is shared identity for every part variant.
type PartBase struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

func (b *PartBase) Base() *PartBase { return b }

// PartTime carries start/end timestamps in unix milliseconds.
type PartTime struct {
	Start int64 `json:"start"`
	End   int64 `json:"end,omitempty"`
}

// TextPart is plain assistant or user text. Synthetic marks text injected
// by the runtime rather than typed by the user; Ignored excludes it from
// provider projection.
type TextPart struct {
	PartBase
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Ignored   bool      `json:"ignored,omitempty"`
	Time      *PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string { return PartText }

// ReasoningPart is model thinking text, kept out of cost-bearing output.
type ReasoningPart struct {
	PartBase
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     PartTime       `json:"time"`
}

func (p *ReasoningPart) PartType() string { return PartReasoning }

// FileSource records where a file part's content came from.
type FileSource struct {
	Type string `json:"type"` // "file" | "symbol"
	Path string `json:"path"`
	Text struct {
		Value string `json:"value"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	} `json:"text"`
}

// FilePart is an attachment referenced by a user message.
type FilePart struct {
	PartBase
	Type     string      `json:"type"`
	Mime     string      `json:"mime"`
	Filename string      `json:"filename,omitempty"`
	URL      string      `json:"url"`
	Source   *FileSource `json:"source,omitempty"`
}

func (p *FilePart) PartType() string { return PartFile }

// Tool call lifecycle states. Transitions are monotonic:
// pending -> running -> completed | error.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// ToolStateTime marks execution start/end in unix milliseconds.
type ToolStateTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// ToolState is the mutable execution state of a tool part.
type ToolState struct {
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Raw         string         `json:"raw,omitempty"`
	Output      string         `json:"output,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	Time        ToolStateTime  `json:"time,omitempty"`
	Attachments []*FilePart    `json:"attachments,omitempty"`
}

// ToolPart tracks one tool invocation requested by the model.
type ToolPart struct {
	PartBase
	Type   string    `json:"type"`
	CallID string    `json:"callID"`
	Tool   string    `json:"tool"`
	State  ToolState `json:"state"`
}

func (p *ToolPart) PartType() string { return PartTool }

// StepStartPart marks the beginning of a loop step.
type StepStartPart struct {
	PartBase
	Type     string `json:"type"`
	Snapshot string `json:"snapshot,omitempty"`
}

func (p *StepStartPart) PartType() string { return PartStepStart }

// StepFinishPart records the per-step usage and finish reason.
type StepFinishPart struct {
	PartBase
	Type   string  `json:"type"`
	Reason string  `json:"reason"`
	Cost   float64 `json:"cost"`
	Tokens Tokens  `json:"tokens"`
}

func (p *StepFinishPart) PartType() string { return PartStepFinish }

// SnapshotPart references a workspace snapshot id.
type SnapshotPart struct {
	PartBase
	Type     string `json:"type"`
	Snapshot string `json:"snapshot"`
}

func (p *SnapshotPart) PartType() string { return PartSnapshot }

// PatchPart records files changed during a step.
type PatchPart struct {
	PartBase
	Type  string   `json:"type"`
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
}

func (p *PatchPart) PartType() string { return PartPatch }

// AgentPart redirects the turn to a named agent via the task tool.
type AgentPart struct {
	PartBase
	Type   string    `json:"type"`
	Name   string    `json:"name"`
	Source *PartTime `json:"source,omitempty"`
}

func (p *AgentPart) PartType() string { return PartAgent }

// SubtaskPart records a delegated child-session run.
type SubtaskPart struct {
	PartBase
	Type        string    `json:"type"`
	Prompt      string    `json:"prompt"`
	Description string    `json:"description,omitempty"`
	Agent       string    `json:"agent"`
	Model       *ModelRef `json:"model,omitempty"`
}

func (p *SubtaskPart) PartType() string { return PartSubtask }

// CompactionPart marks a user message as a compaction request. Auto is set
// when the loop triggered it on context overflow.
type CompactionPart struct {
	PartBase
	Type string `json:"type"`
	Auto bool   `json:"auto,omitempty"`
}

func (p *CompactionPart) PartType() string { return PartCompaction }

// RetryPart records one failed model call attempt before a retry.
type RetryPart struct {
	PartBase
	Type    string   `json:"type"`
	Attempt int      `json:"attempt"`
	Error   *Error   `json:"error,omitempty"`
	Time    PartTime `json:"time"`
}

func (p *RetryPart) PartType() string { return PartRetry }

// MarshalPart encodes a part with its discriminator for persistence.
func MarshalPart(p Part) ([]byte, error) {
	stampType(p)
	return json.Marshal(p)
}

// stampType fills the Type field so callers never have to set it by hand.
func stampType(p Part) {
	switch v := p.(type) {
	case *TextPart:
		v.Type = PartText
	case *ReasoningPart:
		v.Type = PartReasoning
	case *FilePart:
		v.Type = PartFile
	case *ToolPart:
		v.Type = PartTool
	case *StepStartPart:
		v.Type = PartStepStart
	case *StepFinishPart:
		v.Type = PartStepFinish
	case *SnapshotPart:
		v.Type = PartSnapshot
	case *PatchPart:
		v.Type = PartPatch
	case *AgentPart:
		v.Type = PartAgent
	case *SubtaskPart:
		v.Type = PartSubtask
	case *CompactionPart:
		v.Type = PartCompaction
	case *RetryPart:
		v.Type = PartRetry
	}
}

// UnmarshalPart decodes a persisted part by its discriminator.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("part header: %w", err)
	}

	var p Part
	switch head.Type {
	case PartText:
		p = &TextPart{}
	case PartReasoning:
		p = &ReasoningPart{}
	case PartFile:
		p = &FilePart{}
	case PartTool:
		p = &ToolPart{}
	case PartStepStart:
		p = &StepStartPart{}
	case PartStepFinish:
		p = &StepFinishPart{}
	case PartSnapshot:
		p = &SnapshotPart{}
	case PartPatch:
		p = &PatchPart{}
	case PartAgent:
		p = &AgentPart{}
	case PartSubtask:
		p = &SubtaskPart{}
	case PartCompaction:
		p = &CompactionPart{}
	case PartRetry:
		p = &RetryPart{}
	default:
		return nil, fmt.Errorf("unknown part type %q", head.Type)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("part %s: %w", head.Type, err)
	}
	return p, nil
}

// ToolAdvance reports whether a tool status transition is allowed. States
// only move forward; terminal states never change.
func ToolAdvance(from, to string) bool {
	rank := map[string]int{
		ToolPending:   0,
		ToolRunning:   1,
		ToolCompleted: 2,
		ToolError:     2,
	}
	rf, ok1 := rank[from]
	rt, ok2 := rank[to]
	if !ok1 || !ok2 {
		return false
	}
	if rf == 2 {
		return false
	}
	return rt > rf
}
