package message

import "strings"

// CompactionPrompt is the text sent to the model in place of a compaction
// request part.
const CompactionPrompt = "What did we do so far?"

// InterruptedOutput replaces the output of tool calls that never finished.
const InterruptedOutput = "[Tool execution was interrupted]"

// Wire block kinds consumed by the provider adapters.
const (
	BlockText      = "text"
	BlockReasoning = "reasoning"
	BlockFile      = "file"
	BlockTool      = "tool"
)

// ContentBlock is one unit of provider-facing content. Adapters translate
// blocks into their SDK's native shapes.
type ContentBlock struct {
	Type string

	Text string

	Mime     string
	Filename string
	URL      string

	CallID  string
	Tool    string
	Input   map[string]any
	Output  string
	IsError bool
}

// WireMessage is a provider-facing message projected from stored history.
type WireMessage struct {
	Role    Role
	Content []ContentBlock
}

// ToWire projects stored messages into provider wire form. Ignored text is
// dropped, compaction requests become CompactionPrompt, unfinished tool
// calls surface the interrupt marker, and errored assistant turns are
// skipped unless they were aborted with partial content.
func ToWire(msgs []WithParts) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		var wm *WireMessage
		switch m.Info.Role {
		case RoleUser:
			wm = userWire(m)
		case RoleAssistant:
			wm = assistantWire(m)
		}
		if wm != nil && len(wm.Content) > 0 {
			out = append(out, *wm)
		}
	}
	return out
}

func userWire(m WithParts) *WireMessage {
	wm := &WireMessage{Role: RoleUser}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *TextPart:
			if v.Ignored || v.Text == "" {
				continue
			}
			wm.Content = append(wm.Content, ContentBlock{Type: BlockText, Text: v.Text})
		case *FilePart:
			// Text attachments are expanded into synthetic text parts
			// before the loop runs; only binary content ships as a file.
			if strings.HasPrefix(v.Mime, "text/") {
				continue
			}
			wm.Content = append(wm.Content, ContentBlock{
				Type:     BlockFile,
				Mime:     v.Mime,
				Filename: v.Filename,
				URL:      v.URL,
			})
		case *CompactionPart:
			wm.Content = append(wm.Content, ContentBlock{Type: BlockText, Text: CompactionPrompt})
		case *SubtaskPart:
			wm.Content = append(wm.Content, ContentBlock{
				Type: BlockText,
				Text: "The user delegated the following task to the " + v.Agent + " agent: " + v.Prompt,
			})
		}
	}
	return wm
}

func assistantWire(m WithParts) *WireMessage {
	if m.Info.Error != nil && m.Info.Error.Name != ErrAborted {
		return nil
	}
	wm := &WireMessage{Role: RoleAssistant}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *TextPart:
			if v.Text == "" {
				continue
			}
			wm.Content = append(wm.Content, ContentBlock{Type: BlockText, Text: v.Text})
		case *ReasoningPart:
			if v.Text == "" {
				continue
			}
			wm.Content = append(wm.Content, ContentBlock{Type: BlockReasoning, Text: v.Text})
		case *ToolPart:
			wm.Content = append(wm.Content, toolWire(v))
		}
	}
	return wm
}

func toolWire(p *ToolPart) ContentBlock {
	blk := ContentBlock{
		Type:   BlockTool,
		CallID: p.CallID,
		Tool:   p.Tool,
		Input:  p.State.Input,
	}
	switch p.State.Status {
	case ToolCompleted:
		blk.Output = p.State.Output
	case ToolError:
		blk.Output = p.State.Error
		blk.IsError = true
	default:
		// Pending or running at projection time means the call was cut
		// short by an abort.
		blk.Output = InterruptedOutput
		blk.IsError = true
	}
	return blk
}
