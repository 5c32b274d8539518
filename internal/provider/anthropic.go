package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// Anthropic adapts the Anthropic Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicOption configures the adapter.
type AnthropicOption func(*Anthropic)

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(a *Anthropic) {
		if model != "" {
			a.defaultModel = model
		}
	}
}

// NewAnthropic creates the adapter. baseURL may be empty for the public API.
func NewAnthropic(apiKey, baseURL string, opts ...AnthropicOption) *Anthropic {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	a := &Anthropic{
		client:       anthropic.NewClient(clientOpts...),
		defaultModel: defaultAnthropicModel,
		maxTokens:    8192,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Anthropic) ID() string           { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return a.defaultModel }

// Anthropic reports cached tokens separately from input.
func (a *Anthropic) ExcludesCachedInput() bool { return true }

func (a *Anthropic) Cost(modelID string) tokens.Cost { return lookupCost(modelID) }

func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.buildParams(req)
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapErr(err)
	}
	return a.parse(resp), nil
}

func (a *Anthropic) Stream(ctx context.Context, req Request, onDelta func(StreamChunk)) (*Response, error) {
	params := a.buildParams(req)
	stream := a.client.Messages.NewStreaming(ctx, params)

	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, a.wrapErr(err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onDelta(StreamChunk{Text: delta.Text})
			case anthropic.ThinkingDelta:
				onDelta(StreamChunk{Reasoning: delta.Thinking})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, a.wrapErr(err)
	}
	return a.parse(&acc), nil
}

func (a *Anthropic) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
					Required:   requiredFields(tool.Parameters["required"]),
				},
			},
		})
	}
	return params
}

// requiredFields accepts both the []string a hand-built schema carries and
// the []any a JSON-decoded schema carries.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, item := range req {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func buildAnthropicMessages(msgs []message.WireMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		var results []anthropic.ContentBlockParamUnion
		for _, blk := range m.Content {
			switch blk.Type {
			case message.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(blk.Text))
			case message.BlockReasoning:
				// Replayed thinking is sent as plain text; signatures are
				// not persisted.
				blocks = append(blocks, anthropic.NewTextBlock(blk.Text))
			case message.BlockFile:
				if data, mediaType, ok := decodeDataURL(blk.URL, blk.Mime); ok {
					blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
				}
			case message.BlockTool:
				input, _ := json.Marshal(blk.Input)
				blocks = append(blocks, anthropic.NewToolUseBlock(blk.CallID, json.RawMessage(input), blk.Tool))
				results = append(results, anthropic.NewToolResultBlock(blk.CallID, blk.Output, blk.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == message.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			// Tool results must follow in a user turn.
			if len(results) > 0 {
				out = append(out, anthropic.NewUserMessage(results...))
			}
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// decodeDataURL splits a data: URL into base64 payload and media type.
func decodeDataURL(url, fallbackMime string) (data, mediaType string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	mediaType = rest[:idx]
	if mediaType == "" {
		mediaType = fallbackMime
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", "", false
	}
	return rest[idx+len(";base64,"):], mediaType, true
}

func (a *Anthropic) parse(resp *anthropic.Message) *Response {
	out := &Response{
		ModelID: string(resp.Model),
		Finish:  normalizeAnthropicStop(resp.StopReason),
		Usage: tokens.Usage{
			Input:      float64(resp.Usage.InputTokens),
			Output:     float64(resp.Usage.OutputTokens),
			CacheRead:  float64(resp.Usage.CacheReadInputTokens),
			CacheWrite: float64(resp.Usage.CacheCreationInputTokens),
		},
	}
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += v.Text
		case anthropic.ThinkingBlock:
			out.Reasoning += v.Thinking
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(v.Input, &args); err != nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: v.ID, Name: v.Name, Arguments: args})
		}
	}
	return out
}

func normalizeAnthropicStop(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return message.FinishStop
	case anthropic.StopReasonMaxTokens:
		return message.FinishLength
	case anthropic.StopReasonToolUse:
		return message.FinishToolCalls
	case anthropic.StopReasonRefusal:
		return message.FinishContentFilter
	default:
		return message.FinishUnknown
	}
}

func (a *Anthropic) wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return message.ClassifyProviderError(a.ID(), apiErr.StatusCode,
			fmt.Errorf("anthropic: %w", err))
	}
	return message.ClassifyProviderError(a.ID(), 0, err)
}
