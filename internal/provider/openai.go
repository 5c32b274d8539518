package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI adapts the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI creates the adapter. baseURL may be empty for the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: model,
	}
}

func (o *OpenAI) ID() string           { return "openai" }
func (o *OpenAI) DefaultModel() string { return o.defaultModel }

// OpenAI counts cached tokens inside the prompt total.
func (o *OpenAI) ExcludesCachedInput() bool { return false }

func (o *OpenAI) Cost(modelID string) tokens.Cost { return lookupCost(modelID) }

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return nil, o.wrapErr(err)
	}
	return o.parse(&resp), nil
}

// Stream streams text deltas. Tool-call streaming is not supported by this
// adapter; with tools supplied it degrades to a non-streaming call.
func (o *OpenAI) Stream(ctx context.Context, req Request, onDelta func(StreamChunk)) (*Response, error) {
	if len(req.Tools) > 0 {
		return o.Complete(ctx, req)
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(req, true))
	if err != nil {
		return nil, o.wrapErr(err)
	}
	defer stream.Close()

	out := &Response{ModelID: req.Model, Finish: message.FinishStop}
	if out.ModelID == "" {
		out.ModelID = o.defaultModel
	}
	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, o.wrapErr(err)
		}
		if chunk.Usage != nil {
			out.Usage = o.usage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			onDelta(StreamChunk{Text: choice.Delta.Content})
		}
		if choice.FinishReason != "" {
			out.Finish = normalizeOpenAIFinish(choice.FinishReason)
		}
	}
	out.Content = content.String()
	return out, nil
}

func (o *OpenAI) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildOpenAIMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func buildOpenAIMessages(system string, msgs []message.WireMessage) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case message.RoleUser:
			out = append(out, buildOpenAIUser(m))
		case message.RoleAssistant:
			out = append(out, buildOpenAIAssistant(m)...)
		}
	}
	return out
}

func buildOpenAIUser(m message.WireMessage) openai.ChatCompletionMessage {
	var text strings.Builder
	var parts []openai.ChatMessagePart
	for _, blk := range m.Content {
		switch blk.Type {
		case message.BlockText:
			text.WriteString(blk.Text)
			text.WriteString("\n")
		case message.BlockFile:
			if strings.HasPrefix(blk.Mime, "image/") {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: blk.URL},
				})
			}
		}
	}
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(parts) > 0 {
		parts = append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: strings.TrimSpace(text.String()),
		}}, parts...)
		msg.MultiContent = parts
	} else {
		msg.Content = strings.TrimSpace(text.String())
	}
	return msg
}

// buildOpenAIAssistant renders an assistant turn plus the tool-result
// messages its calls produced.
func buildOpenAIAssistant(m message.WireMessage) []openai.ChatCompletionMessage {
	head := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var results []openai.ChatCompletionMessage
	var text strings.Builder
	for _, blk := range m.Content {
		switch blk.Type {
		case message.BlockText, message.BlockReasoning:
			text.WriteString(blk.Text)
		case message.BlockTool:
			args, _ := json.Marshal(blk.Input)
			head.ToolCalls = append(head.ToolCalls, openai.ToolCall{
				ID:   blk.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      blk.Tool,
					Arguments: string(args),
				},
			})
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: blk.CallID,
				Content:    blk.Output,
			})
		}
	}
	head.Content = text.String()
	return append([]openai.ChatCompletionMessage{head}, results...)
}

func (o *OpenAI) parse(resp *openai.ChatCompletionResponse) *Response {
	out := &Response{
		ModelID: resp.Model,
		Finish:  message.FinishUnknown,
		Usage:   o.usage(&resp.Usage),
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.Finish = normalizeOpenAIFinish(choice.FinishReason)
	for _, call := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out
}

func (o *OpenAI) usage(u *openai.Usage) tokens.Usage {
	out := tokens.Usage{
		Input:  float64(u.PromptTokens),
		Output: float64(u.CompletionTokens),
		Total:  float64(u.TotalTokens),
	}
	if u.PromptTokensDetails != nil {
		out.CacheRead = float64(u.PromptTokensDetails.CachedTokens)
	}
	if u.CompletionTokensDetails != nil {
		out.Reasoning = float64(u.CompletionTokensDetails.ReasoningTokens)
	}
	return out
}

func normalizeOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return message.FinishStop
	case openai.FinishReasonLength:
		return message.FinishLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return message.FinishToolCalls
	case openai.FinishReasonContentFilter:
		return message.FinishContentFilter
	default:
		return message.FinishUnknown
	}
}

func (o *OpenAI) wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return message.ClassifyProviderError(o.ID(), apiErr.HTTPStatusCode, err)
	}
	return message.ClassifyProviderError(o.ID(), 0, err)
}
