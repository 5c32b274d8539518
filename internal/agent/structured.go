package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/provider"
)

// structuredToolName is the synthetic tool the model must call to deliver
// a json_schema response.
const structuredToolName = "structured_output"

const defaultStructuredRetries = 2

// structuredState tracks a json_schema output request across steps.
type structuredState struct {
	format     *message.OutputFormat
	schema     *jsonschema.Schema
	compileErr error
	retries    int
}

func newStructuredState(format *message.OutputFormat) *structuredState {
	st := &structuredState{format: format, retries: format.RetryCount}
	if st.retries <= 0 {
		st.retries = defaultStructuredRetries
	}
	st.schema, st.compileErr = compileFormatSchema(format.Schema)
	return st
}

func compileFormatSchema(schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add output schema: %w", err)
	}
	compiled, err := compiler.Compile("output.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	return compiled, nil
}

// def is the tool definition advertised to the model. The requested schema
// is the tool's parameter schema, so the arguments are the payload.
func (s *structuredState) def() provider.ToolDefinition {
	params := s.format.Schema
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	return provider.ToolDefinition{
		Name:        structuredToolName,
		Description: "Record your final answer in the required output format. Call this exactly once when you are done.",
		Parameters:  params,
	}
}

// handle processes one step's response under structured-output rules. It
// reports true when the turn is terminal.
func (s *structuredState) handle(ctx context.Context, st *loopState, resp *provider.Response) (bool, error) {
	if s.compileErr != nil {
		st.assistant.Error = message.NewStructuredOutput(s.compileErr.Error())
		st.runner.publishError(st.session.ID, st.assistant.Error)
		return true, nil
	}

	var structuredCall *provider.ToolCall
	var regular []provider.ToolCall
	for _, call := range resp.ToolCalls {
		if call.Name == structuredToolName {
			c := call
			structuredCall = &c
			continue
		}
		regular = append(regular, call)
	}

	if len(regular) > 0 {
		if err := st.runTools(ctx, regular); err != nil {
			return false, err
		}
	}
	if structuredCall != nil {
		return s.accept(ctx, st, structuredCall)
	}
	if len(regular) > 0 {
		return false, nil
	}

	// The model finished without delivering structured output.
	return s.fail(ctx, st, "you must call the "+structuredToolName+" tool with your final answer")
}

// accept validates the payload and either finishes the turn or feeds the
// validation failure back to the model.
func (s *structuredState) accept(ctx context.Context, st *loopState, call *provider.ToolCall) (bool, error) {
	callID := call.ID
	if callID == "" {
		callID = id.ToolCall()
	}
	part := &message.ToolPart{
		CallID: callID,
		Tool:   structuredToolName,
		State: message.ToolState{
			Status: message.ToolPending,
			Input:  call.Arguments,
			Time:   message.ToolStateTime{Start: time.Now().UnixMilli()},
		},
	}
	if err := st.persistPart(ctx, part); err != nil {
		return false, err
	}

	verr := s.schema.Validate(normalizeArgs(call.Arguments))
	part.State.Time.End = time.Now().UnixMilli()
	if verr != nil {
		part.State.Status = message.ToolError
		part.State.Error = fmt.Sprintf("output did not match the required schema: %v", verr)
		if err := st.persistPart(ctx, part); err != nil {
			return false, err
		}
		return s.fail(ctx, st, part.State.Error)
	}

	part.State.Status = message.ToolCompleted
	part.State.Output = "ok"
	if err := st.persistPart(ctx, part); err != nil {
		return false, err
	}
	st.assistant.Structured = call.Arguments
	st.assistant.Finish = message.FinishStop
	return true, nil
}

// fail burns one retry. When retries are exhausted the turn ends with a
// StructuredOutputError; otherwise a synthetic user reminder is appended
// and the loop goes around again.
func (s *structuredState) fail(ctx context.Context, st *loopState, reason string) (bool, error) {
	s.retries--
	if s.retries <= 0 {
		st.assistant.Error = message.NewStructuredOutput(reason)
		st.runner.publishError(st.session.ID, st.assistant.Error)
		return true, nil
	}

	reminder := message.Info{
		ID:        id.Message(),
		SessionID: st.session.ID,
		Role:      message.RoleUser,
		Agent:     st.agent.Name,
		Model:     st.model,
		Time:      message.Time{Created: time.Now().UnixMilli()},
	}
	if err := st.runner.store.UpsertMessage(ctx, reminder); err != nil {
		return false, err
	}
	part := &message.TextPart{Text: "Your previous response was rejected: " + reason, Synthetic: true}
	part.ID = id.Part()
	part.SessionID = st.session.ID
	part.MessageID = reminder.ID
	if err := st.runner.store.UpsertPart(ctx, part); err != nil {
		return false, err
	}
	return false, nil
}

// normalizeArgs round-trips arguments through JSON so the validator sees
// decoded value shapes.
func normalizeArgs(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
