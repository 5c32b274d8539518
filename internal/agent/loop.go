package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/provider"
	"github.com/nextlevelbuilder/gocode/internal/session"
	"github.com/nextlevelbuilder/gocode/internal/tokens"
	"github.com/nextlevelbuilder/gocode/internal/tools"
)

// maxModelAttempts bounds retries of one model call on retryable API errors.
const maxModelAttempts = 3

// run drives the step loop for one assistant turn. It always persists a
// terminal assistant message, even on failure, and returns it alongside
// any loop error.
func (r *Runner) run(ctx context.Context, sess *session.Info, userMsg *message.Info,
	agentCfg Config, in PromptInput, model message.ModelRef) (*message.WithParts, error) {

	p, err := r.providers.Get(model.ProviderID)
	if err != nil {
		return nil, err
	}
	if model.ModelID == "" {
		model.ModelID = p.DefaultModel()
	}

	assistant := message.Info{
		ID:         id.Message(),
		SessionID:  sess.ID,
		Role:       message.RoleAssistant,
		ParentID:   userMsg.ID,
		ProviderID: model.ProviderID,
		ModelID:    model.ModelID,
		Summary:    agentCfg.Name == "compaction",
		Time:       message.Time{Created: time.Now().UnixMilli()},
	}
	if err := r.store.UpsertMessage(ctx, assistant); err != nil {
		return nil, err
	}

	st := &loopState{
		runner:    r,
		session:   sess,
		provider:  p,
		model:     model,
		agent:     agentCfg,
		assistant: &assistant,
		enabled:   mergeTools(agentCfg.Tools, in.Tools),
		system:    joinSystem(agentCfg.System, r.cfg.System, in.System),
	}
	if in.Format != nil && in.Format.Type == "json_schema" {
		st.structured = newStructuredState(in.Format)
	}

	loopErr := st.steps(ctx)
	if loopErr != nil {
		var known *message.Error
		if !errors.As(loopErr, &known) {
			known = &message.Error{Name: message.ErrAPI, Message: loopErr.Error()}
		}
		assistant.Error = known
		if known.Name == message.ErrAborted {
			st.abortOpenTools()
		}
		r.publishError(sess.ID, known)
	}

	assistant.Time.Completed = time.Now().UnixMilli()
	// Persist outside the loop context so an abort still lands.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.UpsertMessage(saveCtx, assistant); err != nil {
		return nil, err
	}
	if _, err := r.store.Touch(saveCtx, sess.ID); err != nil {
		slog.Warn("session touch failed", "session", sess.ID, "error", err)
	}

	final, err := r.store.GetMessageWithParts(saveCtx, sess.ID, assistant.ID)
	if err != nil {
		return nil, err
	}
	return final, loopErr
}

// loopState carries one turn's mutable state across steps.
type loopState struct {
	runner    *Runner
	session   *session.Info
	provider  provider.Provider
	model     message.ModelRef
	agent     Config
	assistant *message.Info
	enabled   map[string]bool
	system    string

	structured *structuredState
	openTools  []*message.ToolPart

	// Part ids the current step streamed deltas against.
	pendingTextID      string
	pendingReasoningID string
}

// steps runs model calls until the turn terminates.
func (st *loopState) steps(ctx context.Context) error {
	for step := 1; ; step++ {
		if step > st.runner.cfg.MaxSteps {
			st.appendText(ctx, "Max iterations reached")
			st.assistant.Finish = message.FinishLength
			return nil
		}

		stepCtx, span := tracer.Start(ctx, "agent.step")
		span.SetAttributes(attribute.Int("step", step))
		done, err := st.step(stepCtx)
		span.End()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step performs one model call and handles its outcome. It reports true
// when the turn is terminal.
func (st *loopState) step(ctx context.Context) (bool, error) {
	r := st.runner
	if err := st.persistPart(ctx, &message.StepStartPart{}); err != nil {
		return false, err
	}

	history, err := r.store.ListMessages(ctx, st.session.ID, 0)
	if err != nil {
		return false, err
	}
	req := provider.Request{
		System:      st.system,
		Messages:    message.ToWire(message.FilterCompacted(history)),
		Tools:       st.toolDefs(),
		Model:       st.model.ModelID,
		Temperature: st.agent.Temperature,
	}

	resp, err := st.callModel(ctx, req)
	if err != nil {
		return false, err
	}
	st.recordContent(ctx, resp)

	tok, dollars := tokens.Calculate(resp.Usage, st.provider.Cost(st.model.ModelID),
		st.provider.ExcludesCachedInput())
	st.assistant.Tokens = tokens.Add(st.assistant.Tokens, tok)
	st.assistant.Cost += dollars
	if err := st.persistPart(ctx, &message.StepFinishPart{
		Reason: resp.Finish,
		Cost:   dollars,
		Tokens: tok,
	}); err != nil {
		return false, err
	}

	if resp.Finish == message.FinishLength {
		st.assistant.Error = message.NewOutputLength()
		st.assistant.Finish = message.FinishLength
		r.publishError(st.session.ID, st.assistant.Error)
		return true, nil
	}

	if st.structured != nil {
		return st.structured.handle(ctx, st, resp)
	}

	if len(resp.ToolCalls) > 0 {
		if err := st.runTools(ctx, resp.ToolCalls); err != nil {
			return false, err
		}
		return false, nil
	}

	if resp.Content == "" && resp.Reasoning == "" {
		st.assistant.Finish = message.FinishUnknown
		return true, nil
	}
	st.assistant.Finish = resp.Finish
	if st.assistant.Finish == "" || st.assistant.Finish == message.FinishToolCalls {
		st.assistant.Finish = message.FinishStop
	}
	return true, nil
}

// callModel streams one completion, retrying retryable API failures with
// exponential backoff and recording each failed attempt as a retry part.
func (st *loopState) callModel(ctx context.Context, req provider.Request) (*provider.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	textID, reasoningID := id.Part(), id.Part()
	onDelta := func(chunk provider.StreamChunk) {
		if chunk.Text != "" {
			st.runner.store.PublishDelta(st.session.ID, st.assistant.ID, textID, chunk.Text)
		}
		if chunk.Reasoning != "" {
			st.runner.store.PublishDelta(st.session.ID, st.assistant.ID, reasoningID, chunk.Reasoning)
		}
	}

	for attempt := 1; ; attempt++ {
		start := time.Now().UnixMilli()
		resp, err := st.provider.Stream(ctx, req, onDelta)
		if err == nil {
			st.pendingTextID, st.pendingReasoningID = textID, reasoningID
			return resp, nil
		}
		perr := asMessageError(st.provider.ID(), err)
		if !message.Retryable(perr) || attempt >= maxModelAttempts {
			return nil, perr
		}
		if err := st.persistPart(ctx, &message.RetryPart{
			Attempt: attempt,
			Error:   perr,
			Time:    message.PartTime{Start: start, End: time.Now().UnixMilli()},
		}); err != nil {
			return nil, err
		}
		slog.Warn("model call failed, retrying",
			"provider", st.provider.ID(), "attempt", attempt, "error", perr)
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, message.NewAborted()
		}
	}
}

// recordContent persists the step's text and reasoning under the part ids
// the deltas streamed against.
func (st *loopState) recordContent(ctx context.Context, resp *provider.Response) {
	if resp.Reasoning != "" {
		part := &message.ReasoningPart{Text: resp.Reasoning}
		part.ID = st.pendingReasoningID
		if err := st.persistPart(ctx, part); err != nil {
			slog.Warn("reasoning part persist failed", "error", err)
		}
	}
	if resp.Content != "" {
		part := &message.TextPart{Text: resp.Content}
		part.ID = st.pendingTextID
		if err := st.persistPart(ctx, part); err != nil {
			slog.Warn("text part persist failed", "error", err)
		}
	}
}

// runTools executes the step's tool calls, walking each tool part through
// pending, running and its terminal state.
func (st *loopState) runTools(ctx context.Context, calls []provider.ToolCall) error {
	r := st.runner
	parts := make([]*message.ToolPart, len(calls))
	invs := make([]tools.Invocation, len(calls))

	dir := st.session.Directory
	if dir == "" {
		dir = r.dir
	}

	for i, call := range calls {
		callID := call.ID
		if callID == "" {
			callID = id.ToolCall()
		}
		part := &message.ToolPart{
			CallID: callID,
			Tool:   call.Name,
			State: message.ToolState{
				Status: message.ToolPending,
				Input:  call.Arguments,
			},
		}
		if err := st.persistPart(ctx, part); err != nil {
			return err
		}
		parts[i] = part
		st.openTools = append(st.openTools, part)

		invs[i] = tools.Invocation{
			Name: call.Name,
			Args: call.Arguments,
			Call: tools.Call{
				SessionID: st.session.ID,
				MessageID: st.assistant.ID,
				CallID:    callID,
				Agent:     st.agent.Name,
				Dir:       dir,
				Ask:       r.askFunc(st.session.ID, st.assistant.ID),
				Metadata:  st.progressFunc(part),
			},
		}
	}

	results := r.tools.RunBatch(ctx, invs, func(i int) {
		part := parts[i]
		part.State.Status = message.ToolRunning
		part.State.Time.Start = time.Now().UnixMilli()
		if err := st.persistPart(ctx, part); err != nil {
			slog.Warn("tool part update failed", "tool", part.Tool, "error", err)
		}
	})

	for i, res := range results {
		part := parts[i]
		part.State.Time.End = time.Now().UnixMilli()
		part.State.Title = res.Title
		part.State.Metadata = res.Metadata
		part.State.Attachments = res.Attachments
		if res.IsError {
			part.State.Status = message.ToolError
			part.State.Error = res.Error
		} else {
			part.State.Status = message.ToolCompleted
			part.State.Output = res.Output
		}
		if err := st.persistPart(ctx, part); err != nil {
			return err
		}
	}
	st.openTools = nil

	if ctx.Err() != nil {
		return message.NewAborted()
	}
	return nil
}

// progressFunc lets a running tool surface partial title/metadata.
func (st *loopState) progressFunc(part *message.ToolPart) tools.MetadataFunc {
	return func(title string, meta map[string]any) {
		if title != "" {
			part.State.Title = title
		}
		if meta != nil {
			part.State.Metadata = meta
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.persistPart(ctx, part); err != nil {
			slog.Debug("tool progress persist failed", "tool", part.Tool, "error", err)
		}
	}
}

// abortOpenTools marks tool parts that never finished as errored after a
// user abort.
func (st *loopState) abortOpenTools() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, part := range st.openTools {
		if part.State.Status == message.ToolCompleted || part.State.Status == message.ToolError {
			continue
		}
		part.State.Status = message.ToolError
		part.State.Error = "User aborted"
		part.State.Time.End = time.Now().UnixMilli()
		if err := st.persistPart(ctx, part); err != nil {
			slog.Warn("abort tool part update failed", "tool", part.Tool, "error", err)
		}
	}
	st.openTools = nil
}

// appendText persists one synthetic assistant text part.
func (st *loopState) appendText(ctx context.Context, text string) {
	if err := st.persistPart(ctx, &message.TextPart{Text: text, Synthetic: true}); err != nil {
		slog.Warn("text part persist failed", "error", err)
	}
}

// persistPart stamps identity onto a part and upserts it under the
// assistant message.
func (st *loopState) persistPart(ctx context.Context, p message.Part) error {
	base := p.Base()
	if base.ID == "" {
		base.ID = id.Part()
	}
	base.SessionID = st.session.ID
	base.MessageID = st.assistant.ID
	return st.runner.store.UpsertPart(ctx, p)
}

// toolDefs projects the registry through the turn's tool filter, adding
// the structured-output tool when the turn requests it.
func (st *loopState) toolDefs() []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	if !st.toolsDisabled() {
		defs = st.runner.tools.Defs(st.enabled)
	}
	if st.structured != nil {
		defs = append(defs, st.structured.def())
	}
	return defs
}

func (st *loopState) toolsDisabled() bool {
	flag, ok := st.enabled["*"]
	return ok && !flag
}

func joinSystem(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
