package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/config"
	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/permission"
	"github.com/nextlevelbuilder/gocode/internal/provider"
	"github.com/nextlevelbuilder/gocode/internal/session"
	"github.com/nextlevelbuilder/gocode/internal/tools"
)

var tracer = otel.Tracer("gocode/agent")

// Runner owns the prompt loop: one running loop per session at a time.
type Runner struct {
	store     *session.Store
	bus       *bus.Bus
	tools     *tools.Registry
	providers *provider.Registry
	perms     *permission.Engine
	cfg       config.AgentConfig
	dir       string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRunner wires the loop to its collaborators. perms may be nil, in
// which case every tool call is allowed. dir is the working directory
// tools resolve relative paths against.
func NewRunner(store *session.Store, b *bus.Bus, toolReg *tools.Registry,
	providers *provider.Registry, perms *permission.Engine,
	cfg config.AgentConfig, dir string) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	return &Runner{
		store:     store,
		bus:       b,
		tools:     toolReg,
		providers: providers,
		perms:     perms,
		cfg:       cfg,
		dir:       dir,
		active:    make(map[string]context.CancelFunc),
	}
}

// PromptInput is one user turn.
type PromptInput struct {
	SessionID string
	// Agent selects the agent personality; empty uses the configured default.
	Agent string
	// Model overrides the configured provider/model pair.
	Model message.ModelRef
	// Parts is the user content. A bare Text is wrapped into a text part.
	Parts []message.Part
	Text  string
	// Tools narrows tool availability for this turn.
	Tools map[string]bool
	// Format requests structured output.
	Format *message.OutputFormat
	// System appends extra instructions to the agent system prompt.
	System string
}

// Busy reports whether a loop currently holds the session.
func (r *Runner) Busy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Cancel aborts the running loop on a session, if any. The loop observes
// the cancellation, marks the assistant message aborted and releases the
// session.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// claim reserves the session for one loop run. A second claim while the
// first is live fails with SessionBusyError.
func (r *Runner) claim(ctx context.Context, sessionID string) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[sessionID]; busy {
		return nil, nil, message.NewBusy(sessionID)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.active[sessionID] = cancel
	release := func() {
		r.mu.Lock()
		delete(r.active, sessionID)
		r.mu.Unlock()
		cancel()
	}
	return ctx, release, nil
}

// Prompt runs one user turn to completion and returns the terminal
// assistant message with its parts.
func (r *Runner) Prompt(ctx context.Context, in PromptInput) (*message.WithParts, error) {
	sess, err := r.store.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	ctx, release, err := r.claim(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	agentName := in.Agent
	if agentName == "" {
		agentName = r.cfg.Default
	}
	agentCfg := resolveAgent(agentName)

	model := in.Model
	if model.ProviderID == "" {
		model.ProviderID = r.cfg.Provider
	}
	if model.ModelID == "" {
		model.ModelID = r.cfg.Model
	}

	ctx, span := tracer.Start(ctx, "agent.prompt", oteltrace.WithAttributes(
		attribute.String("session.id", in.SessionID),
		attribute.String("agent", agentCfg.Name),
		attribute.String("model", model.ModelID),
	))
	defer span.End()

	if r.perms != nil {
		r.perms.SetSessionRules(sess.ID, sessionRules(sess.Permissions))
	}

	userMsg, err := r.insertUserMessage(ctx, sess, agentCfg, model, in)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.maybeTitle(ctx, sess, in)

	assistant, err := r.run(ctx, sess, userMsg, agentCfg, in, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return assistant, err
	}
	if assistant.Info.Error != nil {
		span.SetStatus(codes.Error, assistant.Info.Error.Name)
	}
	return assistant, nil
}

// insertUserMessage persists the user turn with its parts, expanding text
// attachments and agent redirects into synthetic text.
func (r *Runner) insertUserMessage(ctx context.Context, sess *session.Info,
	agentCfg Config, model message.ModelRef, in PromptInput) (*message.Info, error) {
	now := time.Now().UnixMilli()
	info := message.Info{
		ID:        id.Message(),
		SessionID: sess.ID,
		Role:      message.RoleUser,
		Agent:     agentCfg.Name,
		Model:     model,
		System:    in.System,
		Format:    in.Format,
		Tools:     in.Tools,
		Time:      message.Time{Created: now},
	}
	if err := r.store.UpsertMessage(ctx, info); err != nil {
		return nil, err
	}

	parts := in.Parts
	if in.Text != "" {
		parts = append([]message.Part{&message.TextPart{Text: in.Text}}, parts...)
	}
	parts = expandParts(parts, sess.Directory, r.dir)

	for _, p := range parts {
		base := p.Base()
		if base.ID == "" {
			base.ID = id.Part()
		}
		base.SessionID = sess.ID
		base.MessageID = info.ID
		if err := r.store.UpsertPart(ctx, p); err != nil {
			return nil, err
		}
	}
	return &info, nil
}

// expandParts turns text attachments into synthetic read-tool text so the
// model sees file content inline, and appends the task-tool directive for
// agent redirects.
func expandParts(parts []message.Part, sessionDir, fallbackDir string) []message.Part {
	out := make([]message.Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
		switch v := p.(type) {
		case *message.FilePart:
			if !strings.HasPrefix(v.Mime, "text/") {
				continue
			}
			path := strings.TrimPrefix(v.URL, "file://")
			if !filepath.IsAbs(path) {
				dir := sessionDir
				if dir == "" {
					dir = fallbackDir
				}
				path = filepath.Join(dir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("skipping unreadable attachment", "path", path, "error", err)
				continue
			}
			header, _ := json.Marshal(map[string]string{"filePath": path})
			out = append(out,
				&message.TextPart{
					Text:      "Called the Read tool with the following input: " + string(header),
					Synthetic: true,
				},
				&message.TextPart{Text: string(data), Synthetic: true},
			)
		case *message.AgentPart:
			out = append(out, &message.TextPart{
				Text:      "Use the above message as the prompt and call the task tool with subagent: " + v.Name,
				Synthetic: true,
			})
		}
	}
	return out
}

// maybeTitle derives a session title from the first prompt when the
// session still carries its placeholder title.
func (r *Runner) maybeTitle(ctx context.Context, sess *session.Info, in PromptInput) {
	if !strings.HasPrefix(sess.Title, "New session - ") &&
		!strings.HasPrefix(sess.Title, "Child session - ") {
		return
	}
	text := in.Text
	if text == "" {
		for _, p := range in.Parts {
			if tp, ok := p.(*message.TextPart); ok && !tp.Synthetic {
				text = tp.Text
				break
			}
		}
	}
	if text == "" {
		return
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		text = text[:80]
	}
	if text == "" {
		return
	}
	if _, err := r.store.SetTitle(ctx, sess.ID, text); err != nil {
		slog.Warn("title update failed", "session", sess.ID, "error", err)
	}
}

// askFunc adapts the permission engine into the tool-facing callback.
func (r *Runner) askFunc(sessionID, messageID string) tools.PermissionFunc {
	if r.perms == nil {
		return nil
	}
	return func(ctx context.Context, perm, path string, meta map[string]any) (bool, error) {
		return r.perms.Evaluate(ctx, permission.Request{
			SessionID:  sessionID,
			MessageID:  messageID,
			Permission: perm,
			Path:       path,
			Metadata:   meta,
		})
	}
}

func sessionRules(rules []session.PermissionRule) []permission.Rule {
	out := make([]permission.Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, permission.Rule{
			Permission: r.Permission,
			Pattern:    r.Pattern,
			Action:     r.Action,
		})
	}
	return out
}

// publishError mirrors a loop failure onto the bus for UI subscribers.
func (r *Runner) publishError(sessionID string, e *message.Error) {
	r.bus.Publish(session.EventError, map[string]any{
		"sessionID": sessionID,
		"error":     e,
	})
}

func asMessageError(providerID string, err error) *message.Error {
	return message.ClassifyProviderError(providerID, 0, err)
}
