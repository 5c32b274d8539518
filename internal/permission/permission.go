// Package permission decides whether a tool invocation may proceed.
//
// Rules are evaluated newest-first; session-scoped rules take precedence
// over persistent ones. An unmatched request defaults to ask, which blocks
// the caller on a bus round trip until someone replies.
package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/id"
)

// Actions a rule can take.
const (
	Allow = "allow"
	Ask   = "ask"
	Deny  = "deny"
)

// Bus event names.
const (
	EventRequested = "permission.requested"
	EventReplied   = "permission.replied"
)

// Rule grants or denies one permission, optionally narrowed by a glob
// pattern over the request path and an expiry time.
type Rule struct {
	Permission string `json:"permission"`
	Pattern    string `json:"pattern,omitempty"`
	Action     string `json:"action"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
}

// Request describes one permission check.
type Request struct {
	SessionID  string         `json:"sessionID"`
	MessageID  string         `json:"messageID,omitempty"`
	Permission string         `json:"permission"`
	Path       string         `json:"path,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Question is published on EventRequested while a caller is blocked.
type Question struct {
	RequestID  string         `json:"requestID"`
	SessionID  string         `json:"sessionID"`
	Permission string         `json:"permission"`
	Pattern    string         `json:"pattern,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Reply resolves a Question.
type Reply struct {
	RequestID string `json:"requestID"`
	Action    string `json:"action"` // allow | deny
	Note      string `json:"note,omitempty"`
	// Remember persists an allow/deny rule for future checks.
	Remember bool `json:"remember,omitempty"`
}

// Engine is the process-wide permission authority.
type Engine struct {
	db        *db.DB
	bus       *bus.Bus
	projectID string

	mu         sync.Mutex
	persistent []Rule
	session    map[string][]Rule
	pending    map[string]chan Reply
	globs      map[string]glob.Glob
}

// NewEngine loads persistent rules for the project, seeding the defaults
// on first initialization.
func NewEngine(ctx context.Context, database *db.DB, b *bus.Bus, projectID string) (*Engine, error) {
	e := &Engine{
		db:        database,
		bus:       b,
		projectID: projectID,
		session:   make(map[string][]Rule),
		pending:   make(map[string]chan Reply),
		globs:     make(map[string]glob.Glob),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	if len(e.persistent) == 0 {
		if err := e.seedDefaults(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

var defaults = []Rule{
	{Permission: "read", Action: Allow},
	{Permission: "search", Action: Allow},
	{Permission: "write", Action: Ask},
	{Permission: "edit", Action: Ask},
	{Permission: "shell", Action: Ask},
	{Permission: "bash", Action: Ask},
}

func (e *Engine) seedDefaults(ctx context.Context) error {
	for _, r := range defaults {
		if err := e.Persist(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) load(ctx context.Context) error {
	rows, err := e.db.Query(ctx,
		`SELECT permission, pattern, action FROM permission WHERE project_id = ? ORDER BY time_created ASC`,
		e.projectID)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	defer rows.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.persistent = nil
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Permission, &r.Pattern, &r.Action); err != nil {
			return err
		}
		e.persistent = append(e.persistent, r)
	}
	return rows.Err()
}

// Persist appends a persistent rule and stores it.
func (e *Engine) Persist(ctx context.Context, rule Rule) error {
	_, err := e.db.Exec(ctx,
		`INSERT INTO permission (project_id, permission, pattern, action, time_created)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, permission, pattern) DO UPDATE SET action = excluded.action`,
		e.projectID, rule.Permission, rule.Pattern, rule.Action, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist rule: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persistent = append(e.persistent, rule)
	return nil
}

// SetSessionRules replaces the rules scoped to one session.
func (e *Engine) SetSessionRules(sessionID string, rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session[sessionID] = rules
}

// DropSession forgets a session's rules.
func (e *Engine) DropSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.session, sessionID)
}

// Check evaluates a request against session rules (newest first), then
// persistent rules (newest first). Unmatched requests default to Ask.
func (e *Engine) Check(req Request) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UnixMilli()

	for _, scope := range [][]Rule{e.session[req.SessionID], e.persistent} {
		for i := len(scope) - 1; i >= 0; i-- {
			if e.ruleMatches(scope[i], req, now) {
				return scope[i].Action
			}
		}
	}
	return Ask
}

func (e *Engine) ruleMatches(r Rule, req Request, now int64) bool {
	if r.Permission != req.Permission {
		return false
	}
	if r.ExpiresAt != 0 && r.ExpiresAt <= now {
		return false
	}
	if r.Pattern == "" {
		return true
	}
	g, ok := e.globs[r.Pattern]
	if !ok {
		var err error
		g, err = glob.Compile(r.Pattern)
		if err != nil {
			return false
		}
		e.globs[r.Pattern] = g
	}
	return g.Match(req.Path)
}

// Evaluate runs Check and, on Ask, blocks on a published Question until a
// Reply arrives or ctx is cancelled. Cancellation resolves as a denial.
func (e *Engine) Evaluate(ctx context.Context, req Request) (bool, error) {
	switch e.Check(req) {
	case Allow:
		return true, nil
	case Deny:
		return false, nil
	}

	reply, err := e.ask(ctx, req)
	if err != nil {
		return false, err
	}
	if reply.Remember && (reply.Action == Allow || reply.Action == Deny) {
		rule := Rule{Permission: req.Permission, Pattern: req.Path, Action: reply.Action}
		if perr := e.Persist(ctx, rule); perr != nil {
			return reply.Action == Allow, perr
		}
	}
	return reply.Action == Allow, nil
}

func (e *Engine) ask(ctx context.Context, req Request) (Reply, error) {
	requestID := id.Request()
	ch := make(chan Reply, 1)

	e.mu.Lock()
	e.pending[requestID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, requestID)
		e.mu.Unlock()
	}()

	e.bus.Publish(EventRequested, Question{
		RequestID:  requestID,
		SessionID:  req.SessionID,
		Permission: req.Permission,
		Pattern:    req.Path,
		Metadata:   req.Metadata,
	})

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return Reply{RequestID: requestID, Action: Deny, Note: "cancelled"}, nil
	}
}

// Answer resolves a pending question. Unknown request ids are ignored so
// duplicate replies are harmless.
func (e *Engine) Answer(reply Reply) {
	e.mu.Lock()
	ch, ok := e.pending[reply.RequestID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
		e.bus.Publish(EventReplied, reply)
	default:
	}
}

// Pending returns the number of unanswered questions. Used by tests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
