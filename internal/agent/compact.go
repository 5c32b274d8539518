package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/message"
)

// Compact summarizes the session so far. The summary lands as a regular
// assistant turn answering a compaction user message; history projection
// then drops everything before it. auto marks compactions the runtime
// triggered on context overflow.
func (r *Runner) Compact(ctx context.Context, sessionID string, auto bool) (*message.WithParts, error) {
	if _, err := r.store.SetCompacting(ctx, sessionID, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := r.store.SetCompacting(clearCtx, sessionID, 0); err != nil {
			slog.Warn("clearing compaction flag failed", "session", sessionID, "error", err)
		}
	}()

	return r.Prompt(ctx, PromptInput{
		SessionID: sessionID,
		Agent:     "compaction",
		Parts:     []message.Part{&message.CompactionPart{Auto: auto}},
	})
}
