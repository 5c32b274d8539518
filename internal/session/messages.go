package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/message"
)

// UpsertMessage inserts or replaces a message row and publishes
// message.updated after commit.
func (s *Store) UpsertMessage(ctx context.Context, info message.Info) error {
	if info.ID == "" || info.SessionID == "" {
		return message.NewArgument("message requires id and sessionID")
	}
	if info.Time.Created == 0 {
		info.Time.Created = time.Now().UnixMilli()
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		res, err := tx.Exec(ctx,
			`UPDATE message SET data = ? WHERE id = ? AND session_id = ?`,
			string(data), info.ID, info.SessionID)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO message (id, session_id, data, time_created) VALUES (?, ?, ?, ?)`,
				info.ID, info.SessionID, string(data), info.Time.Created)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		tx.Effect(func() { s.bus.Publish(EventMessage, info) })
		return nil
	})
}

// RemoveMessage deletes a message and its parts.
func (s *Store) RemoveMessage(ctx context.Context, sessionID, messageID string) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		res, err := tx.Exec(ctx,
			`DELETE FROM message WHERE id = ? AND session_id = ?`, messageID, sessionID)
		if err != nil {
			return fmt.Errorf("remove message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return message.NewNotFound("message", messageID)
		}
		tx.Effect(func() {
			s.bus.Publish(EventMessageGone, map[string]string{
				"sessionID": sessionID,
				"messageID": messageID,
			})
		})
		return nil
	})
}

// ListMessages returns a session's messages with parts, ascending by
// creation time. A positive limit keeps only the most recent messages.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]message.WithParts, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM message WHERE session_id = ? ORDER BY time_created ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var infos []message.Info
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var info message.Info
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[len(infos)-limit:]
	}

	out := make([]message.WithParts, 0, len(infos))
	for _, info := range infos {
		parts, err := s.listParts(ctx, info.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, message.WithParts{Info: info, Parts: parts})
	}
	return out, nil
}

// GetMessageWithParts fetches one message and its parts.
func (s *Store) GetMessageWithParts(ctx context.Context, sessionID, messageID string) (*message.WithParts, error) {
	var data string
	err := s.db.QueryRow(ctx,
		`SELECT data FROM message WHERE id = ? AND session_id = ?`,
		messageID, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, message.NewNotFound("message", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	var info message.Info
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	parts, err := s.listParts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &message.WithParts{Info: info, Parts: parts}, nil
}

func (s *Store) listParts(ctx context.Context, messageID string) ([]message.Part, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM part WHERE message_id = ? ORDER BY time_created ASC, id ASC`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var out []message.Part
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		p, err := message.UnmarshalPart([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPart inserts or replaces a part row and publishes
// message.part.updated after commit. Tool parts may only advance their
// state forward; a stale write is rejected.
func (s *Store) UpsertPart(ctx context.Context, part message.Part) error {
	base := part.Base()
	if base.ID == "" || base.MessageID == "" || base.SessionID == "" {
		return message.NewArgument("part requires id, messageID and sessionID")
	}
	data, err := message.MarshalPart(part)
	if err != nil {
		return fmt.Errorf("marshal part: %w", err)
	}

	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		var existing string
		err := tx.QueryRow(ctx, `SELECT data FROM part WHERE id = ?`, base.ID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.Exec(ctx,
				`INSERT INTO part (id, message_id, session_id, data, time_created) VALUES (?, ?, ?, ?, ?)`,
				base.ID, base.MessageID, base.SessionID, string(data), time.Now().UnixMilli())
			if err != nil {
				return fmt.Errorf("insert part: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load part: %w", err)
		default:
			if err := checkToolTransition([]byte(existing), part); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `UPDATE part SET data = ? WHERE id = ?`, string(data), base.ID)
			if err != nil {
				return fmt.Errorf("update part: %w", err)
			}
		}
		tx.Effect(func() { s.bus.Publish(EventPart, part) })
		return nil
	})
}

// checkToolTransition enforces monotonic tool-part state.
func checkToolTransition(existing []byte, incoming message.Part) error {
	tool, ok := incoming.(*message.ToolPart)
	if !ok {
		return nil
	}
	prev, err := message.UnmarshalPart(existing)
	if err != nil {
		return nil
	}
	prevTool, ok := prev.(*message.ToolPart)
	if !ok {
		return nil
	}
	if prevTool.State.Status == tool.State.Status {
		// In-place refresh of the same state (e.g. metadata update).
		return nil
	}
	if !message.ToolAdvance(prevTool.State.Status, tool.State.Status) {
		return message.NewArgument(fmt.Sprintf(
			"tool part %s cannot move %s -> %s", tool.ID, prevTool.State.Status, tool.State.Status))
	}
	return nil
}

// RemovePart deletes one part.
func (s *Store) RemovePart(ctx context.Context, sessionID, messageID, partID string) error {
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		res, err := tx.Exec(ctx,
			`DELETE FROM part WHERE id = ? AND message_id = ? AND session_id = ?`,
			partID, messageID, sessionID)
		if err != nil {
			return fmt.Errorf("remove part: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return message.NewNotFound("part", partID)
		}
		tx.Effect(func() {
			s.bus.Publish(EventPartGone, map[string]string{
				"sessionID": sessionID,
				"messageID": messageID,
				"partID":    partID,
			})
		})
		return nil
	})
}

// PublishDelta announces an incremental text delta for a streaming part.
// Deltas are not persisted; the full text lands via UpsertPart.
func (s *Store) PublishDelta(sessionID, messageID, partID, delta string) {
	s.bus.Publish(EventPartDelta, map[string]string{
		"sessionID": sessionID,
		"messageID": messageID,
		"partID":    partID,
		"delta":     delta,
	})
}
