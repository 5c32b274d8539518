package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/db"
)

// Todo is one item on a session's task list, maintained by the todo tools.
type Todo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending | in_progress | completed | cancelled
}

// SetTodos replaces a session's task list.
func (s *Store) SetTodos(ctx context.Context, sessionID string, todos []Todo) error {
	data, err := json.Marshal(todos)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}
	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		now := time.Now().UnixMilli()
		res, err := tx.Exec(ctx,
			`UPDATE todo SET data = ?, time_updated = ? WHERE session_id = ?`,
			string(data), now, sessionID)
		if err != nil {
			return fmt.Errorf("update todos: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO todo (session_id, data, time_updated) VALUES (?, ?, ?)`,
				sessionID, string(data), now)
			if err != nil {
				return fmt.Errorf("insert todos: %w", err)
			}
		}
		return nil
	})
}

// GetTodos returns a session's task list, empty if none was ever set.
func (s *Store) GetTodos(ctx context.Context, sessionID string) ([]Todo, error) {
	var data string
	err := s.db.QueryRow(ctx, `SELECT data FROM todo WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get todos: %w", err)
	}
	var todos []Todo
	if err := json.Unmarshal([]byte(data), &todos); err != nil {
		return nil, fmt.Errorf("decode todos: %w", err)
	}
	return todos, nil
}
