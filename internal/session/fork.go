package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
)

// Fork clones a session into a new root session. Messages created before
// the cutoff message are copied with fresh ids; the cutoff message itself
// and everything after it are excluded. An empty cutoff clones the whole
// history. Assistant parent pointers are remapped through the id map and
// token totals are preserved per message.
func (s *Store) Fork(ctx context.Context, parentID, cutoffMessageID string) (*Info, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	history, err := s.ListMessages(ctx, parentID, 0)
	if err != nil {
		return nil, err
	}

	if cutoffMessageID != "" {
		cut := -1
		for i, m := range history {
			if m.Info.ID == cutoffMessageID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, message.NewNotFound("message", cutoffMessageID)
		}
		history = history[:cut]
	}

	now := time.Now().UnixMilli()
	fork := &Info{
		ID:        id.Session(),
		ProjectID: parent.ProjectID,
		Directory: parent.Directory,
		Title:     nextForkTitle(parent.Title),
		Version:   s.version,
		Time:      InfoTime{Created: now, Updated: now},
	}
	fork.Slug = slugify(fork.Title)

	idMap := make(map[string]string, len(history))
	for _, m := range history {
		idMap[m.Info.ID] = id.Message()
	}

	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := s.insertSession(ctx, tx, fork); err != nil {
			return err
		}
		for _, m := range history {
			info := m.Info
			info.ID = idMap[m.Info.ID]
			info.SessionID = fork.ID
			if info.ParentID != "" {
				if mapped, ok := idMap[info.ParentID]; ok {
					info.ParentID = mapped
				}
			}
			data, err := json.Marshal(info)
			if err != nil {
				return fmt.Errorf("marshal forked message: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO message (id, session_id, data, time_created) VALUES (?, ?, ?, ?)`,
				info.ID, fork.ID, string(data), info.Time.Created)
			if err != nil {
				return fmt.Errorf("insert forked message: %w", err)
			}
			snapshot := info
			tx.Effect(func() { s.bus.Publish(EventMessage, snapshot) })

			for _, p := range m.Parts {
				base := p.Base()
				base.ID = id.Part()
				base.MessageID = info.ID
				base.SessionID = fork.ID
				raw, err := message.MarshalPart(p)
				if err != nil {
					return fmt.Errorf("marshal forked part: %w", err)
				}
				_, err = tx.Exec(ctx,
					`INSERT INTO part (id, message_id, session_id, data, time_created) VALUES (?, ?, ?, ?, ?)`,
					base.ID, info.ID, fork.ID, string(raw), time.Now().UnixMilli())
				if err != nil {
					return fmt.Errorf("insert forked part: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fork, nil
}
