// Package session is the transactional store for sessions, messages and
// parts. Every mutation runs in a database transaction and announces
// itself on the bus via deferred effects, so subscribers only ever see
// committed state.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
)

// Bus event names owned by the store.
const (
	EventCreated     = "session.created"
	EventUpdated     = "session.updated"
	EventDeleted     = "session.deleted"
	EventError       = "session.error"
	EventMessage     = "message.updated"
	EventMessageGone = "message.removed"
	EventPart        = "message.part.updated"
	EventPartGone    = "message.part.removed"
	EventPartDelta   = "message.part.delta"
)

// PermissionRule is a session-scoped permission override. Later rules win.
type PermissionRule struct {
	Permission string `json:"permission"`
	Pattern    string `json:"pattern,omitempty"`
	Action     string `json:"action"` // allow | deny | ask
}

// Summary aggregates the diff a session produced.
type Summary struct {
	Additions int      `json:"additions"`
	Deletions int      `json:"deletions"`
	Files     int      `json:"files"`
	Diffs     []string `json:"diffs,omitempty"`
}

// Revert marks a rollback point inside a session.
type Revert struct {
	MessageID string `json:"messageID"`
	PartID    string `json:"partID,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// ShareInfo is present while a session is shared.
type ShareInfo struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// InfoTime carries the session timestamps in unix milliseconds.
type InfoTime struct {
	Created    int64 `json:"created"`
	Updated    int64 `json:"updated"`
	Compacting int64 `json:"compacting,omitempty"`
	Archived   int64 `json:"archived,omitempty"`
}

// Info is a session row.
type Info struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"projectID"`
	ParentID    string           `json:"parentID,omitempty"`
	Slug        string           `json:"slug"`
	Directory   string           `json:"directory"`
	Title       string           `json:"title"`
	Version     string           `json:"version"`
	Share       *ShareInfo       `json:"share,omitempty"`
	Summary     *Summary         `json:"summary,omitempty"`
	Revert      *Revert          `json:"revert,omitempty"`
	Permissions []PermissionRule `json:"permissions,omitempty"`
	Time        InfoTime         `json:"time"`
}

// Store persists sessions, messages and parts.
type Store struct {
	db        *db.DB
	bus       *bus.Bus
	projectID string
	version   string
	shareBase string
}

// Options configures a Store.
type Options struct {
	ProjectID string
	Version   string
	ShareBase string
}

// NewStore creates a store bound to one project. The project row is
// created on first use.
func NewStore(database *db.DB, b *bus.Bus, opts Options) (*Store, error) {
	if opts.ProjectID == "" {
		opts.ProjectID = "global"
	}
	s := &Store{
		db:        database,
		bus:       b,
		projectID: opts.ProjectID,
		version:   opts.Version,
		shareBase: opts.ShareBase,
	}
	now := time.Now().UnixMilli()
	_, err := database.Exec(context.Background(),
		`INSERT INTO project (id, data, time_created, time_updated)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		opts.ProjectID, "{}", now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure project: %w", err)
	}
	return s, nil
}

// CreateOptions configures session creation.
type CreateOptions struct {
	ParentID  string
	Title     string
	Directory string
}

// Create makes a new session and publishes session.created.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (*Info, error) {
	now := time.Now().UnixMilli()
	info := &Info{
		ID:        id.Session(),
		ProjectID: s.projectID,
		ParentID:  opts.ParentID,
		Directory: opts.Directory,
		Title:     opts.Title,
		Version:   s.version,
		Time:      InfoTime{Created: now, Updated: now},
	}
	if info.Title == "" {
		info.Title = defaultTitle(opts.ParentID != "")
	}
	info.Slug = slugify(info.Title)

	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		return s.insertSession(ctx, tx, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) insertSession(ctx context.Context, tx *db.Tx, info *Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO session (id, project_id, parent_id, slug, directory, title, data, time_created, time_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.ProjectID, nullable(info.ParentID), info.Slug,
		info.Directory, info.Title, string(data), info.Time.Created, info.Time.Updated)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	snapshot := *info
	tx.Effect(func() { s.bus.Publish(EventCreated, snapshot) })
	return nil
}

// Get returns a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Info, error) {
	var data string
	err := s.db.QueryRow(ctx, `SELECT data FROM session WHERE id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, message.NewNotFound("session", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	info := &Info{}
	if err := json.Unmarshal([]byte(data), info); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return info, nil
}

// update loads, mutates and persists a session, publishing session.updated.
func (s *Store) update(ctx context.Context, sessionID string, mutate func(*Info)) (*Info, error) {
	var info *Info
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		var data string
		err := tx.QueryRow(ctx, `SELECT data FROM session WHERE id = ?`, sessionID).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return message.NewNotFound("session", sessionID)
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		info = &Info{}
		if err := json.Unmarshal([]byte(data), info); err != nil {
			return fmt.Errorf("decode session %s: %w", sessionID, err)
		}

		mutate(info)
		info.Time.Updated = time.Now().UnixMilli()

		out, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE session SET slug = ?, directory = ?, title = ?, data = ?, time_updated = ? WHERE id = ?`,
			info.Slug, info.Directory, info.Title, string(out), info.Time.Updated, info.ID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		snapshot := *info
		tx.Effect(func() { s.bus.Publish(EventUpdated, snapshot) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Touch bumps the updated timestamp.
func (s *Store) Touch(ctx context.Context, sessionID string) (*Info, error) {
	return s.update(ctx, sessionID, func(*Info) {})
}

// SetTitle renames a session and refreshes its slug.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) {
		info.Title = title
		info.Slug = slugify(title)
	})
}

// SetArchived toggles archival.
func (s *Store) SetArchived(ctx context.Context, sessionID string, archived bool) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) {
		if archived {
			info.Time.Archived = time.Now().UnixMilli()
		} else {
			info.Time.Archived = 0
		}
	})
}

// SetCompacting marks a compaction in progress (zero clears it).
func (s *Store) SetCompacting(ctx context.Context, sessionID string, at int64) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) { info.Time.Compacting = at })
}

// SetPermission replaces the session-scoped permission rules.
func (s *Store) SetPermission(ctx context.Context, sessionID string, rules []PermissionRule) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) { info.Permissions = rules })
}

// SetRevert records a rollback point.
func (s *Store) SetRevert(ctx context.Context, sessionID string, revert Revert) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) { info.Revert = &revert })
}

// ClearRevert drops the rollback point.
func (s *Store) ClearRevert(ctx context.Context, sessionID string) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) { info.Revert = nil })
}

// SetSummary stores the aggregated diff summary.
func (s *Store) SetSummary(ctx context.Context, sessionID string, summary Summary) (*Info, error) {
	return s.update(ctx, sessionID, func(info *Info) { info.Summary = &summary })
}

// ListFilters narrows List results. Filters apply conjunctively.
type ListFilters struct {
	// Archived selects archived (true) or active (false) sessions when set.
	Archived *bool
	// RootsOnly drops child sessions.
	RootsOnly bool
	// TitleContains is a case-insensitive substring match.
	TitleContains string
	Limit         int
}

// List returns sessions ordered by updated time, newest first.
func (s *Store) List(ctx context.Context, filters ListFilters) ([]*Info, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM session WHERE project_id = ? ORDER BY time_updated DESC`,
		s.projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Info
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		info := &Info{}
		if err := json.Unmarshal([]byte(data), info); err != nil {
			slog.Warn("skipping undecodable session row", "error", err)
			continue
		}
		if !matches(info, filters) {
			continue
		}
		out = append(out, info)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, rows.Err()
}

func matches(info *Info, f ListFilters) bool {
	if f.Archived != nil && (info.Time.Archived != 0) != *f.Archived {
		return false
	}
	if f.RootsOnly && info.ParentID != "" {
		return false
	}
	if f.TitleContains != "" &&
		!strings.Contains(strings.ToLower(info.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	return true
}

// Children lists direct child sessions of a parent. Forks are roots and
// never appear here.
func (s *Store) Children(ctx context.Context, parentID string) ([]*Info, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM session WHERE parent_id = ? ORDER BY time_updated DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []*Info
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		info := &Info{}
		if err := json.Unmarshal([]byte(data), info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a session, its whole descendant tree, and all their
// messages and parts, then publishes session.deleted for each removed
// session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	info, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	doomed, err := s.descendants(ctx, sessionID)
	if err != nil {
		return err
	}
	doomed = append(doomed, info)

	return s.db.WithTx(ctx, func(tx *db.Tx) error {
		for _, sess := range doomed {
			if _, err := tx.Exec(ctx, `DELETE FROM session WHERE id = ?`, sess.ID); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			snapshot := *sess
			tx.Effect(func() { s.bus.Publish(EventDeleted, snapshot) })
		}
		return nil
	})
}

// descendants collects the subtree below sessionID, deepest first, so a
// child is always removed before its parent.
func (s *Store) descendants(ctx context.Context, sessionID string) ([]*Info, error) {
	children, err := s.Children(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []*Info
	for _, child := range children {
		below, err := s.descendants(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, below...)
		out = append(out, child)
	}
	return out, nil
}

// Share creates (or returns) the share record for a session and stores
// the URL on the session row.
func (s *Store) Share(ctx context.Context, sessionID string) (*Info, error) {
	info, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if info.Share != nil {
		return info, nil
	}

	secret := newSecret()
	base := s.shareBase
	if base == "" {
		base = "https://gocode.dev/s"
	}
	share := &ShareInfo{Secret: secret, URL: base + "/" + info.Slug + "-" + secret[:8]}

	err = s.db.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO session_share (session_id, secret, url, time_created)
			 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			sessionID, share.Secret, share.URL, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("share session: %w", err)
	}
	return s.update(ctx, sessionID, func(info *Info) { info.Share = share })
}

// Unshare removes the share record and clears the URL.
func (s *Store) Unshare(ctx context.Context, sessionID string) (*Info, error) {
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM session_share WHERE session_id = ?`, sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unshare session: %w", err)
	}
	return s.update(ctx, sessionID, func(info *Info) { info.Share = nil })
}

var forkTitle = regexp.MustCompile(`^(.*) \(fork #(\d+)\)$`)

// nextForkTitle appends " (fork #n)" to a title, bumping an existing
// fork counter instead of stacking suffixes.
func nextForkTitle(title string) string {
	base, n := title, 1
	if m := forkTitle.FindStringSubmatch(title); m != nil {
		base = m[1]
		if k, err := strconv.Atoi(m[2]); err == nil {
			n = k + 1
		}
	}
	return fmt.Sprintf("%s (fork #%d)", base, n)
}

func defaultTitle(child bool) string {
	stamp := time.Now().Format("2006-01-02 15:04:05")
	if child {
		return "Child session - " + stamp
	}
	return "New session - " + stamp
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = s[:48]
	}
	if s == "" {
		s = "session"
	}
	return s
}

func newSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return id.New("share")
	}
	return hex.EncodeToString(b)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
