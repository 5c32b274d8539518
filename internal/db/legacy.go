package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LegacyStats reports what a legacy import touched.
type LegacyStats struct {
	Projects    int      `json:"projects"`
	Sessions    int      `json:"sessions"`
	Messages    int      `json:"messages"`
	Parts       int      `json:"parts"`
	Todos       int      `json:"todos"`
	Permissions int      `json:"permissions"`
	Shares      int      `json:"shares"`
	Errors      []string `json:"errors,omitempty"`
}

// Total is the number of imported rows across all entities.
func (s *LegacyStats) Total() int {
	return s.Projects + s.Sessions + s.Messages + s.Parts + s.Todos + s.Permissions + s.Shares
}

// ImportLegacy migrates the old per-file JSON layout under root into the
// relational store. The import is idempotent: rows that already exist are
// left alone, so re-running after a partial failure is safe. Unreadable
// files are skipped and reported in the stats rather than failing the run.
//
// Layout: project/<id>.json, session/<pid>/<sid>.json,
// message/<sid>/<mid>.json, part/<mid>/<pid>.json, todo/<sid>.json,
// permission/<pid>.json, session_share/<sid>.json.
func (d *DB) ImportLegacy(ctx context.Context, root string) (*LegacyStats, error) {
	stats := &LegacyStats{}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return stats, nil
	}

	err := d.WithTx(ctx, func(tx *Tx) error {
		d.importProjects(ctx, tx, root, stats)
		d.importSessions(ctx, tx, root, stats)
		d.importMessages(ctx, tx, root, stats)
		d.importParts(ctx, tx, root, stats)
		d.importTodos(ctx, tx, root, stats)
		d.importPermissions(ctx, tx, root, stats)
		d.importShares(ctx, tx, root, stats)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("legacy import: %w", err)
	}
	if stats.Total() > 0 {
		slog.Info("legacy storage imported",
			"projects", stats.Projects, "sessions", stats.Sessions,
			"messages", stats.Messages, "parts", stats.Parts,
			"errors", len(stats.Errors))
	}
	return stats, nil
}

func (d *DB) importProjects(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	for _, f := range jsonFiles(filepath.Join(root, "project")) {
		doc, raw, err := readDoc(f)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		id := stem(f)
		res, err := tx.Exec(ctx,
			`INSERT INTO project (id, data, time_created, time_updated)
			 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			id, raw, docTime(doc, "created"), docTime(doc, "updated"))
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("project %s: %v", id, err))
			continue
		}
		stats.Projects += rows(res)
	}
}

func (d *DB) importSessions(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	base := filepath.Join(root, "session")
	for _, dir := range subdirs(base) {
		projectID := filepath.Base(dir)
		for _, f := range jsonFiles(dir) {
			doc, raw, err := readDoc(f)
			if err != nil {
				stats.Errors = append(stats.Errors, err.Error())
				continue
			}
			id := stem(f)
			res, err := tx.Exec(ctx,
				`INSERT INTO session (id, project_id, parent_id, slug, directory, title, data, time_created, time_updated)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
				id, projectID, nullable(docStr(doc, "parentID")),
				docStr(doc, "slug"), docStr(doc, "directory"), docStr(doc, "title"),
				raw, docTime(doc, "created"), docTime(doc, "updated"))
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("session %s: %v", id, err))
				continue
			}
			stats.Sessions += rows(res)
		}
	}
}

func (d *DB) importMessages(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	base := filepath.Join(root, "message")
	for _, dir := range subdirs(base) {
		sessionID := filepath.Base(dir)
		for _, f := range jsonFiles(dir) {
			doc, raw, err := readDoc(f)
			if err != nil {
				stats.Errors = append(stats.Errors, err.Error())
				continue
			}
			id := stem(f)
			res, err := tx.Exec(ctx,
				`INSERT INTO message (id, session_id, data, time_created)
				 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
				id, sessionID, raw, docTime(doc, "created"))
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("message %s: %v", id, err))
				continue
			}
			stats.Messages += rows(res)
		}
	}
}

func (d *DB) importParts(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	base := filepath.Join(root, "part")
	for _, dir := range subdirs(base) {
		messageID := filepath.Base(dir)
		for _, f := range jsonFiles(dir) {
			doc, raw, err := readDoc(f)
			if err != nil {
				stats.Errors = append(stats.Errors, err.Error())
				continue
			}
			id := stem(f)
			res, err := tx.Exec(ctx,
				`INSERT INTO part (id, message_id, session_id, data, time_created)
				 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
				id, messageID, docStr(doc, "sessionID"), raw, docTime(doc, "created"))
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("part %s: %v", id, err))
				continue
			}
			stats.Parts += rows(res)
		}
	}
}

func (d *DB) importTodos(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	for _, f := range jsonFiles(filepath.Join(root, "todo")) {
		raw, err := os.ReadFile(f)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("todo %s: %v", f, err))
			continue
		}
		sessionID := stem(f)
		res, err := tx.Exec(ctx,
			`INSERT INTO todo (session_id, data, time_updated)
			 VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			sessionID, string(raw), time.Now().UnixMilli())
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("todo %s: %v", sessionID, err))
			continue
		}
		stats.Todos += rows(res)
	}
}

func (d *DB) importPermissions(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	for _, f := range jsonFiles(filepath.Join(root, "permission")) {
		raw, err := os.ReadFile(f)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("permission %s: %v", f, err))
			continue
		}
		projectID := stem(f)
		var ruleList []struct {
			Permission string `json:"permission"`
			Pattern    string `json:"pattern"`
			Action     string `json:"action"`
		}
		if err := json.Unmarshal(raw, &ruleList); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("permission %s: %v", projectID, err))
			continue
		}
		for _, r := range ruleList {
			res, err := tx.Exec(ctx,
				`INSERT INTO permission (project_id, permission, pattern, action, time_created)
				 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
				projectID, r.Permission, r.Pattern, r.Action, time.Now().UnixMilli())
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("permission %s/%s: %v", projectID, r.Permission, err))
				continue
			}
			stats.Permissions += rows(res)
		}
	}
}

func (d *DB) importShares(ctx context.Context, tx *Tx, root string, stats *LegacyStats) {
	for _, f := range jsonFiles(filepath.Join(root, "session_share")) {
		doc, _, err := readDoc(f)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		sessionID := stem(f)
		res, err := tx.Exec(ctx,
			`INSERT INTO session_share (session_id, secret, url, time_created)
			 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			sessionID, docStr(doc, "secret"), docStr(doc, "url"), docTime(doc, "created"))
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("share %s: %v", sessionID, err))
			continue
		}
		stats.Shares += rows(res)
	}
}

func jsonFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

func readDoc(path string) (map[string]any, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return doc, string(raw), nil
}

func docStr(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docTime(doc map[string]any, key string) int64 {
	if t, ok := doc["time"].(map[string]any); ok {
		if v, ok := t[key].(float64); ok && v > 0 {
			return int64(v)
		}
	}
	return time.Now().UnixMilli()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rows(res interface{ RowsAffected() (int64, error) }) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
