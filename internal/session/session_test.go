package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/db"
	"github.com/nextlevelbuilder/gocode/internal/id"
	"github.com/nextlevelbuilder/gocode/internal/message"
)

func newTestStore(t *testing.T) (*Store, *bus.Bus) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	b := bus.New()
	store, err := NewStore(database, b, Options{ProjectID: "proj_test", Version: "test"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, b
}

func TestCreatePublishesAfterCommit(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	var created []Info
	b.Subscribe(EventCreated, func(ev bus.Event) {
		created = append(created, ev.Payload.(Info))
	})

	info, err := store.Create(ctx, CreateOptions{Title: "hello world"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(info.ID, "session_") {
		t.Errorf("id = %q", info.ID)
	}
	if info.Slug != "hello-world" {
		t.Errorf("slug = %q", info.Slug)
	}
	if len(created) != 1 || created[0].ID != info.ID {
		t.Fatalf("created events = %+v", created)
	}

	got, err := store.Get(ctx, info.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "hello world" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestDefaultTitles(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	root, err := store.Create(ctx, CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(root.Title, "New session - ") {
		t.Errorf("root title = %q", root.Title)
	}

	child, err := store.Create(ctx, CreateOptions{ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(child.Title, "Child session - ") {
		t.Errorf("child title = %q", child.Title)
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "session_nope")
	var e *message.Error
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
	if !asMessageError(err, &e) || e.Name != message.ErrNotFound {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func asMessageError(err error, target **message.Error) bool {
	e, ok := err.(*message.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestListOrderAndFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, CreateOptions{Title: "alpha"})
	time.Sleep(2 * time.Millisecond)
	bSess, _ := store.Create(ctx, CreateOptions{Title: "beta"})
	time.Sleep(2 * time.Millisecond)
	if _, err := store.Touch(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx, ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != a.ID {
		t.Errorf("touched session should list first, got %v", ids(list))
	}

	if _, err := store.SetArchived(ctx, bSess.ID, true); err != nil {
		t.Fatal(err)
	}
	archived := true
	list, err = store.List(ctx, ListFilters{Archived: &archived})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != bSess.ID {
		t.Errorf("archived filter got %v", ids(list))
	}

	list, err = store.List(ctx, ListFilters{TitleContains: "ALPH"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("title filter got %v", ids(list))
	}
}

func ids(list []*Info) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestChildrenExcludesForks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	parent, _ := store.Create(ctx, CreateOptions{Title: "parent"})
	child, _ := store.Create(ctx, CreateOptions{ParentID: parent.ID})
	fork, err := store.Fork(ctx, parent.ID, "")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if fork.ParentID != "" {
		t.Error("fork must be a root session")
	}

	children, err := store.Children(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Errorf("children = %v", ids(children))
	}
}

func TestForkTitles(t *testing.T) {
	tests := []struct{ in, want string }{
		{"My session", "My session (fork #1)"},
		{"My session (fork #1)", "My session (fork #2)"},
		{"My session (fork #9)", "My session (fork #10)"},
	}
	for _, tt := range tests {
		if got := nextForkTitle(tt.in); got != tt.want {
			t.Errorf("nextForkTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestForkCutoffAndRemap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	parent, _ := store.Create(ctx, CreateOptions{Title: "work"})

	u1 := seedUserMessage(t, store, parent.ID, "first", 100)
	a1 := seedAssistantMessage(t, store, parent.ID, u1, 200)
	u2 := seedUserMessage(t, store, parent.ID, "second", 300)
	_ = seedAssistantMessage(t, store, parent.ID, u2, 400)

	// Cutoff at u2: the child keeps u1 and a1 only.
	fork, err := store.Fork(ctx, parent.ID, u2)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	msgs, err := store.ListMessages(ctx, fork.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("child has %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Info.ID == u1 || m.Info.ID == a1 {
			t.Errorf("child reused parent message id %s", m.Info.ID)
		}
		if m.Info.SessionID != fork.ID {
			t.Errorf("message %s kept old session id", m.Info.ID)
		}
	}
	if msgs[1].Info.ParentID != msgs[0].Info.ID {
		t.Errorf("assistant parent = %s, want remapped %s", msgs[1].Info.ParentID, msgs[0].Info.ID)
	}
	if msgs[1].Info.Tokens.Total != 15 {
		t.Errorf("token totals not preserved: %+v", msgs[1].Info.Tokens)
	}
}

func seedUserMessage(t *testing.T, store *Store, sessionID, text string, at int64) string {
	t.Helper()
	ctx := context.Background()
	msgID := id.Message()
	err := store.UpsertMessage(ctx, message.Info{
		ID: msgID, SessionID: sessionID, Role: message.RoleUser,
		Time: message.Time{Created: at},
	})
	if err != nil {
		t.Fatal(err)
	}
	part := &message.TextPart{
		PartBase: message.PartBase{ID: id.Part(), SessionID: sessionID, MessageID: msgID},
		Text:     text,
	}
	if err := store.UpsertPart(ctx, part); err != nil {
		t.Fatal(err)
	}
	return msgID
}

func seedAssistantMessage(t *testing.T, store *Store, sessionID, parentID string, at int64) string {
	t.Helper()
	msgID := id.Message()
	err := store.UpsertMessage(context.Background(), message.Info{
		ID: msgID, SessionID: sessionID, Role: message.RoleAssistant,
		ParentID: parentID, Finish: message.FinishStop,
		Tokens: message.Tokens{Input: 10, Output: 5, Total: 15},
		Time:   message.Time{Created: at},
	})
	if err != nil {
		t.Fatal(err)
	}
	return msgID
}

func TestToolPartTransitionEnforced(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, CreateOptions{})
	msgID := seedUserMessage(t, store, sess.ID, "go", 100)

	partID := id.Part()
	put := func(status string) error {
		return store.UpsertPart(ctx, &message.ToolPart{
			PartBase: message.PartBase{ID: partID, SessionID: sess.ID, MessageID: msgID},
			CallID:   "c1", Tool: "bash",
			State: message.ToolState{Status: status},
		})
	}

	if err := put(message.ToolPending); err != nil {
		t.Fatal(err)
	}
	if err := put(message.ToolRunning); err != nil {
		t.Fatal(err)
	}
	if err := put(message.ToolCompleted); err != nil {
		t.Fatal(err)
	}
	if err := put(message.ToolRunning); err == nil {
		t.Error("completed -> running must be rejected")
	}
}

func TestPartEventAfterCommitReadable(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, CreateOptions{})
	msgID := seedUserMessage(t, store, sess.ID, "hi", 100)

	// Every part event must refer to a part readable through the store.
	b.Subscribe(EventPart, func(ev bus.Event) {
		p := ev.Payload.(message.Part)
		got, err := store.GetMessageWithParts(ctx, sess.ID, p.Base().MessageID)
		if err != nil {
			t.Errorf("part event for unreadable message: %v", err)
			return
		}
		found := false
		for _, q := range got.Parts {
			if q.Base().ID == p.Base().ID {
				found = true
			}
		}
		if !found {
			t.Errorf("part %s announced but not readable", p.Base().ID)
		}
	})

	err := store.UpsertPart(ctx, &message.TextPart{
		PartBase: message.PartBase{ID: id.Part(), SessionID: sess.ID, MessageID: msgID},
		Text:     "more",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeleteCascades(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	parent, _ := store.Create(ctx, CreateOptions{})
	child, _ := store.Create(ctx, CreateOptions{ParentID: parent.ID})
	seedUserMessage(t, store, parent.ID, "hi", 100)

	var deleted []string
	b.Subscribe(EventDeleted, func(ev bus.Event) {
		deleted = append(deleted, ev.Payload.(Info).ID)
	})

	if err := store.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted events = %v, want child and parent", deleted)
	}
	if _, err := store.Get(ctx, child.ID); err == nil {
		t.Error("child survived parent delete")
	}
	if msgs, _ := store.ListMessages(ctx, parent.ID, 0); len(msgs) != 0 {
		t.Error("messages survived session delete")
	}
}

func TestDeleteRecursesIntoGrandchildren(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	parent, _ := store.Create(ctx, CreateOptions{})
	child, _ := store.Create(ctx, CreateOptions{ParentID: parent.ID})
	grandchild, _ := store.Create(ctx, CreateOptions{ParentID: child.ID})
	seedUserMessage(t, store, grandchild.ID, "deep work", 100)

	var deleted []string
	b.Subscribe(EventDeleted, func(ev bus.Event) {
		deleted = append(deleted, ev.Payload.(Info).ID)
	})

	if err := store.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, id := range []string{grandchild.ID, child.ID, parent.ID} {
		if _, err := store.Get(ctx, id); err == nil {
			t.Errorf("session %s survived delete", id)
		}
	}
	if len(deleted) != 3 {
		t.Errorf("deleted events = %v, want grandchild, child, parent", deleted)
	}
	// Deepest first keeps parents alive until their subtree is gone.
	if len(deleted) == 3 && (deleted[0] != grandchild.ID || deleted[2] != parent.ID) {
		t.Errorf("delete order = %v", deleted)
	}
	if msgs, _ := store.ListMessages(ctx, grandchild.ID, 0); len(msgs) != 0 {
		t.Error("grandchild messages survived delete")
	}
}

func TestShareUnshare(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, CreateOptions{Title: "shared work"})
	shared, err := store.Share(ctx, sess.ID)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if shared.Share == nil || shared.Share.URL == "" {
		t.Fatalf("share info = %+v", shared.Share)
	}

	// Sharing twice returns the same record.
	again, err := store.Share(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Share.Secret != shared.Share.Secret {
		t.Error("second share rotated the secret")
	}

	cleared, err := store.Unshare(ctx, sess.ID)
	if err != nil {
		t.Fatalf("unshare: %v", err)
	}
	if cleared.Share != nil {
		t.Error("share info not cleared")
	}
}

func TestTodos(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, CreateOptions{})
	todos := []Todo{
		{ID: "1", Content: "write tests", Status: "in_progress"},
		{ID: "2", Content: "ship", Status: "pending"},
	}
	if err := store.SetTodos(ctx, sess.ID, todos); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetTodos(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "write tests" {
		t.Errorf("todos = %+v", got)
	}

	todos[1].Status = "completed"
	if err := store.SetTodos(ctx, sess.ID, todos); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetTodos(ctx, sess.ID)
	if got[1].Status != "completed" {
		t.Errorf("todo update lost: %+v", got)
	}
}
