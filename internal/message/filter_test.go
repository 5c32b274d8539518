package message

import "testing"

func user(id string, parts ...Part) WithParts {
	return WithParts{Info: Info{ID: id, Role: RoleUser}, Parts: parts}
}

func assistant(id, parentID, finish string, parts ...Part) WithParts {
	return WithParts{
		Info:  Info{ID: id, Role: RoleAssistant, ParentID: parentID, Finish: finish},
		Parts: parts,
	}
}

func TestFilterCompacted(t *testing.T) {
	history := []WithParts{
		user("u1", &TextPart{Text: "hello"}),
		assistant("a1", "u1", FinishStop),
		user("u2", &CompactionPart{}),
		assistant("a2", "u2", FinishStop, &TextPart{Text: "summary"}),
		user("u3", &TextPart{Text: "continue"}),
		assistant("a3", "u3", FinishStop),
	}

	got := FilterCompacted(history)
	if len(got) != 2 {
		t.Fatalf("kept %d messages, want 2", len(got))
	}
	if got[0].Info.ID != "u3" || got[1].Info.ID != "a3" {
		t.Errorf("kept %s, %s; want u3, a3", got[0].Info.ID, got[1].Info.ID)
	}
}

func TestFilterCompactedInFlight(t *testing.T) {
	// Compaction request without a completed answer filters nothing, so
	// the compaction step itself sees the full history.
	history := []WithParts{
		user("u1", &TextPart{Text: "hello"}),
		assistant("a1", "u1", FinishStop),
		user("u2", &CompactionPart{}),
	}

	got := FilterCompacted(history)
	if len(got) != 3 {
		t.Errorf("kept %d messages, want all 3", len(got))
	}
}

func TestFilterCompactedErroredAnswer(t *testing.T) {
	history := []WithParts{
		user("u1", &TextPart{Text: "hello"}),
		user("u2", &CompactionPart{}),
		assistant("a2", "u2", FinishStop),
	}
	history[2].Info.Error = NewAborted()

	got := FilterCompacted(history)
	if len(got) != 3 {
		t.Errorf("errored compaction answer must not activate the cut, kept %d", len(got))
	}
}

func TestFilterCompactedUsesLatestPoint(t *testing.T) {
	history := []WithParts{
		user("u1", &CompactionPart{}),
		assistant("a1", "u1", FinishStop),
		user("u2", &TextPart{Text: "more"}),
		assistant("a2", "u2", FinishStop),
		user("u3", &CompactionPart{}),
		assistant("a3", "u3", FinishStop),
		user("u4", &TextPart{Text: "after"}),
	}

	got := FilterCompacted(history)
	if len(got) != 1 || got[0].Info.ID != "u4" {
		t.Fatalf("got %d messages, want only u4", len(got))
	}
}

func TestToWireProjection(t *testing.T) {
	history := []WithParts{
		user("u1",
			&TextPart{Text: "visible"},
			&TextPart{Text: "hidden", Ignored: true},
			&CompactionPart{},
		),
		assistant("a1", "u1", FinishToolCalls,
			&TextPart{Text: "working"},
			&ToolPart{CallID: "c1", Tool: "read", State: ToolState{Status: ToolCompleted, Output: "data"}},
			&ToolPart{CallID: "c2", Tool: "bash", State: ToolState{Status: ToolRunning}},
		),
	}

	wire := ToWire(history)
	if len(wire) != 2 {
		t.Fatalf("got %d wire messages, want 2", len(wire))
	}

	u := wire[0]
	if len(u.Content) != 2 {
		t.Fatalf("user blocks = %d, want 2 (ignored text dropped)", len(u.Content))
	}
	if u.Content[1].Text != CompactionPrompt {
		t.Errorf("compaction part projected %q", u.Content[1].Text)
	}

	a := wire[1]
	if len(a.Content) != 3 {
		t.Fatalf("assistant blocks = %d, want 3", len(a.Content))
	}
	if a.Content[1].Output != "data" || a.Content[1].IsError {
		t.Errorf("completed tool block = %+v", a.Content[1])
	}
	if a.Content[2].Output != InterruptedOutput || !a.Content[2].IsError {
		t.Errorf("interrupted tool block = %+v", a.Content[2])
	}
}

func TestToWireSkipsErroredAssistant(t *testing.T) {
	failed := assistant("a1", "u1", "", &TextPart{Text: "partial"})
	failed.Info.Error = &Error{Name: ErrAPI, Message: "boom"}

	aborted := assistant("a2", "u2", "", &TextPart{Text: "kept"})
	aborted.Info.Error = NewAborted()

	wire := ToWire([]WithParts{failed, aborted})
	if len(wire) != 1 {
		t.Fatalf("got %d wire messages, want only the aborted one", len(wire))
	}
	if wire[0].Content[0].Text != "kept" {
		t.Errorf("wrong message survived: %+v", wire[0])
	}
}
