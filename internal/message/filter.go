package message

// FilterCompacted trims history at the most recent completed compaction.
//
// A compaction point is a user message carrying a compaction part that has
// been answered by a completed assistant (finish reason set, no error).
// Everything up to and including that assistant is dropped; only later
// messages remain in context. An unanswered compaction request filters
// nothing, so an in-flight compaction still sees full history.
//
// Messages must be in ascending creation order.
func FilterCompacted(msgs []WithParts) []WithParts {
	cut := -1
	for i := len(msgs) - 1; i >= 0 && cut < 0; i-- {
		m := msgs[i]
		if m.Info.Role != RoleUser || !hasCompaction(m.Parts) {
			continue
		}
		for j := i + 1; j < len(msgs); j++ {
			a := msgs[j].Info
			if a.Role == RoleAssistant && a.ParentID == m.Info.ID &&
				a.Finish != "" && a.Error == nil {
				cut = j
				break
			}
		}
	}
	if cut < 0 {
		return msgs
	}
	return msgs[cut+1:]
}

func hasCompaction(parts []Part) bool {
	for _, p := range parts {
		if _, ok := p.(*CompactionPart); ok {
			return true
		}
	}
	return false
}
