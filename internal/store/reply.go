package store

// Reply resolution. A reply reference is only ever a weak link: the
// target may sit outside the loaded history window, or may itself be an
// attachment whose raw descriptor must not leak into a snippet.

const (
	snippetMax = 40

	// UnresolvedSnippet is shown when the reply target is not loaded.
	UnresolvedSnippet = "original message"

	// DeletedSnippet is shown for replies to retracted messages.
	DeletedSnippet = "deleted message"
)

// ResolveReply looks up a reply target among the loaded messages and
// builds the display reference for it. A missing target degrades to an
// unresolved stub; it never fails.
func (s *Store) ResolveReply(targetID string) Reply {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveReplyLocked(targetID)
}

func (s *Store) resolveReplyLocked(targetID string) Reply {
	i := s.indexByID(targetID)
	if i < 0 {
		return Reply{ID: targetID, Snippet: UnresolvedSnippet}
	}
	t := s.msgs[i]
	if t.Deleted {
		return Reply{ID: targetID, Snippet: DeletedSnippet, Resolved: true}
	}
	if t.Attachment != nil {
		return Reply{ID: targetID, Snippet: "📎 " + t.Attachment.Name, Resolved: true}
	}
	return Reply{ID: targetID, Snippet: truncateSnippet(t.Content), Resolved: true}
}

func truncateSnippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetMax {
		return content
	}
	return string(runes[:snippetMax]) + "…"
}
