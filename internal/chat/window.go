package chat

import "strings"

const (
	// KeptMediaBudget is the maximum number of attachments in a window
	// allowed to carry a live remote reference simultaneously.
	KeptMediaBudget = 3

	// omittedMediaNote replaces attachments dropped by the media budget.
	omittedMediaNote = "[image context omitted]"

	// syntheticContextID identifies the leading context item injected in
	// place of truncated history.
	syntheticContextID = "synthetic-context"
)

// BuildWindow derives the slice of history to send with one turn.
//
// If bookmarkID resolves to an existing non-placeholder message the
// window starts strictly after it. Only real turns count toward
// maxTurns; the most recent maxTurns are kept. A synthetic leading
// status item carries the latest chat summary at or before the bookmark
// plus the long-lived profile digest, so truncated history is not fully
// lost.
//
// Pure: identical inputs produce an identical window.
func BuildWindow(all []Message, bookmarkID string, maxTurns int, profileDigest string) []Message {
	start := 0
	if bookmarkID != "" {
		for i := range all {
			if all[i].ID == bookmarkID && !all[i].Thinking {
				start = i + 1
				break
			}
		}
	}

	var turns []Message
	for i := start; i < len(all); i++ {
		if all[i].IsRealTurn() {
			turns = append(turns, all[i])
		}
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	summary := ""
	for i := start - 1; i >= 0; i-- {
		if all[i].ChatSummary != "" {
			summary = all[i].ChatSummary
			break
		}
	}

	var contextParts []string
	if profileDigest != "" {
		contextParts = append(contextParts, "Learner profile: "+profileDigest)
	}
	if summary != "" {
		contextParts = append(contextParts, "Conversation so far: "+summary)
	}

	window := make([]Message, 0, len(turns)+1)
	if len(contextParts) > 0 {
		window = append(window, Message{
			ID:   syntheticContextID,
			Role: RoleStatus,
			Text: strings.Join(contextParts, "\n"),
		})
	}
	window = append(window, turns...)
	return window
}

// mediaKeepSet returns the ids of the most recent budget
// attachment-bearing messages in the window; only those may carry a
// live remote reference in the outgoing payload.
func mediaKeepSet(window []Message, budget int) map[string]bool {
	keep := make(map[string]bool)
	for i := len(window) - 1; i >= 0 && len(keep) < budget; i-- {
		if window[i].HasAttachment() {
			keep[window[i].ID] = true
		}
	}
	return keep
}
