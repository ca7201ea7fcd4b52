// Package transcript turns stored sessions into the ordered role/text pairs
// that LLM clients consume.
package transcript

import (
	"iter"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// Assemble returns the session's messages as a lazy sequence of turns in
// insertion order. The sequence can be ranged over any number of times.
func Assemble(session *domain.ChatSession) iter.Seq[domain.Turn] {
	return assemble(session, func(domain.ChatMessage) bool { return true })
}

// AssembleConversation is Assemble restricted to one conversation sub-thread.
func AssembleConversation(session *domain.ChatSession, conversationID domain.ConversationID) iter.Seq[domain.Turn] {
	return assemble(session, func(m domain.ChatMessage) bool {
		return m.ConversationID == conversationID
	})
}

func assemble(session *domain.ChatSession, keep func(domain.ChatMessage) bool) iter.Seq[domain.Turn] {
	var msgs []domain.ChatMessage
	if session != nil {
		// Snapshot the slice header; appended messages never mutate existing entries.
		msgs = session.Messages[:len(session.Messages):len(session.Messages)]
	}

	return func(yield func(domain.Turn) bool) {
		for _, m := range msgs {
			if !keep(m) {
				continue
			}
			if !yield(domain.Turn{Role: m.Role, Text: m.Text}) {
				return
			}
		}
	}
}

// Collect materializes a transcript. Empty transcripts give an empty, non-nil slice.
func Collect(seq iter.Seq[domain.Turn]) []domain.Turn {
	out := []domain.Turn{}
	if seq == nil {
		return out
	}
	for t := range seq {
		out = append(out, t)
	}
	return out
}

// Len counts the turns of a transcript.
func Len(seq iter.Seq[domain.Turn]) int {
	n := 0
	if seq == nil {
		return n
	}
	for range seq {
		n++
	}
	return n
}
