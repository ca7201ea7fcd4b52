package domain

import (
	"fmt"
	"slices"
	"strings"
)

// ChatMessage is a single entry of a session's append-only log.
type ChatMessage struct {
	ID             MessageID
	ConversationID ConversationID
	Role           Role
	Text           string
	TokenCount     int
	CreatedAt      Timestamp
}

// ChatSession is a named, ordered collection of messages owned by a user.
type ChatSession struct {
	ID        SessionID
	UserID    UserID
	Messages  []ChatMessage
	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Clone returns a deep copy so callers never share the message slice with a store.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]ChatMessage(nil), s.Messages...)
	return &out
}

// Info builds the listing projection of the session.
func (s *ChatSession) Info() SessionInfo {
	info := SessionInfo{
		ID:           s.ID,
		UserID:       s.UserID,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if n := len(s.Messages); n > 0 {
		info.FirstMessage = Preview(s.Messages[0].Text)
		info.LastMessage = Preview(s.Messages[n-1].Text)
	}
	return info
}

// SessionInfo is what list_by_user returns: metadata without the full log.
type SessionInfo struct {
	ID           SessionID
	UserID       UserID
	MessageCount int
	FirstMessage string
	LastMessage  string
	CreatedAt    Timestamp
	UpdatedAt    Timestamp
}

const previewLen = 50

// Preview truncates text to 50 runes, marking the cut with an ellipsis.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "…"
}

// Turn is one (role, text) pair of a transcript.
type Turn struct {
	Role Role
	Text string
}

// SearchQuery scopes a substring search over message text.
type SearchQuery struct {
	Text          string
	UserID        UserID // empty means all users
	CaseSensitive bool
	Limit         int
}

// Fold is the case folding of case-insensitive search. Stores that match
// server-side persist folded text so every backend agrees on non-ASCII input.
func Fold(text string) string {
	return strings.ToLower(text)
}

// Matches reports whether text contains the query as a substring.
func (q SearchQuery) Matches(text string) bool {
	if q.CaseSensitive {
		return strings.Contains(text, q.Text)
	}
	return strings.Contains(Fold(text), Fold(q.Text))
}

// MatchesSession reports whether any message of the session matches.
func (q SearchQuery) MatchesSession(s *ChatSession) bool {
	if q.UserID != "" && s.UserID != q.UserID {
		return false
	}
	for _, m := range s.Messages {
		if q.Matches(m.Text) {
			return true
		}
	}
	return false
}

// ValidateAppend enforces the create_or_append preconditions every store shares.
func ValidateAppend(id SessionID, msgs []ChatMessage) error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidInput)
	}
	return nil
}

// ValidateSearch enforces the search preconditions every store shares.
func ValidateSearch(q SearchQuery) error {
	if q.Text == "" {
		return fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	return nil
}

// SortByRecency orders sessions most recently updated first; ties break on id.
func SortByRecency(sessions []*ChatSession) {
	slices.SortStableFunc(sessions, func(a, b *ChatSession) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}
