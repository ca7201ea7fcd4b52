package domain

import "time"

// Summary is a derived description of a session. It never replaces the messages
// and can be recomputed at any time.
type Summary struct {
	ID        SummaryID `json:"id"`
	SessionID SessionID `json:"session_id"`
	Text      string    `json:"text"`

	// Number of messages the session held when the summary was produced.
	MessageCount int `json:"message_count"`

	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Covers reports whether the summary was produced from the session's current log.
func (s *Summary) Covers(session *ChatSession) bool {
	return s != nil && session != nil && s.MessageCount == len(session.Messages)
}
