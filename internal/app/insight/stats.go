package insight

import (
	"context"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// StatsStep counts messages per role, lists conversation ids in first-seen
// order and totals tokens.
type StatsStep struct {
	counter domain.TokenCounter
}

// NewStatsStep uses counter for messages stored without a token count; it may be nil.
func NewStatsStep(counter domain.TokenCounter) *StatsStep {
	return &StatsStep{counter: counter}
}

func (s *StatsStep) Name() string {
	return "stats"
}

func (s *StatsStep) Run(_ context.Context, session *domain.ChatSession, r *Report) error {
	seen := make(map[domain.ConversationID]bool)
	r.MessageCount = len(session.Messages)

	for _, m := range session.Messages {
		r.RoleCounts[m.Role]++

		if m.ConversationID != "" && !seen[m.ConversationID] {
			seen[m.ConversationID] = true
			r.Conversations = append(r.Conversations, m.ConversationID)
		}

		tokens := m.TokenCount
		if tokens == 0 && s.counter != nil {
			tokens = s.counter.CountTokens(m.Text)
		}
		r.TokenTotal += tokens
	}
	return nil
}
