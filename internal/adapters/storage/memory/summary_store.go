package memory

import (
	"context"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// AppendSummary saves a new summary.
func (s *Store) AppendSummary(_ context.Context, summary *domain.Summary) error {
	if summary == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *summary
	s.summaries[summary.SessionID] = append(s.summaries[summary.SessionID], &cp)
	return nil
}

// LatestSummary returns the newest summary, or nil when none exists.
func (s *Store) LatestSummary(_ context.Context, sessionID domain.SessionID) (*domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.summaries[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

// ListSummaries returns the last `limit` summaries, newest first.
// If limit <= 0, returns all.
func (s *Store) ListSummaries(
	_ context.Context,
	sessionID domain.SessionID,
	limit int,
) ([]*domain.Summary, error) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.summaries[sessionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	out := make([]*domain.Summary, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}

	return out, nil
}
