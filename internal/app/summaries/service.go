package summaries

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/chatsum/internal/domain"
)

const defaultLimit = 20

// Service holds the logic of reading stored summaries.
type Service struct {
	store domain.SummaryStore
}

// NewService creates a summaries service from a SummaryStore
func NewService(store domain.SummaryStore) *Service {
	return &Service{
		store: store,
	}
}

// ListSessionSummaries returns the last `limit` summaries of a session,
// newest first. If limit <= 0, a reasonable default value is used.
func (s *Service) ListSessionSummaries(
	ctx context.Context,
	sessionID domain.SessionID,
	limit int,
) ([]*domain.Summary, error) {

	if strings.TrimSpace(string(sessionID)) == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput)
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	return s.store.ListSummaries(ctx, sessionID, limit)
}
