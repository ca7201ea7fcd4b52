package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// Store is an in-memory domain.Store. It is NOT persistent and is only
// suitable for development / local mode and tests.
type Store struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]*domain.ChatSession
	summaries map[domain.SessionID][]*domain.Summary
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[domain.SessionID]*domain.ChatSession),
		summaries: make(map[domain.SessionID][]*domain.Summary),
		now:       time.Now,
	}
}

func (s *Store) CreateOrAppend(
	_ context.Context,
	id domain.SessionID,
	userID domain.UserID,
	msgs []domain.ChatMessage,
) (*domain.ChatSession, error) {
	if err := domain.ValidateAppend(id, msgs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	sess, exists := s.sessions[id]
	if !exists {
		sess = &domain.ChatSession{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
		}
		s.sessions[id] = sess
	}

	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		sess.Messages = append(sess.Messages, m)
	}
	sess.UpdatedAt = now

	return sess.Clone(), nil
}

func (s *Store) Get(_ context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}

	return sess.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id domain.SessionID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return 0, nil
	}
	delete(s.sessions, id)
	delete(s.summaries, id)
	return 1, nil
}

func (s *Store) Search(_ context.Context, q domain.SearchQuery) ([]*domain.ChatSession, error) {
	if err := domain.ValidateSearch(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.ChatSession{}
	for _, sess := range s.sessions {
		if q.MatchesSession(sess) {
			result = append(result, sess.Clone())
		}
	}

	domain.SortByRecency(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) ListByUser(_ context.Context, userID domain.UserID, limit int) ([]domain.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*domain.ChatSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			owned = append(owned, sess)
		}
	}
	domain.SortByRecency(owned)

	result := make([]domain.SessionInfo, 0, len(owned))
	for _, sess := range owned {
		result = append(result, sess.Info())
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

func (s *Store) Close(context.Context) error {
	return nil
}
