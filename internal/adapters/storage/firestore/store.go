package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// appendAttempts bounds transaction retries when writers contend on one session.
const appendAttempts = 20

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// NewStore creates a Firestore store for the given project.
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, upstream("create client", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

// upstream marks an RPC or decoding failure as a storage outage.
func upstream(op string, err error) error {
	return fmt.Errorf("%w: firestore %s: %w", domain.ErrUpstream, op, err)
}

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("chat_sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) summariesCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection("summaries")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID    string       `firestore:"user_id"`
	Messages  []messageDoc `firestore:"messages"`
	CreatedAt time.Time    `firestore:"created_at"`
	UpdatedAt time.Time    `firestore:"updated_at"`
}

type messageDoc struct {
	ID             string    `firestore:"id"`
	ConversationID string    `firestore:"conversation_id"`
	Role           string    `firestore:"role"`
	Text           string    `firestore:"message"`
	TokenCount     int       `firestore:"token_count"`
	CreatedAt      time.Time `firestore:"created_at"`
}

type summaryDoc struct {
	Text         string    `firestore:"text"`
	MessageCount int       `firestore:"message_count"`
	Model        string    `firestore:"model"`
	GeneratedAt  time.Time `firestore:"generated_at"`
}

func toMessageDoc(m domain.ChatMessage) messageDoc {
	return messageDoc{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		Role:           string(m.Role),
		Text:           m.Text,
		TokenCount:     m.TokenCount,
		CreatedAt:      m.CreatedAt,
	}
}

func (d *sessionDoc) toDomain(id domain.SessionID) *domain.ChatSession {
	sess := &domain.ChatSession{
		ID:        id,
		UserID:    domain.UserID(d.UserID),
		Messages:  make([]domain.ChatMessage, 0, len(d.Messages)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, m := range d.Messages {
		sess.Messages = append(sess.Messages, domain.ChatMessage{
			ID:             domain.MessageID(m.ID),
			ConversationID: domain.ConversationID(m.ConversationID),
			Role:           domain.Role(m.Role),
			Text:           m.Text,
			TokenCount:     m.TokenCount,
			CreatedAt:      m.CreatedAt,
		})
	}
	return sess
}

func decodeSession(snap *firestore.DocumentSnapshot) (*domain.ChatSession, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, upstream("decode session", err)
	}
	return doc.toDomain(domain.SessionID(snap.Ref.ID)), nil
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateOrAppend(
	ctx context.Context,
	id domain.SessionID,
	userID domain.UserID,
	msgs []domain.ChatMessage,
) (*domain.ChatSession, error) {
	if err := domain.ValidateAppend(id, msgs); err != nil {
		return nil, err
	}

	ref := s.sessionDoc(id)

	var result *domain.ChatSession
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now().UTC()

		added := make([]messageDoc, 0, len(msgs))
		for _, m := range msgs {
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			added = append(added, toMessageDoc(m))
		}

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			doc := sessionDoc{
				UserID:    string(userID),
				Messages:  added,
				CreatedAt: now,
				UpdatedAt: now,
			}
			result = doc.toDomain(id)
			return tx.Create(ref, doc)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		// The whole array is rewritten: ArrayUnion would drop messages equal
		// to one already stored. The transaction fails on a concurrent write.
		doc.Messages = append(doc.Messages, added...)
		doc.UpdatedAt = now
		result = doc.toDomain(id)

		return tx.Update(ref, []firestore.Update{
			{Path: "messages", Value: doc.Messages},
			{Path: "updated_at", Value: now},
		})
	}, firestore.MaxAttempts(appendAttempts))
	if err != nil {
		return nil, upstream("CreateOrAppend", err)
	}

	return result, nil
}

func (s *Store) Get(ctx context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return nil, upstream("Get", err)
	}
	return decodeSession(snap)
}

func (s *Store) Delete(ctx context.Context, id domain.SessionID) (int64, error) {
	if err := s.deleteSummaries(ctx, id); err != nil {
		return 0, err
	}

	_, err := s.sessionDoc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, upstream("Delete", err)
	}
	return 1, nil
}

func (s *Store) deleteSummaries(ctx context.Context, id domain.SessionID) error {
	refs, err := s.summariesCol(id).DocumentRefs(ctx).GetAll()
	if err != nil {
		return upstream("list summaries", err)
	}
	if len(refs) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return upstream("delete summary", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return upstream("delete summaries", err)
	}
	return nil
}

// Search scans the candidate sessions client side; Firestore has no
// substring operator.
func (s *Store) Search(ctx context.Context, q domain.SearchQuery) ([]*domain.ChatSession, error) {
	if err := domain.ValidateSearch(q); err != nil {
		return nil, err
	}

	query := s.sessionsCol().Query
	if q.UserID != "" {
		query = query.Where("user_id", "==", string(q.UserID))
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	result := []*domain.ChatSession{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, upstream("Search", err)
		}

		sess, err := decodeSession(snap)
		if err != nil {
			return nil, err
		}
		if q.MatchesSession(sess) {
			result = append(result, sess)
		}
	}

	domain.SortByRecency(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionInfo, error) {
	q := s.sessionsCol().Where("user_id", "==", string(userID)).OrderBy("updated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []domain.SessionInfo{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, upstream("ListByUser", err)
		}

		sess, err := decodeSession(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sess.Info())
	}
	return out, nil
}

// ─────────────────────────────────────────
// SummaryStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendSummary(ctx context.Context, summary *domain.Summary) error {
	if summary == nil {
		return nil
	}

	doc := summaryDoc{
		Text:         summary.Text,
		MessageCount: summary.MessageCount,
		Model:        summary.Model,
		GeneratedAt:  summary.GeneratedAt,
	}

	_, err := s.summariesCol(summary.SessionID).Doc(string(summary.ID)).Set(ctx, doc)
	if err != nil {
		return upstream("AppendSummary", err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, sessionID domain.SessionID) (*domain.Summary, error) {
	list, err := s.ListSummaries(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListSummaries(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Summary, error) {
	q := s.summariesCol(sessionID).OrderBy("generated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.Summary{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, upstream("ListSummaries", err)
		}

		var doc summaryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, upstream("decode summary", err)
		}

		out = append(out, &domain.Summary{
			ID:           domain.SummaryID(snap.Ref.ID),
			SessionID:    sessionID,
			Text:         doc.Text,
			MessageCount: doc.MessageCount,
			Model:        doc.Model,
			GeneratedAt:  doc.GeneratedAt,
		})
	}
	return out, nil
}

func (s *Store) Close(context.Context) error {
	return s.client.Close()
}
