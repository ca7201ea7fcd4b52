// Package mongo stores sessions as one document each, messages embedded in
// an array, and summaries in a sibling collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/PabloGalante/chatsum/internal/domain"
)

const (
	sessionsCollection  = "chat_sessions"
	summariesCollection = "chat_summaries"
)

type Store struct {
	client    *mongo.Client
	sessions  *mongo.Collection
	summaries *mongo.Collection
	now       func() time.Time
}

// NewStore connects to uri, pings the server and ensures the indexes exist.
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("uri is required for Mongo store")
	}
	if database == "" {
		return nil, fmt.Errorf("database is required for Mongo store")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, upstream("connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, upstream("ping", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		sessions:  db.Collection(sessionsCollection),
		summaries: db.Collection(summariesCollection),
		now:       time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// upstream marks a driver failure as a storage outage.
func upstream(op string, err error) error {
	return fmt.Errorf("%w: mongo %s: %w", domain.ErrUpstream, op, err)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return upstream("create session index", err)
	}

	_, err = s.summaries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "generated_at", Value: -1}},
	})
	if err != nil {
		return upstream("create summary index", err)
	}
	return nil
}

// ─────────────────────────────────────────
// Mongo Types
// ─────────────────────────────────────────

type sessionDoc struct {
	ID        string       `bson:"_id"`
	UserID    string       `bson:"user_id"`
	Messages  []messageDoc `bson:"chat_messages"`
	CreatedAt time.Time    `bson:"created_at"`
	UpdatedAt time.Time    `bson:"updated_at"`
}

type messageDoc struct {
	ID             string    `bson:"id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Text           string    `bson:"message"`
	TokenCount     int       `bson:"token_count"`
	CreatedAt      time.Time `bson:"created_at"`
}

// infoDoc is the ListByUser projection: counts and previews are computed
// server-side so the message logs never leave the database.
type infoDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	MessageCount int       `bson:"message_count"`
	FirstMessage string    `bson:"first_message"`
	LastMessage  string    `bson:"last_message"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

var infoProjection = bson.M{
	"user_id":       1,
	"created_at":    1,
	"updated_at":    1,
	"message_count": bson.M{"$size": "$chat_messages"},
	"first_message": bson.M{"$arrayElemAt": bson.A{"$chat_messages.message", 0}},
	"last_message":  bson.M{"$arrayElemAt": bson.A{"$chat_messages.message", -1}},
}

type summaryDoc struct {
	ID           string    `bson:"_id"`
	SessionID    string    `bson:"session_id"`
	Text         string    `bson:"text"`
	MessageCount int       `bson:"message_count"`
	Model        string    `bson:"model"`
	GeneratedAt  time.Time `bson:"generated_at"`
}

func (d *sessionDoc) toDomain() *domain.ChatSession {
	sess := &domain.ChatSession{
		ID:        domain.SessionID(d.ID),
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

func (d *summaryDoc) toDomain() *domain.Summary {
	return &domain.Summary{
		ID:           domain.SummaryID(d.ID),
		SessionID:    domain.SessionID(d.SessionID),
		Text:         d.Text,
		MessageCount: d.MessageCount,
		Model:        d.Model,
		GeneratedAt:  d.GeneratedAt,
	}
}

// recency is the listing order shared by Search and ListByUser.
var recency = bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

// CreateOrAppend upserts the session and pushes msgs in one atomic update,
// so concurrent appends never lose messages.
func (s *Store) CreateOrAppend(
	ctx context.Context,
	id domain.SessionID,
	userID domain.UserID,
	msgs []domain.ChatMessage,
) (*domain.ChatSession, error) {
	if err := domain.ValidateAppend(id, msgs); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)

	docs := make([]messageDoc, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		docs = append(docs, messageDoc{
			ID:             string(m.ID),
			ConversationID: string(m.ConversationID),
			Role:           string(m.Role),
			Text:           m.Text,
			TokenCount:     m.TokenCount,
			CreatedAt:      m.CreatedAt,
		})
	}

	update := bson.M{
		"$push":        bson.M{"chat_messages": bson.M{"$each": docs}},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"user_id": string(userID), "created_at": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx, bson.M{"_id": string(id)}, update, opts).Decode(&doc)
	if err != nil {
		return nil, upstream("CreateOrAppend", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) Get(ctx context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return nil, upstream("Get", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) Delete(ctx context.Context, id domain.SessionID) (int64, error) {
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return 0, upstream("Delete", err)
	}
	if _, err := s.summaries.DeleteMany(ctx, bson.M{"session_id": string(id)}); err != nil {
		return res.DeletedCount, upstream("Delete summaries", err)
	}
	return res.DeletedCount, nil
}

// Search matches message text with an escaped regular expression, which
// gives literal substring semantics.
func (s *Store) Search(ctx context.Context, q domain.SearchQuery) ([]*domain.ChatSession, error) {
	if err := domain.ValidateSearch(q); err != nil {
		return nil, err
	}

	pattern := bson.Regex{Pattern: regexp.QuoteMeta(q.Text)}
	if !q.CaseSensitive {
		pattern.Options = "i"
	}
	filter := bson.M{"chat_messages.message": pattern}
	if q.UserID != "" {
		filter["user_id"] = string(q.UserID)
	}

	opts := options.Find().SetSort(recency)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	docs, err := s.findSessions(ctx, filter, opts)
	if err != nil {
		return nil, upstream("Search", err)
	}

	out := make([]*domain.ChatSession, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (s *Store) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionInfo, error) {
	opts := options.Find().SetSort(recency).SetProjection(infoProjection)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.sessions.Find(ctx, bson.M{"user_id": string(userID)}, opts)
	if err != nil {
		return nil, upstream("ListByUser", err)
	}
	var docs []infoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, upstream("ListByUser decode", err)
	}

	out := make([]domain.SessionInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.SessionInfo{
			ID:           domain.SessionID(d.ID),
			UserID:       domain.UserID(d.UserID),
			MessageCount: d.MessageCount,
			FirstMessage: domain.Preview(d.FirstMessage),
			LastMessage:  domain.Preview(d.LastMessage),
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Store) findSessions(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]sessionDoc, error) {
	cur, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ─────────────────────────────────────────
// SummaryStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendSummary(ctx context.Context, summary *domain.Summary) error {
	if summary == nil {
		return nil
	}

	_, err := s.summaries.InsertOne(ctx, summaryDoc{
		ID:           string(summary.ID),
		SessionID:    string(summary.SessionID),
		Text:         summary.Text,
		MessageCount: summary.MessageCount,
		Model:        summary.Model,
		GeneratedAt:  summary.GeneratedAt,
	})
	if err != nil {
		return upstream("AppendSummary", err)
	}
	return nil
}

func (s *Store) LatestSummary(ctx context.Context, sessionID domain.SessionID) (*domain.Summary, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "generated_at", Value: -1}})

	var doc summaryDoc
	err := s.summaries.FindOne(ctx, bson.M{"session_id": string(sessionID)}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, upstream("LatestSummary", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListSummaries(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Summary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "generated_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.summaries.Find(ctx, bson.M{"session_id": string(sessionID)}, opts)
	if err != nil {
		return nil, upstream("ListSummaries", err)
	}
	var docs []summaryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, upstream("ListSummaries decode", err)
	}

	out := make([]*domain.Summary, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
