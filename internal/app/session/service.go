// Package session holds the use cases over chat sessions: recording
// messages, retrieval, search, and the AI-backed summarize / answer / chat /
// analyze operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/PabloGalante/chatsum/internal/app/insight"
	"github.com/PabloGalante/chatsum/internal/app/transcript"
	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

// QAConversationID groups the question/answer pairs that Answer records.
const QAConversationID domain.ConversationID = "qa"

const (
	defaultAITimeout    = 60 * time.Second
	defaultSearchLimit  = 10
	defaultHistoryLimit = 5
)

type Service struct {
	llm       domain.LLMClient
	sessions  domain.SessionStore
	summaries domain.SummaryStore
	counter   domain.TokenCounter
	pipeline  *insight.Pipeline
	now       func() time.Time

	aiTimeout      time.Duration
	caseSensitive  bool
	searchLimit    int
	historyLimit   int
	persistAnswers bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenCounter fills ChatMessage.TokenCount on every recorded message.
func WithTokenCounter(c domain.TokenCounter) Option {
	return func(s *Service) { s.counter = c }
}

// WithAITimeout bounds every AI call. Non-positive values keep the default;
// AI calls are never unbounded.
func WithAITimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.aiTimeout = d
		}
	}
}

func WithSearchDefaults(caseSensitive bool, limit int) Option {
	return func(s *Service) {
		s.caseSensitive = caseSensitive
		if limit > 0 {
			s.searchLimit = limit
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithAnswerPersistence controls whether Answer appends the question and
// answer to the session. Enabled by default.
func WithAnswerPersistence(enabled bool) Option {
	return func(s *Service) { s.persistAnswers = enabled }
}

func WithInsight(p *insight.Pipeline) Option {
	return func(s *Service) { s.pipeline = p }
}

func NewService(
	llm domain.LLMClient,
	sessions domain.SessionStore,
	summaries domain.SummaryStore,
	opts ...Option,
) *Service {
	s := &Service{
		llm:            llm,
		sessions:       sessions,
		summaries:      summaries,
		now:            time.Now,
		aiTimeout:      defaultAITimeout,
		searchLimit:    defaultSearchLimit,
		historyLimit:   defaultHistoryLimit,
		persistAnswers: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pipeline == nil {
		s.pipeline = insight.NewDefaultPipeline(llm, s.counter)
	}
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInput}, args...)...)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (s *Service) newMessage(conv domain.ConversationID, role domain.Role, text string, at time.Time) domain.ChatMessage {
	m := domain.ChatMessage{
		ID:             domain.MessageID(uuid.NewString()),
		ConversationID: conv,
		Role:           role,
		Text:           text,
		CreatedAt:      at,
	}
	if s.counter != nil {
		m.TokenCount = s.counter.CountTokens(text)
	}
	return m
}

// generate runs one AI call under the configured timeout. A deadline is
// reported as an upstream failure.
func (s *Service) generate(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()

	reply, err := s.llm.GenerateReply(ctx, req)
	if err != nil {
		return "", upstream(err)
	}
	return reply, nil
}

func upstream(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstream) {
		return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return err
}

// ─────────────────────────────────────────
// Recording
// ─────────────────────────────────────────

type MessageInput struct {
	ConversationID domain.ConversationID
	Role           domain.Role
	Text           string
}

type RecordMessageInput struct {
	SessionID      domain.SessionID
	ConversationID domain.ConversationID
	UserID         domain.UserID
	Role           domain.Role
	Text           string
}

// RecordMessage appends a single message, creating the session if needed.
// The conversation id defaults to the session id.
func (s *Service) RecordMessage(ctx context.Context, in RecordMessageInput) (*domain.ChatSession, error) {
	return s.AppendMessages(ctx, AppendMessagesInput{
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Messages: []MessageInput{{
			ConversationID: in.ConversationID,
			Role:           in.Role,
			Text:           in.Text,
		}},
	})
}

type AppendMessagesInput struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Messages  []MessageInput
}

func (s *Service) AppendMessages(ctx context.Context, in AppendMessagesInput) (*domain.ChatSession, error) {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", in.SessionID,
		"user_id", in.UserID,
	)

	if blank(string(in.SessionID)) {
		return nil, invalid("session_id is required")
	}
	if len(in.Messages) == 0 {
		return nil, invalid("at least one message is required")
	}

	now := s.now()
	msgs := make([]domain.ChatMessage, 0, len(in.Messages))
	for i, m := range in.Messages {
		if blank(m.Text) {
			return nil, invalid("message %d: text is required", i)
		}
		role := m.Role
		if role == "" {
			role = domain.RoleUser
		}
		if role != domain.RoleUser && role != domain.RoleAssistant {
			return nil, invalid("message %d: unknown role %q", i, role)
		}
		conv := m.ConversationID
		if conv == "" {
			conv = domain.ConversationID(in.SessionID)
		}
		msgs = append(msgs, s.newMessage(conv, role, m.Text, now))
	}

	log.Info("appending messages", "count", len(msgs))

	sess, err := s.sessions.CreateOrAppend(ctx, in.SessionID, in.UserID, msgs)
	if err != nil {
		log.Error("failed to append messages", "error", err)
		return nil, err
	}

	log.Info("messages appended", "message_count", len(sess.Messages))
	return sess, nil
}

// ─────────────────────────────────────────
// Retrieval
// ─────────────────────────────────────────

func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (*domain.ChatSession, error) {
	if blank(string(id)) {
		return nil, invalid("session_id is required")
	}

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			observability.LoggerFromContext(ctx).Error("failed to get session", "session_id", id, "error", err)
		}
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the session and its summaries, returning how many
// sessions were removed (0 or 1).
func (s *Service) DeleteSession(ctx context.Context, id domain.SessionID) (int64, error) {
	if blank(string(id)) {
		return 0, invalid("session_id is required")
	}

	log := observability.LoggerFromContext(ctx).With("session_id", id)

	removed, err := s.sessions.Delete(ctx, id)
	if err != nil {
		log.Error("failed to delete session", "error", err)
		return 0, err
	}

	log.Info("session deleted", "removed", removed)
	return removed, nil
}

type SearchInput struct {
	Query  string
	UserID domain.UserID
	Limit  int
	// nil uses the configured default
	CaseSensitive *bool
}

func (s *Service) SearchSessions(ctx context.Context, in SearchInput) ([]*domain.ChatSession, error) {
	if in.Query == "" {
		return nil, invalid("query is required")
	}

	q := domain.SearchQuery{
		Text:          in.Query,
		UserID:        in.UserID,
		CaseSensitive: s.caseSensitive,
		Limit:         in.Limit,
	}
	if in.CaseSensitive != nil {
		q.CaseSensitive = *in.CaseSensitive
	}
	if q.Limit <= 0 {
		q.Limit = s.searchLimit
	}

	log := observability.LoggerFromContext(ctx).With(
		"user_id", in.UserID,
		"case_sensitive", q.CaseSensitive,
	)

	found, err := s.sessions.Search(ctx, q)
	if err != nil {
		log.Error("search failed", "error", err)
		return nil, err
	}

	log.Info("search completed", "results", len(found))
	return found, nil
}

func (s *Service) ListUserSessions(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionInfo, error) {
	if blank(string(userID)) {
		return nil, invalid("user_id is required")
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	infos, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list sessions", "user_id", userID, "error", err)
		return nil, err
	}
	return infos, nil
}

// Transcript returns the ordered turns of the session, optionally limited to
// one conversation.
func (s *Service) Transcript(ctx context.Context, id domain.SessionID, conversationID domain.ConversationID) ([]domain.Turn, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if conversationID == "" {
		return transcript.Collect(transcript.Assemble(sess)), nil
	}
	return transcript.Collect(transcript.AssembleConversation(sess, conversationID)), nil
}

// ─────────────────────────────────────────
// AI-backed operations
// ─────────────────────────────────────────

type SummarizeInput struct {
	SessionID domain.SessionID
	// Refresh ignores a stored summary that still covers the session.
	Refresh bool
}

type SummarizeOutput struct {
	Summary *domain.Summary
	Cached  bool
}

func (s *Service) Summarize(ctx context.Context, in SummarizeInput) (*SummarizeOutput, error) {
	sess, err := s.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"message_count", len(sess.Messages),
	)

	if !in.Refresh {
		latest, err := s.summaries.LatestSummary(ctx, sess.ID)
		if err != nil {
			log.Error("failed to load latest summary", "error", err)
			return nil, err
		}
		if latest.Covers(sess) {
			log.Info("returning cached summary", "summary_id", latest.ID)
			return &SummarizeOutput{Summary: latest, Cached: true}, nil
		}
	}

	log.Info("generating summary")

	text, err := s.generate(ctx, domain.CompletionRequest{
		Task:       domain.TaskSummarize,
		Transcript: transcript.Assemble(sess),
	})
	if err != nil {
		log.Error("summary generation failed", "error", err)
		return nil, err
	}

	summary := &domain.Summary{
		ID:           domain.SummaryID(shortuuid.New()),
		SessionID:    sess.ID,
		Text:         text,
		MessageCount: len(sess.Messages),
		Model:        s.llm.Name(),
		GeneratedAt:  s.now(),
	}
	if err := s.summaries.AppendSummary(ctx, summary); err != nil {
		log.Error("failed to store summary", "error", err)
		return nil, err
	}

	log.Info("summary generated", "summary_id", summary.ID)
	return &SummarizeOutput{Summary: summary}, nil
}

type AnswerInput struct {
	SessionID domain.SessionID
	Question  string
}

type AnswerOutput struct {
	Answer string
	Model  string
}

// Answer replies to a question using the session as context. Unless disabled,
// the question and answer are then appended to the session in one call.
func (s *Service) Answer(ctx context.Context, in AnswerInput) (*AnswerOutput, error) {
	if blank(in.Question) {
		return nil, invalid("question is required")
	}

	sess, err := s.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", sess.ID,
		"user_id", sess.UserID,
	)
	log.Info("answering question")

	answer, err := s.generate(ctx, domain.CompletionRequest{
		Task:       domain.TaskAnswer,
		Transcript: transcript.Assemble(sess),
		Question:   in.Question,
	})
	if err != nil {
		log.Error("answer generation failed", "error", err)
		return nil, err
	}

	if s.persistAnswers {
		now := s.now()
		pair := []domain.ChatMessage{
			s.newMessage(QAConversationID, domain.RoleUser, in.Question, now),
			s.newMessage(QAConversationID, domain.RoleAssistant, answer, now),
		}
		if _, err := s.sessions.CreateOrAppend(ctx, sess.ID, sess.UserID, pair); err != nil {
			log.Error("failed to record question and answer", "error", err)
			return nil, err
		}
	}

	log.Info("question answered")
	return &AnswerOutput{Answer: answer, Model: s.llm.Name()}, nil
}

type ChatInput struct {
	SessionID      domain.SessionID
	UserID         domain.UserID
	ConversationID domain.ConversationID
	Text           string
}

type ChatOutput struct {
	Reply   string
	Model   string
	Session *domain.ChatSession
}

// Chat continues a session with memory: the reply is generated from the
// existing transcript, then the user message and the reply are appended
// together. Unknown session ids start a new session.
func (s *Service) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	if blank(string(in.SessionID)) {
		return nil, invalid("session_id is required")
	}
	if blank(in.Text) {
		return nil, invalid("message is required")
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", in.SessionID,
		"user_id", in.UserID,
	)

	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error("failed to load session", "error", err)
		return nil, err
	}

	log.Info("chat message received", "new_session", sess == nil)

	reply, err := s.generate(ctx, domain.CompletionRequest{
		Task:       domain.TaskChat,
		Transcript: transcript.Assemble(sess),
		Question:   in.Text,
	})
	if err != nil {
		log.Error("chat reply failed", "error", err)
		return nil, err
	}

	conv := in.ConversationID
	if conv == "" {
		conv = domain.ConversationID(in.SessionID)
	}
	now := s.now()
	pair := []domain.ChatMessage{
		s.newMessage(conv, domain.RoleUser, in.Text, now),
		s.newMessage(conv, domain.RoleAssistant, reply, now),
	}

	updated, err := s.sessions.CreateOrAppend(ctx, in.SessionID, in.UserID, pair)
	if err != nil {
		log.Error("failed to record chat turn", "error", err)
		return nil, err
	}

	log.Info("chat reply sent", "message_count", len(updated.Messages))
	return &ChatOutput{Reply: reply, Model: s.llm.Name(), Session: updated}, nil
}

// Analyze runs the insight pipeline over the session.
func (s *Service) Analyze(ctx context.Context, id domain.SessionID) (*insight.Report, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()

	report, err := s.pipeline.Run(ctx, sess)
	if err != nil {
		return nil, upstream(err)
	}
	return report, nil
}
