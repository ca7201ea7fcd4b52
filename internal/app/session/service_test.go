package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatsum/internal/adapters/llm"
	"github.com/PabloGalante/chatsum/internal/adapters/storage/memory"
	"github.com/PabloGalante/chatsum/internal/adapters/tokenizer"
	"github.com/PabloGalante/chatsum/internal/app/insight"
	"github.com/PabloGalante/chatsum/internal/app/session"
	"github.com/PabloGalante/chatsum/internal/app/transcript"
	"github.com/PabloGalante/chatsum/internal/domain"
)

// fakeLLM records requests and replies with a fixed text or error.
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	block bool
	calls int
	last  domain.CompletionRequest
	turns []domain.Turn
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.turns = transcript.Collect(req.Transcript)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newService(t *testing.T, ai domain.LLMClient, opts ...session.Option) (*session.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return session.NewService(ai, store, store, opts...), store
}

func seed(t *testing.T, svc *session.Service, id domain.SessionID, texts ...string) {
	t.Helper()
	var msgs []session.MessageInput
	for i, txt := range texts {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, session.MessageInput{ConversationID: "c1", Role: role, Text: txt})
	}
	_, err := svc.AppendMessages(context.Background(), session.AppendMessagesInput{
		SessionID: id,
		UserID:    "u1",
		Messages:  msgs,
	})
	require.NoError(t, err)
}

func TestRecordMessage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM(), session.WithTokenCounter(tokenizer.Approx{}))

	sess, err := svc.RecordMessage(ctx, session.RecordMessageInput{
		SessionID: "s1",
		UserID:    "u1",
		Text:      "hello there",
	})
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)

	m := sess.Messages[0]
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.RoleUser, m.Role)
	assert.Equal(t, domain.ConversationID("s1"), m.ConversationID, "conversation defaults to the session id")
	assert.Equal(t, 3, m.TokenCount)
	assert.False(t, m.CreatedAt.IsZero())

	sess, err = svc.RecordMessage(ctx, session.RecordMessageInput{
		SessionID:      "s1",
		ConversationID: "c2",
		Role:           domain.RoleAssistant,
		Text:           "hi!",
	})
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.UserID("u1"), sess.UserID)
}

func TestAppendMessagesValidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, llm.NewMockLLM())

	tests := []struct {
		name string
		in   session.AppendMessagesInput
	}{
		{"missing session id", session.AppendMessagesInput{Messages: []session.MessageInput{{Text: "x"}}}},
		{"no messages", session.AppendMessagesInput{SessionID: "s1"}},
		{"blank text", session.AppendMessagesInput{SessionID: "s1", Messages: []session.MessageInput{{Text: "  "}}}},
		{"bad role", session.AppendMessagesInput{SessionID: "s1", Messages: []session.MessageInput{{Text: "x", Role: "system"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AppendMessages(ctx, tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM())
	seed(t, svc, "s1", "a", "b")

	sess, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	_, err = svc.GetSession(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	removed, err := svc.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = svc.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)

	_, err = svc.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchSessionsDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM(), session.WithSearchDefaults(true, 1))
	seed(t, svc, "s1", "Budget talk")
	time.Sleep(2 * time.Millisecond)
	seed(t, svc, "s2", "budget again")

	found, err := svc.SearchSessions(ctx, session.SearchInput{Query: "budget"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.SessionID("s2"), found[0].ID, "configured case sensitivity applies")

	insensitive := false
	found, err = svc.SearchSessions(ctx, session.SearchInput{Query: "budget", CaseSensitive: &insensitive, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = svc.SearchSessions(ctx, session.SearchInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListUserSessions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM(), session.WithHistoryLimit(2))
	for i := range 3 {
		seed(t, svc, domain.SessionID(fmt.Sprintf("s%d", i)), "msg")
		time.Sleep(2 * time.Millisecond)
	}

	infos, err := svc.ListUserSessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, domain.SessionID("s2"), infos[0].ID)

	_, err = svc.ListUserSessions(ctx, "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTranscript(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM())
	seed(t, svc, "s1", "a", "b")
	_, err := svc.RecordMessage(ctx, session.RecordMessageInput{SessionID: "s1", ConversationID: "c2", Text: "c"})
	require.NoError(t, err)

	all, err := svc.Transcript(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Text: "a"},
		{Role: domain.RoleAssistant, Text: "b"},
		{Role: domain.RoleUser, Text: "c"},
	}, all)

	sub, err := svc.Transcript(ctx, "s1", "c2")
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleUser, Text: "c"}}, sub)

	_, err = svc.Transcript(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSummarizeMissingSessionSkipsAI(t *testing.T) {
	ai := &fakeLLM{reply: "summary"}
	svc, _ := newService(t, ai)

	_, err := svc.Summarize(context.Background(), session.SummarizeInput{SessionID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, ai.calls)
}

func TestSummarizeCachesUntilNewMessages(t *testing.T) {
	ctx := context.Background()
	ai := &fakeLLM{reply: "a summary"}
	svc, store := newService(t, ai)
	seed(t, svc, "s1", "hi", "hello")

	out, err := svc.Summarize(ctx, session.SummarizeInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, "a summary", out.Summary.Text)
	assert.Equal(t, 2, out.Summary.MessageCount)
	assert.Equal(t, "fake", out.Summary.Model)
	assert.Equal(t, domain.TaskSummarize, ai.last.Task)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Text: "hi"},
		{Role: domain.RoleAssistant, Text: "hello"},
	}, ai.turns)

	out, err = svc.Summarize(ctx, session.SummarizeInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, 1, ai.calls)

	out, err = svc.Summarize(ctx, session.SummarizeInput{SessionID: "s1", Refresh: true})
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, 2, ai.calls)

	seed(t, svc, "s1", "more")
	out, err = svc.Summarize(ctx, session.SummarizeInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, 3, out.Summary.MessageCount)
	assert.Equal(t, 3, ai.calls)

	history, err := store.ListSummaries(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestSummarizeDoesNotMaskUpstreamErrors(t *testing.T) {
	ctx := context.Background()
	ai := &fakeLLM{err: fmt.Errorf("p: %w: throttled", domain.ErrRateLimited)}
	svc, store := newService(t, ai)
	seed(t, svc, "s1", "hi")

	_, err := svc.Summarize(ctx, session.SummarizeInput{SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	latest, err := store.LatestSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestAITimeoutIsUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	ai := &fakeLLM{block: true}
	svc, store := newService(t, ai, session.WithAITimeout(20*time.Millisecond))
	seed(t, svc, "s1", "hi")

	_, err := svc.Answer(ctx, session.AnswerInput{SessionID: "s1", Question: "why?"})
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1, "no partial writes")
}

func TestZeroAITimeoutKeepsBound(t *testing.T) {
	ai := &fakeLLM{block: true}
	svc, _ := newService(t, ai,
		session.WithAITimeout(20*time.Millisecond),
		session.WithAITimeout(0),
		session.WithAITimeout(-time.Second),
	)
	seed(t, svc, "s1", "hi")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Answer(context.Background(), session.AnswerInput{SessionID: "s1", Question: "why?"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("ai call was not bounded")
	}
}

func TestAnswerPersistsQuestionAndAnswer(t *testing.T) {
	ctx := context.Background()
	ai := &fakeLLM{reply: "42"}
	svc, _ := newService(t, ai)
	seed(t, svc, "s1", "the answer is 42")

	out, err := svc.Answer(ctx, session.AnswerInput{SessionID: "s1", Question: "what is the answer?"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, "what is the answer?", ai.last.Question)
	assert.Equal(t, domain.TaskAnswer, ai.last.Task)
	assert.Len(t, ai.turns, 1, "the question is not part of the context")

	sess, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, session.QAConversationID, sess.Messages[1].ConversationID)
	assert.Equal(t, domain.RoleUser, sess.Messages[1].Role)
	assert.Equal(t, "what is the answer?", sess.Messages[1].Text)
	assert.Equal(t, domain.RoleAssistant, sess.Messages[2].Role)
	assert.Equal(t, "42", sess.Messages[2].Text)
}

func TestAnswerWithoutPersistence(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeLLM{reply: "ok"}, session.WithAnswerPersistence(false))
	seed(t, svc, "s1", "hi")

	_, err := svc.Answer(ctx, session.AnswerInput{SessionID: "s1", Question: "q"})
	require.NoError(t, err)

	sess, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 1)
}

func TestAnswerValidation(t *testing.T) {
	ai := &fakeLLM{reply: "ok"}
	svc, _ := newService(t, ai)

	_, err := svc.Answer(context.Background(), session.AnswerInput{SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Answer(context.Background(), session.AnswerInput{SessionID: "missing", Question: "q"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, ai.calls)
}

func TestChatStartsAndContinuesSession(t *testing.T) {
	ctx := context.Background()
	ai := &fakeLLM{reply: "nice to meet you"}
	svc, _ := newService(t, ai)

	out, err := svc.Chat(ctx, session.ChatInput{SessionID: "new", UserID: "u9", Text: "hi, I'm Ana"})
	require.NoError(t, err)
	assert.Equal(t, "nice to meet you", out.Reply)
	assert.Empty(t, ai.turns)
	require.Len(t, out.Session.Messages, 2)
	assert.Equal(t, domain.UserID("u9"), out.Session.UserID)

	_, err = svc.Chat(ctx, session.ChatInput{SessionID: "new", UserID: "u9", Text: "what's my name?"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Text: "hi, I'm Ana"},
		{Role: domain.RoleAssistant, Text: "nice to meet you"},
	}, ai.turns)
	assert.Equal(t, "what's my name?", ai.last.Question)
}

func TestChatFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, &fakeLLM{err: fmt.Errorf("%w: down", domain.ErrUpstream)})

	_, err := svc.Chat(ctx, session.ChatInput{SessionID: "s1", Text: "hello"})
	assert.ErrorIs(t, err, domain.ErrUpstream)

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, llm.NewMockLLM(), session.WithTokenCounter(tokenizer.Approx{}))
	seed(t, svc, "s1", "planning the garden", "garden layout first")

	report, err := svc.Analyze(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.MessageCount)
	assert.Equal(t, "garden", report.Keywords[0].Word)
	assert.Equal(t, "Analysis of 2 messages.", report.Analysis)

	_, err = svc.Analyze(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalyzeWithCustomPipeline(t *testing.T) {
	ai := &fakeLLM{reply: "unused"}
	pipeline := insight.NewPipeline(insight.NewStatsStep(tokenizer.Approx{}))
	svc, _ := newService(t, ai, session.WithInsight(pipeline))
	seed(t, svc, "s1", "one", "two", "three")

	report, err := svc.Analyze(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.MessageCount)
	assert.Equal(t, 2, report.RoleCounts[domain.RoleUser])
	assert.Empty(t, report.Analysis)
	assert.Zero(t, ai.calls)
}

func TestServiceClockStampsMessagesAndSummaries(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newService(t, &fakeLLM{reply: "short summary"}, session.WithClock(func() time.Time { return fixed }))
	seed(t, svc, "s1", "hello")

	sess, err := svc.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, sess.Messages[0].CreatedAt.Equal(fixed))

	out, err := svc.Summarize(context.Background(), session.SummarizeInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, out.Summary.GeneratedAt.Equal(fixed))
}
