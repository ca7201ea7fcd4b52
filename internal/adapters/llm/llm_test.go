package llm_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatsum/internal/adapters/llm"
	"github.com/PabloGalante/chatsum/internal/config"
	"github.com/PabloGalante/chatsum/internal/domain"
)

func turns(tt ...domain.Turn) domain.CompletionRequest {
	return domain.CompletionRequest{Transcript: slices.Values(tt)}
}

// scripted returns errs in order, then replies "ok".
type scripted struct {
	name  string
	errs  []error
	calls atomic.Int32
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) GenerateReply(context.Context, domain.CompletionRequest) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return "", s.errs[n]
	}
	return s.name + " ok", nil
}

var (
	errUpstream    = fmt.Errorf("p: %w: boom", domain.ErrUpstream)
	errRateLimited = fmt.Errorf("p: %w: slow down", domain.ErrRateLimited)
)

func roles(msgs []domain.Turn) []domain.Role {
	out := make([]domain.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestBuildPromptSummarize(t *testing.T) {
	req := turns(
		domain.Turn{Role: domain.RoleUser, Text: "I need a budget"},
		domain.Turn{Role: domain.RoleAssistant, Text: "Let's plan one"},
	)
	req.Task = domain.TaskSummarize

	p := llm.BuildPrompt(req)
	assert.Contains(t, p.System, "under 200 words")
	require.Len(t, p.Messages, 1)
	assert.Equal(t, domain.RoleUser, p.Messages[0].Role)
	assert.Contains(t, p.Messages[0].Text, "1. user: I need a budget\n2. assistant: Let's plan one")
}

func TestBuildPromptAnswerReplaysTurns(t *testing.T) {
	req := turns(
		domain.Turn{Role: domain.RoleUser, Text: "my name is Ana"},
		domain.Turn{Role: domain.RoleAssistant, Text: "nice to meet you"},
	)
	req.Task = domain.TaskAnswer
	req.Question = "what is my name?"

	p := llm.BuildPrompt(req)
	assert.Contains(t, p.System, "Task: answer")
	assert.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser}, roles(p.Messages))
	assert.Equal(t, "my name is Ana", p.Messages[0].Text)
	assert.Equal(t, "nice to meet you", p.Messages[1].Text)
	assert.Equal(t, "what is my name?", p.Messages[2].Text)
}

func TestBuildPromptChatWithoutHistory(t *testing.T) {
	p := llm.BuildPrompt(domain.CompletionRequest{Task: domain.TaskChat, Question: "hello"})
	assert.Contains(t, p.System, "Task: chat")
	assert.Equal(t, []domain.Turn{{Role: domain.RoleUser, Text: "hello"}}, p.Messages)
}

func TestBuildPromptMergesRepeatedRoles(t *testing.T) {
	req := turns(
		domain.Turn{Role: domain.RoleUser, Text: "first"},
		domain.Turn{Role: domain.RoleUser, Text: "second"},
		domain.Turn{Role: domain.RoleAssistant, Text: "reply"},
		domain.Turn{Role: domain.RoleUser, Text: "third"},
	)
	req.Task = domain.TaskChat
	req.Question = "fourth"

	p := llm.BuildPrompt(req)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Text: "first\n\nsecond"},
		{Role: domain.RoleAssistant, Text: "reply"},
		{Role: domain.RoleUser, Text: "third\n\nfourth"},
	}, p.Messages)
}

func TestBuildPromptEmptyTranscript(t *testing.T) {
	p := llm.BuildPrompt(domain.CompletionRequest{Task: domain.TaskAnalyze})
	assert.Contains(t, p.System, "Main themes")
	require.Len(t, p.Messages, 1)
	assert.Contains(t, p.Messages[0].Text, "(no messages)")
}

func TestMockLLM(t *testing.T) {
	m := llm.NewMockLLM()
	assert.Equal(t, "mock", m.Name())

	req := turns(domain.Turn{Role: domain.RoleUser, Text: "hello"})
	req.Task = domain.TaskSummarize
	out, err := m.GenerateReply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `Summary of 1 messages, starting with "hello".`, out)

	out, err = m.GenerateReply(context.Background(), domain.CompletionRequest{Task: domain.TaskSummarize})
	require.NoError(t, err)
	assert.Equal(t, "No messages to summarize.", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.GenerateReply(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryClientRetriesOnce(t *testing.T) {
	inner := &scripted{name: "p", errs: []error{errUpstream}}
	out, err := llm.NewRetryClient(inner, time.Millisecond).GenerateReply(context.Background(), domain.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "p ok", out)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestRetryClientGivesUpAfterOneRetry(t *testing.T) {
	inner := &scripted{name: "p", errs: []error{errRateLimited, errRateLimited, errRateLimited}}
	_, err := llm.NewRetryClient(inner, time.Millisecond).GenerateReply(context.Background(), domain.CompletionRequest{})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestRetryClientSkipsPermanentErrors(t *testing.T) {
	inner := &scripted{name: "p", errs: []error{fmt.Errorf("%w: bad", domain.ErrInvalidInput)}}
	_, err := llm.NewRetryClient(inner, time.Millisecond).GenerateReply(context.Background(), domain.CompletionRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestFallbackClient(t *testing.T) {
	primary := &scripted{name: "primary", errs: []error{errUpstream}}
	secondary := &scripted{name: "secondary"}

	f := llm.NewFallbackClient(primary, secondary)
	assert.Equal(t, "primary+fallback", f.Name())

	out, err := f.GenerateReply(context.Background(), domain.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "secondary ok", out)
}

func TestFallbackClientStopsOnPermanentError(t *testing.T) {
	primary := &scripted{name: "primary", errs: []error{errors.New("not retryable")}}
	secondary := &scripted{name: "secondary"}

	_, err := llm.NewFallbackClient(primary, secondary).GenerateReply(context.Background(), domain.CompletionRequest{})
	require.Error(t, err)
	assert.Zero(t, secondary.calls.Load())
}

func TestFallbackClientReturnsLastError(t *testing.T) {
	a := &scripted{name: "a", errs: []error{errUpstream}}
	b := &scripted{name: "b", errs: []error{errRateLimited}}

	_, err := llm.NewFallbackClient(a, b).GenerateReply(context.Background(), domain.CompletionRequest{})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRetryable(t *testing.T) {
	assert.True(t, llm.Retryable(errUpstream))
	assert.True(t, llm.Retryable(errRateLimited))
	assert.False(t, llm.Retryable(nil))
	assert.False(t, llm.Retryable(fmt.Errorf("%w: %w", domain.ErrUpstream, context.DeadlineExceeded)))
	assert.False(t, llm.Retryable(context.Canceled))
}

func TestNewClient(t *testing.T) {
	c, err := llm.NewClient(context.Background(), config.LLMConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())

	c, err = llm.NewClient(context.Background(), config.LLMConfig{
		Provider:      "openai",
		OpenAIBaseURL: "http://localhost:1/v1/",
		Fallback:      []string{"mock"},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai+fallback", c.Name())

	_, err = llm.NewClient(context.Background(), config.LLMConfig{Provider: "cohere"})
	assert.ErrorContains(t, err, "unknown llm provider")
}
