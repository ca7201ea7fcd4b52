package insight_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatsum/internal/adapters/llm"
	"github.com/PabloGalante/chatsum/internal/adapters/tokenizer"
	"github.com/PabloGalante/chatsum/internal/app/insight"
	"github.com/PabloGalante/chatsum/internal/domain"
)

func session() *domain.ChatSession {
	return &domain.ChatSession{
		ID:     "s1",
		UserID: "u1",
		Messages: []domain.ChatMessage{
			{ConversationID: "c1", Role: domain.RoleUser, Text: "Budget planning for the trip, budget first!", TokenCount: 9},
			{ConversationID: "c1", Role: domain.RoleAssistant, Text: "Sure, trip budget: flights, hotels."},
			{ConversationID: "c2", Role: domain.RoleUser, Text: "What about hotels with breakfast?"},
		},
	}
}

func TestDefaultPipeline(t *testing.T) {
	p := insight.NewDefaultPipeline(llm.NewMockLLM(), tokenizer.Approx{})

	r, err := p.Run(context.Background(), session())
	require.NoError(t, err)

	assert.Equal(t, domain.SessionID("s1"), r.SessionID)
	assert.Equal(t, 3, r.MessageCount)
	assert.Equal(t, 2, r.RoleCounts[domain.RoleUser])
	assert.Equal(t, 1, r.RoleCounts[domain.RoleAssistant])
	assert.Equal(t, []domain.ConversationID{"c1", "c2"}, r.Conversations)
	// 9 stored + ceil(35/4) + ceil(33/4)
	assert.Equal(t, 9+9+9, r.TokenTotal)

	require.NotEmpty(t, r.Keywords)
	assert.Equal(t, insight.Keyword{Word: "budget", Count: 3}, r.Keywords[0])
	assert.Equal(t, insight.Keyword{Word: "hotels", Count: 2}, r.Keywords[1])
	assert.Equal(t, insight.Keyword{Word: "trip", Count: 2}, r.Keywords[2])

	assert.Equal(t, "Analysis of 3 messages.", r.Analysis)
	assert.Equal(t, "mock", r.Model)
}

func TestKeywordStepFiltersAndLimits(t *testing.T) {
	s := &domain.ChatSession{Messages: []domain.ChatMessage{
		{Text: "this that with would 1234 abc golang golang rust rust rust zebra apple"},
	}}
	r := &insight.Report{RoleCounts: map[domain.Role]int{}}

	require.NoError(t, insight.NewKeywordStep(2).Run(context.Background(), s, r))
	assert.Equal(t, []insight.Keyword{{Word: "rust", Count: 3}, {Word: "golang", Count: 2}}, r.Keywords)

	r = &insight.Report{RoleCounts: map[domain.Role]int{}}
	require.NoError(t, insight.NewKeywordStep(0).Run(context.Background(), s, r))
	assert.Equal(t, []insight.Keyword{{Word: "rust", Count: 3}, {Word: "golang", Count: 2}, {Word: "apple", Count: 1}, {Word: "zebra", Count: 1}}, r.Keywords)
}

type failingStep struct{}

func (failingStep) Name() string { return "failing" }
func (failingStep) Run(context.Context, *domain.ChatSession, *insight.Report) error {
	return errors.New("boom")
}

type recordingStep struct{ ran bool }

func (r *recordingStep) Name() string { return "recording" }
func (r *recordingStep) Run(context.Context, *domain.ChatSession, *insight.Report) error {
	r.ran = true
	return nil
}

func TestPipelineAbortsOnFirstFailure(t *testing.T) {
	after := &recordingStep{}
	_, err := insight.NewPipeline(failingStep{}, after).Run(context.Background(), session())
	assert.ErrorContains(t, err, "step failing failed: boom")
	assert.False(t, after.ran)
}

func TestPipelineRequiresStepsAndSession(t *testing.T) {
	_, err := insight.NewPipeline().Run(context.Background(), session())
	assert.Error(t, err)

	_, err = insight.NewPipeline(&recordingStep{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
