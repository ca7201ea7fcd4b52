package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/chatsum/internal/app/transcript"
	"github.com/PabloGalante/chatsum/internal/domain"
)

// MockLLM answers deterministically from the request, without any network.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Name() string { return "mock" }

func (m *MockLLM) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	turns := transcript.Collect(req.Transcript)
	switch req.Task {
	case domain.TaskAnswer:
		return fmt.Sprintf("Answer to %q based on %d messages.", req.Question, len(turns)), nil
	case domain.TaskChat:
		return fmt.Sprintf("You said %q. I remember %d earlier messages.", req.Question, len(turns)), nil
	case domain.TaskAnalyze:
		return fmt.Sprintf("Analysis of %d messages.", len(turns)), nil
	default:
		if len(turns) == 0 {
			return "No messages to summarize.", nil
		}
		return fmt.Sprintf("Summary of %d messages, starting with %q.", len(turns), domain.Preview(turns[0].Text)), nil
	}
}
