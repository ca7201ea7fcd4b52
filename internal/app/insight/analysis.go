package insight

import (
	"context"

	"github.com/PabloGalante/chatsum/internal/app/transcript"
	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

// AnalysisStep asks the LLM for a summary, main themes and patterns.
type AnalysisStep struct {
	llm domain.LLMClient
}

func NewAnalysisStep(llm domain.LLMClient) *AnalysisStep {
	return &AnalysisStep{llm: llm}
}

func (a *AnalysisStep) Name() string {
	return "analysis"
}

func (a *AnalysisStep) Run(ctx context.Context, session *domain.ChatSession, r *Report) error {
	log := observability.LoggerFromContext(ctx).With("step", a.Name())

	reply, err := a.llm.GenerateReply(ctx, domain.CompletionRequest{
		Task:       domain.TaskAnalyze,
		Transcript: transcript.Assemble(session),
	})
	if err != nil {
		log.Error("analysis step error", "error", err)
		return err
	}

	r.Analysis = reply
	r.Model = a.llm.Name()
	return nil
}
