// Package insight derives a report from a stored session: message statistics,
// frequent keywords and an LLM analysis.
package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

// Report is what a pipeline run produces for one session.
type Report struct {
	SessionID     domain.SessionID
	MessageCount  int
	RoleCounts    map[domain.Role]int
	Conversations []domain.ConversationID
	TokenTotal    int
	Keywords      []Keyword
	Analysis      string
	Model         string
}

// Step fills its part of the report.
type Step interface {
	Name() string
	Run(ctx context.Context, session *domain.ChatSession, report *Report) error
}

// Pipeline is responsible for running steps in sequence.
type Pipeline struct {
	steps []Step
}

func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// NewDefaultPipeline constructs Stats -> Keywords -> Analysis.
func NewDefaultPipeline(llm domain.LLMClient, counter domain.TokenCounter) *Pipeline {
	return NewPipeline(
		NewStatsStep(counter),
		NewKeywordStep(DefaultKeywordLimit),
		NewAnalysisStep(llm),
	)
}

// Run executes the steps sequentially; the first failing step aborts the run.
func (p *Pipeline) Run(ctx context.Context, session *domain.ChatSession) (*Report, error) {
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("no steps configured in pipeline")
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", domain.ErrInvalidInput)
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", session.ID,
		"user_id", session.UserID,
	)
	log.Info("insight pipeline started", "steps_count", len(p.steps))

	report := &Report{
		SessionID:  session.ID,
		RoleCounts: map[domain.Role]int{},
	}

	for _, step := range p.steps {
		start := time.Now()
		log.Info("step run start", "step", step.Name())

		if err := step.Run(ctx, session, report); err != nil {
			log.Error("step failed",
				"step", step.Name(),
				"error", err)
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}

		log.Info("step run end", "step", step.Name(), "elapsed_ms", time.Since(start).Milliseconds())
	}

	log.Info("insight pipeline end")
	return report, nil
}
