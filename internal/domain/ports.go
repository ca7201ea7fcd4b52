package domain

import (
	"context"
	"iter"
)

// LLMClient defines how the core application interacts with an LLM service.
type LLMClient interface {
	Name() string
	GenerateReply(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest carries the transcript and task to the LLM.
type CompletionRequest struct {
	Task       Task
	Transcript iter.Seq[Turn]
	Question   string // the question for TaskAnswer, the new user message for TaskChat
}

// SessionStore defines session persistence. Sessions are append-only logs.
type SessionStore interface {
	CreateOrAppend(ctx context.Context, id SessionID, userID UserID, msgs []ChatMessage) (*ChatSession, error)
	Get(ctx context.Context, id SessionID) (*ChatSession, error)
	// Delete returns the number of sessions removed (0 or 1).
	Delete(ctx context.Context, id SessionID) (int64, error)
	Search(ctx context.Context, q SearchQuery) ([]*ChatSession, error)
	ListByUser(ctx context.Context, userID UserID, limit int) ([]SessionInfo, error)
}

// SummaryStore defines summary persistence
type SummaryStore interface {
	AppendSummary(ctx context.Context, summary *Summary) error
	LatestSummary(ctx context.Context, sessionID SessionID) (*Summary, error)
	ListSummaries(ctx context.Context, sessionID SessionID, limit int) ([]*Summary, error)
}

// Store is what every storage backend provides.
type Store interface {
	SessionStore
	SummaryStore
	Close(ctx context.Context) error
}

// TokenCounter estimates the token size of a text.
type TokenCounter interface {
	CountTokens(text string) int
}
