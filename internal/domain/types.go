package domain

import (
	"strings"
	"time"
)

type SessionID string
type UserID string
type MessageID string
type ConversationID string
type SummaryID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts the canonical roles plus the "human"/"ai" aliases.
// An empty string defaults to RoleUser.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user", "human":
		return RoleUser, true
	case "assistant", "ai":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// Task tells the LLM client which kind of completion is requested.
type Task string

const (
	TaskSummarize Task = "summarize"
	TaskAnswer    Task = "answer"
	TaskChat      Task = "chat"
	TaskAnalyze   Task = "analyze"
)

type Timestamp = time.Time
