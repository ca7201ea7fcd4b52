package llm

import (
	"fmt"
	"strings"

	"github.com/PabloGalante/chatsum/internal/domain"
)

const baseSystemPrompt = `
You are a careful assistant that works on stored chat conversations.

General style guidelines:
- Answer in the SAME LANGUAGE as the conversation.
- Use simple, everyday language.
- Only rely on what the conversation says; if something is not in it, say so.
- Never invent messages that are not part of the transcript.
`

const summarizeInstructions = `
Task: summarize

Provide a concise summary of the conversation.
The summary should include:
1. Main topics discussed
2. Key points or decisions
3. Overall conversation context

Keep the summary clear and under 200 words.
`

const answerInstructions = `
Task: answer

The last user message is the question. Answer it using the earlier messages
as context when relevant.
If the conversation does not contain the answer, say so and answer from general knowledge.
`

const chatInstructions = `
Task: chat

Continue the conversation naturally, replying to the new user message.
Keep the earlier messages in mind and stay consistent with them.
`

const analyzeInstructions = `
Task: analyze

Analyze the conversation and provide:
1. Brief summary
2. Main themes
3. Any notable patterns or insights

Keep the analysis concise and informative.
`

// Prompt is the system prompt plus the messages to send, oldest first.
// Messages never holds two consecutive turns of the same role and always
// ends with a user turn.
type Prompt struct {
	System   string
	Messages []domain.Turn
}

// BuildPrompt renders the system prompt for the task and the messages.
// Chat and answer replay the transcript as role-tagged turns followed by the
// new message or question. Summarize and analyze send the transcript as one
// numbered document, since the model reports on it instead of continuing it.
func BuildPrompt(req domain.CompletionRequest) Prompt {
	system := baseSystemPrompt + "\n" + taskInstructions(req.Task)

	var msgs []domain.Turn
	switch req.Task {
	case domain.TaskAnswer, domain.TaskChat:
		if req.Transcript != nil {
			for turn := range req.Transcript {
				msgs = appendTurn(msgs, turn)
			}
		}
		msgs = appendTurn(msgs, domain.Turn{Role: domain.RoleUser, Text: req.Question})
	default:
		msgs = []domain.Turn{{
			Role: domain.RoleUser,
			Text: "Conversation:\n" + orNone(FormatTranscript(req)),
		}}
	}

	return Prompt{
		System:   system,
		Messages: msgs,
	}
}

// appendTurn merges turn into the last message when the role repeats;
// providers expect roles to alternate.
func appendTurn(msgs []domain.Turn, turn domain.Turn) []domain.Turn {
	if n := len(msgs); n > 0 && msgs[n-1].Role == turn.Role {
		msgs[n-1].Text += "\n\n" + turn.Text
		return msgs
	}
	return append(msgs, turn)
}

// FormatTranscript renders the transcript as numbered "role: text" lines.
func FormatTranscript(req domain.CompletionRequest) string {
	if req.Transcript == nil {
		return ""
	}

	var lines []string
	for turn := range req.Transcript {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", len(lines)+1, turn.Role, turn.Text))
	}
	return strings.Join(lines, "\n")
}

func orNone(transcript string) string {
	if transcript == "" {
		return "(no messages)"
	}
	return transcript
}

func taskInstructions(task domain.Task) string {
	switch task {
	case domain.TaskAnswer:
		return answerInstructions
	case domain.TaskChat:
		return chatInstructions
	case domain.TaskAnalyze:
		return analyzeInstructions
	case domain.TaskSummarize:
		fallthrough
	default:
		return summarizeInstructions
	}
}
