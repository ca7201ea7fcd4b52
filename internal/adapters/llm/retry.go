package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/PabloGalante/chatsum/internal/domain"
	"github.com/PabloGalante/chatsum/internal/observability"
)

// maxRetries bounds how often a failed AI call is repeated.
const maxRetries = 1

// RetryClient repeats retryable failures once, with exponential backoff.
type RetryClient struct {
	next    domain.LLMClient
	initial time.Duration
}

func NewRetryClient(next domain.LLMClient, initial time.Duration) *RetryClient {
	if initial <= 0 {
		initial = backoff.DefaultInitialInterval
	}
	return &RetryClient{next: next, initial: initial}
}

func (r *RetryClient) Name() string { return r.next.Name() }

func (r *RetryClient) GenerateReply(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var reply string
	op := func() error {
		out, err := r.next.GenerateReply(ctx, req)
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = out
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		observability.LoggerFromContext(ctx).Warn("llm call failed, retrying",
			"provider", r.next.Name(),
			"task", string(req.Task),
			"wait", wait.String(),
			"error", err.Error(),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return reply, nil
}
