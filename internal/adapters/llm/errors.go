package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"

	"github.com/PabloGalante/chatsum/internal/domain"
)

// classify maps a provider error onto the domain taxonomy. The original
// error stays in the chain.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUpstream) || errors.Is(err, domain.ErrRateLimited) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := domain.ErrUpstream
	if isRateLimit(err) {
		kind = domain.ErrRateLimited
	}
	return fmt.Errorf("%s: %w: %w", provider, kind, err)
}

func isRateLimit(err error) bool {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode == http.StatusTooManyRequests
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusTooManyRequests
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code == http.StatusTooManyRequests
	}

	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "rate_limit", "resource_exhausted", "quota"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Retryable reports whether another attempt, or another provider, may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrUpstream) || errors.Is(err, domain.ErrRateLimited)
}
