// Package llm wraps an externally supplied language-model client with the
// retry/backoff and tolerant-extraction behavior every agent node needs.
// The client itself (HTTP transport, vendor auth, model selection) is an
// external collaborator injected by the caller; this package never talks
// to a vendor directly.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
)

// maxRetries is the number of additional attempts after the first failure.
const maxRetries = 3

// backoff is the fixed exponential schedule: 2s, 4s, 8s.
var backoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// quotaMarkers are substrings in a provider error that indicate the
// account is out of funds. Retrying wastes time and money, so these
// short-circuit immediately.
var quotaMarkers = []string{"insufficient balance", "code\":1113", "\"code\": 1113"}

// Invoke calls client.Complete, retrying transient failures with
// exponential backoff. A quota-exhaustion error is never retried.
func Invoke(ctx context.Context, client domain.LLMClient, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		out, err := client.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if isQuotaExhausted(err) {
			return "", domain.NewArenaError(domain.ErrQuotaExhausted, "llm.Invoke", err)
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", domain.NewArenaError(domain.ErrTransient, "llm.Invoke", ctx.Err())
		case <-time.After(backoff[attempt]):
		}
	}
	return "", domain.NewArenaError(domain.ErrTransient, "llm.Invoke", fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr))
}

func isQuotaExhausted(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
