package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// shouldRetry reports whether the completion error is transient.
func shouldRetry(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		// Network-level failures are worth another attempt.
		return true
	}
	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func backoffFor(attempt int) time.Duration {
	d := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// withRetry runs call with exponential backoff on transient failures,
// honouring context cancellation between attempts.
func withRetry[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == maxRetries {
			break
		}

		backoff := backoffFor(attempt)
		log.Warn().Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).
			Msg("llm request failed, retrying")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, lastErr
}
