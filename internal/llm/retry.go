package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// MaxRetries bounds retry attempts within a single provider call.
const MaxRetries = 3

// IsRetryable classifies whether err is in the network/connect/
// read-timeout class that is safe to retry. Anything else (4xx
// responses, malformed payloads, auth errors) propagates immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// backoff computes sleep = 2^attempt + jitter, jitter uniform in [0,1)s.
func backoff(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt))
	jitter := rand.Float64()
	return time.Duration((base + jitter) * float64(time.Second))
}

// WithRetry runs fn up to MaxRetries times with exponential
// backoff+jitter between attempts, retrying only errors IsRetryable
// classifies as transient. The first non-retryable error, or the last
// error after exhausting retries, is returned.
func WithRetry(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return lastErr
}

// StreamRetryState tracks whether any bytes have already been yielded
// to the caller during a streaming attempt; a failed attempt may only
// be retried while this is false.
type StreamRetryState struct {
	bytesYielded bool
}

// MarkYielded records that at least one content chunk reached the caller.
func (s *StreamRetryState) MarkYielded() { s.bytesYielded = true }

// CanRetry reports whether a failed streaming attempt may be retried:
// only if nothing has been yielded yet.
func (s *StreamRetryState) CanRetry(err error) bool {
	return !s.bytesYielded && IsRetryable(err)
}
