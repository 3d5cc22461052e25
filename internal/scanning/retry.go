package scanning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond

	jitterPercent = 20
)

// Retrying wraps an Extractor with bounded exponential backoff and jitter. Only
// unreachable endpoints and temporary endpoint errors are retried.
type Retrying struct {
	next     Extractor
	attempts uint64
	backoff  time.Duration

	// OnRetry, when set, is called before each retry with the attempt that failed
	OnRetry func(attempt int, err error)
}

// NewRetrying wraps next. attempts counts the first call.
func NewRetrying(next Extractor, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Retrying{next: next, attempts: uint64(attempts), backoff: backoff}
}

// Extract calls the wrapped Extractor until it succeeds, fails permanently or
// runs out of attempts
func (r *Retrying) Extract(ctx context.Context, req ExtractionRequest) (ExtractionResponse, error) {
	var (
		resp    ExtractionResponse
		attempt int
	)
	b := retry.WithMaxRetries(r.attempts-1, retry.WithJitterPercent(jitterPercent, retry.NewExponential(r.backoff)))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		var err error
		resp, err = r.next.Extract(ctx, req)
		if err == nil {
			return nil
		}
		if !retryable(err) || uint64(attempt) >= r.attempts {
			return err
		}
		slog.Warn("Extraction attempt failed, retrying", "attempt", attempt, "error", err)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		// go-retry returns the bare context error when cancelled between attempts
		if ctx.Err() != nil && !errors.Is(err, ErrEndpointUnreachable) {
			return ExtractionResponse{}, unreachable(err)
		}
		return ExtractionResponse{}, err
	}
	return resp, nil
}

// Close closes the wrapped Extractor
func (r *Retrying) Close() error {
	return r.next.Close()
}

func retryable(err error) bool {
	if errors.Is(err, ErrEndpointUnreachable) {
		return true
	}
	var endpointErr *EndpointError
	return errors.As(err, &endpointErr) && endpointErr.Temporary()
}
