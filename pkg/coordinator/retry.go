package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/crosslock/swapcore/pkg/escrow"
)

// RetryPolicy bounds how the coordinator retries transient boundary
// failures: exponential backoff with jitter, up to MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy matches the coordinator's production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * p.BaseBackoff
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return d + jitter
}

// Do runs fn, retrying only failures classified as retryable by the escrow
// boundary. Rejections and unclassified errors surface immediately.
// Exhausting all attempts returns an ExhaustedError wrapping the last
// failure.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !escrow.IsRetryable(err) {
			return err
		}
		last = err
	}
	return &ExhaustedError{Op: op, Attempts: p.MaxAttempts, Err: last}
}

// CircuitBreaker guards one adapter against repeated boundary failures. A
// string state machine: CLOSED, OPEN, HALF_OPEN.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "HALF_OPEN" {
		cb.state = "CLOSED"
	}
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}

// Err returns the error reported when the breaker refuses a call. The
// refusal is transient from the caller's point of view.
func (cb *CircuitBreaker) Err() error {
	return escrow.MarkRetryable(cb.name, fmt.Errorf("circuit breaker open"))
}
