package errors

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries     int           // 0 disables retries
	InitialDelay   time.Duration // delay before the first retry
	MaxDelay       time.Duration
	Multiplier     float64 // exponential backoff factor
	Jitter         float64 // random jitter factor in [0,1]
	RetryableTypes []ErrorType

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns the settings used for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialDelay:   time.Second,
		MaxDelay:       20 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		RetryableTypes: []ErrorType{Network, Timeout, RateLimit, ServerError},
	}
}

// Retrier runs an operation with exponential backoff.
type Retrier struct {
	config RetryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrier creates a retrier.
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryResult describes how a retried operation went.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
	Success   bool
}

// Do executes fn until it succeeds, returns a non-retryable error, exhausts
// MaxRetries, or ctx is done.
func (r *Retrier) Do(ctx context.Context, operation, url string, fn func(ctx context.Context) error) *RetryResult {
	result := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 0; ; attempt++ {
		result.Attempts++
		err := fn(ctx)
		if err == nil {
			result.Success = true
			break
		}
		result.LastError = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(url, operation)
			break
		}
		if attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		wait := r.jittered(delay)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = NewCancelledError(url, operation)
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Retrier) shouldRetry(err error) bool {
	errType := GetErrorType(err)
	for _, t := range r.config.RetryableTypes {
		if errType == t {
			return true
		}
	}
	return errType == Unknown && IsRetryable(err)
}

func (r *Retrier) jittered(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return base
	}
	r.mu.Lock()
	f := r.rng.Float64()
	r.mu.Unlock()

	jitter := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + f*2*jitter - jitter)
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation, url string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var out T
	res := r.Do(ctx, operation, url, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, res
}
