package governance

import (
	"math"
	"math/rand"
	"time"
)

// CallTimeouts defines the per-call deadlines for the engine's two blocking
// operations.
type CallTimeouts struct {
	// StoreRead bounds a single datastore artifact lookup.
	StoreRead time.Duration
	// Generate bounds a single LLM generation call.
	Generate time.Duration
	// ManualReview bounds how long a held flow waits for a reviewer
	// decision before it is forwarded unchanged.
	ManualReview time.Duration
}

// DefaultCallTimeouts returns sensible timeout defaults.
func DefaultCallTimeouts() CallTimeouts {
	return CallTimeouts{
		StoreRead:    2 * time.Second,
		Generate:     60 * time.Second,
		ManualReview: 300 * time.Second,
	}
}

// RetryConfig defines retry behavior for LLM generation calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryPolicy computes attempt counts and backoff delays.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy with the given configuration.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// MaxAttempts is the total number of calls a single generation may make.
func (rp *RetryPolicy) MaxAttempts() int {
	return rp.config.MaxRetries + 1
}

// BackoffForAttempt returns the delay before the given retry attempt
// (attempt 1 is the first retry).
func (rp *RetryPolicy) BackoffForAttempt(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt-1)))

	if backoff > rp.config.MaxBackoff {
		backoff = rp.config.MaxBackoff
	}

	if rp.config.Jitter && backoff >= 4 {
		// Up to 25% of the backoff.
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		backoff += jitter
	}

	return backoff
}
