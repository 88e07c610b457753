package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds retries of one upstream call: an embedding batch, a
// vector query, a rerank request, a corpus fetch or a reindex publish.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy trips the breaker of an operation once FailureRatio of at
// least MinRequests calls failed, and lets calls through again after OpenTimeout.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2.0,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

// Validate rejects settings that normalize would otherwise silently replace.
func (c Config) Validate() error {
	var problems []error
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		problems = append(problems, fmt.Errorf("retry backoff must satisfy 0 <= initial (%s) <= max (%s)", c.Retry.InitialBackoff, c.Retry.MaxBackoff))
	}
	if c.Breaker.Enabled {
		if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
			problems = append(problems, fmt.Errorf("breaker failure ratio must be in (0,1], got %v", c.Breaker.FailureRatio))
		}
		if c.Breaker.OpenTimeout <= 0 {
			problems = append(problems, fmt.Errorf("breaker open timeout must be positive, got %s", c.Breaker.OpenTimeout))
		}
	}
	return errors.Join(problems...)
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	if out.Retry.MaxAttempts <= 0 {
		out.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if out.Retry.InitialBackoff <= 0 {
		out.Retry.InitialBackoff = def.Retry.InitialBackoff
	}
	if out.Retry.MaxBackoff < out.Retry.InitialBackoff {
		out.Retry.MaxBackoff = out.Retry.InitialBackoff
	}
	if out.Retry.Multiplier < 1.0 {
		out.Retry.Multiplier = def.Retry.Multiplier
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenMaxCalls == 0 {
		out.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}
	return out
}

// Backoff is the wait after the given failed attempt (1-based), growing by
// Multiplier and capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		wait *= p.Multiplier
		if wait >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return min(time.Duration(wait), p.MaxBackoff)
}

func (p BreakerPolicy) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < p.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}
