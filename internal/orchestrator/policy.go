package orchestrator

import (
	"math"
	"time"

	"github.com/xaenox/sparkgen/internal/connection"
	"github.com/xaenox/sparkgen/internal/remote"
)

// RetryPolicy governs one generation call. It is chosen once per call and
// never mutated while the call runs.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Growth      float64
	// Jitter is the fraction of the computed delay added or removed at random.
	Jitter float64
	// RateLimitMinDelay floors the delay after a rate-limited attempt.
	RateLimitMinDelay time.Duration
	AttemptTimeout    time.Duration
	// Retryable decides which failures earn another attempt. Nil means
	// remote.Kind.Retryable.
	Retryable func(remote.Kind) bool
	// FailFast sends any failure straight to the fallback generator.
	FailFast bool
}

func (p RetryPolicy) retryable(k remote.Kind) bool {
	if p.FailFast {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(k)
	}
	return k.Retryable()
}

// Delay returns the wait before the retry that follows failed attempt number
// attempt (zero based). rnd returns values in [0, 1).
func (p RetryPolicy) Delay(attempt int, kind remote.Kind, rnd func() float64) time.Duration {
	growth := p.Growth
	if growth < 1 {
		growth = 1
	}
	d := float64(p.BaseDelay) * math.Pow(growth, float64(attempt))
	if p.Jitter > 0 && rnd != nil {
		d += d * p.Jitter * (2*rnd() - 1)
	}
	if d < 0 {
		d = 0
	}
	delay := time.Duration(d)
	if kind == remote.KindRateLimited && delay < p.RateLimitMinDelay {
		delay = p.RateLimitMinDelay
	}
	return delay
}

// PolicySet maps connection quality to the policy used under it.
type PolicySet map[connection.Quality]RetryPolicy

// DefaultPolicies retries harder on a healthy connection and gives up early
// on a bad one.
func DefaultPolicies() PolicySet {
	const (
		growth    = 2.0
		jitter    = 0.2
		rateFloor = 5 * time.Second
	)
	return PolicySet{
		connection.Excellent: {
			MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, Growth: growth, Jitter: jitter,
			RateLimitMinDelay: rateFloor, AttemptTimeout: 15 * time.Second,
		},
		connection.Good: {
			MaxAttempts: 3, BaseDelay: time.Second, Growth: growth, Jitter: jitter,
			RateLimitMinDelay: rateFloor, AttemptTimeout: 20 * time.Second,
		},
		connection.Poor: {
			MaxAttempts: 2, BaseDelay: 2 * time.Second, Growth: growth, Jitter: jitter,
			RateLimitMinDelay: rateFloor, AttemptTimeout: 10 * time.Second,
		},
		connection.Offline: {
			MaxAttempts: 1, AttemptTimeout: 5 * time.Second, FailFast: true,
		},
	}
}

// For returns the policy for q, falling back to the defaults for qualities
// the set does not name.
func (s PolicySet) For(q connection.Quality) RetryPolicy {
	p, ok := s[q]
	if !ok {
		p = DefaultPolicies()[q]
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}
