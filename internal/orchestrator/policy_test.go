package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xaenox/sparkgen/internal/connection"
	"github.com/xaenox/sparkgen/internal/remote"
)

func fixed(v float64) func() float64 { return func() float64 { return v } }

func TestDelayGrowth(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Growth: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0, remote.KindServer, nil))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1, remote.KindServer, nil))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2, remote.KindServer, nil))
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Growth: 1, Jitter: 0.25}
	assert.Equal(t, 750*time.Millisecond, p.Delay(0, remote.KindTimeout, fixed(0)))
	assert.Equal(t, time.Second, p.Delay(0, remote.KindTimeout, fixed(0.5)))
	d := p.Delay(0, remote.KindTimeout, fixed(0.999))
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
	assert.Greater(t, d, time.Second)
}

func TestDelayRateLimitFloor(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Growth: 2, RateLimitMinDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(0, remote.KindRateLimited, nil))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0, remote.KindServer, nil))
	assert.Greater(t, p.Delay(0, remote.KindRateLimited, nil), p.Delay(0, remote.KindConnectivity, nil))
}

func TestRetryable(t *testing.T) {
	p := RetryPolicy{}
	assert.True(t, p.retryable(remote.KindConnectivity))
	assert.True(t, p.retryable(remote.KindRateLimited))
	assert.False(t, p.retryable(remote.KindUnauthorized))
	assert.False(t, p.retryable(remote.KindDecoding))

	p.FailFast = true
	assert.False(t, p.retryable(remote.KindConnectivity))

	p = RetryPolicy{Retryable: func(k remote.Kind) bool { return k == remote.KindDecoding }}
	assert.True(t, p.retryable(remote.KindDecoding))
	assert.False(t, p.retryable(remote.KindServer))
}

func TestDefaultPoliciesShrinkWithQuality(t *testing.T) {
	set := DefaultPolicies()
	prev := set.For(connection.Excellent)
	for _, q := range []connection.Quality{connection.Good, connection.Poor, connection.Offline} {
		p := set.For(q)
		assert.Less(t, p.MaxAttempts, prev.MaxAttempts, q.String())
		prev = p
	}
	assert.True(t, set.For(connection.Offline).FailFast)
}

func TestPolicySetFillsGaps(t *testing.T) {
	set := PolicySet{connection.Excellent: {MaxAttempts: 0}}
	assert.Equal(t, 1, set.For(connection.Excellent).MaxAttempts)
	assert.Equal(t, DefaultPolicies().For(connection.Poor).MaxAttempts, set.For(connection.Poor).MaxAttempts)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.Equal(t, "fallback_succeeded", StateFallbackSucceeded.String())
}
