package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := NewDefaultBreaker()
	assert.True(t, b.IsClosed())
	assert.False(t, b.IsOpen())
	assert.False(t, b.IsHalfOpen())
	assert.True(t, b.Allow())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	assert.True(t, b.IsClosed())
	assert.Equal(t, 2, b.GetStats().FailureCount)
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.True(t, b.IsHalfOpen())

	// A second concurrent request must not get another probe.
	assert.False(t, b.Allow())
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.True(t, b.IsClosed())
	assert.Equal(t, 0, b.GetStats().FailureCount)
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	b.Allow()
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	b.Reset()
	assert.True(t, b.IsClosed())
	assert.Equal(t, 0, b.GetStats().FailureCount)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()
	assert.Equal(t, 0, b.GetStats().FailureCount)
	assert.True(t, b.IsClosed())
}
