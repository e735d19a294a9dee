package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestShouldTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"five consecutive", gobreaker.Counts{Requests: 5, TotalFailures: 5, ConsecutiveFailures: 5}, false},
		{"six consecutive", gobreaker.Counts{Requests: 6, TotalFailures: 6, ConsecutiveFailures: 6}, true},
		{"ratio below minimum requests", gobreaker.Counts{Requests: 9, TotalFailures: 8, ConsecutiveFailures: 1}, false},
		{"ratio reached", gobreaker.Counts{Requests: 10, TotalFailures: 6, ConsecutiveFailures: 1}, true},
		{"ratio below threshold", gobreaker.Counts{Requests: 10, TotalFailures: 5, ConsecutiveFailures: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTrip(tt.counts))
		})
	}
}

func TestBreakerOpensAndRejects(t *testing.T) {
	cb := NewBreaker("test", BreakerConfig{}, zerolog.Nop())
	boom := errors.New("boom")

	for i := 0; i < 6; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.True(t, IsRejected(err))
	assert.True(t, IsRejected(fmt.Errorf("list messages: %w", err)))
	assert.False(t, IsRejected(boom))
}
