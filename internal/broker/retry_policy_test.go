package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(2)
	testCases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"transient first attempt", errBoom, 1, true},
		{"transient second attempt", errBoom, 2, true},
		{"attempts exhausted", errBoom, 3, false},
		{"context cancelled", fmt.Errorf("publish: %w", context.Canceled), 1, false},
		{"deadline exceeded", context.DeadlineExceeded, 1, false},
		{"handshake", fmt.Errorf("producer session: %w", ErrHandshake), 1, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, policy.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(10)
	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, policy.maxDelay)
	}
}

func TestNoRetry(t *testing.T) {
	t.Parallel()

	assert.False(t, NoRetry{}.ShouldRetry(errBoom, 1))
	assert.Zero(t, NoRetry{}.Backoff(1))
}
