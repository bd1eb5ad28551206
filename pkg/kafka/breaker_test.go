package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerPublisher_OpensAfterFailures(t *testing.T) {
	next := &failingPublisher{err: errBroker}
	cfg := DefaultBreakerConfig("test-producer-open")
	cfg.MinRequests = 3
	cfg.Timeout = time.Minute
	b := NewBreakerPublisher(next, cfg, testLogger())

	event := &Event{EventID: "e", AggregateID: "a"}
	for i := 0; i < 3; i++ {
		err := b.Publish(context.Background(), "t", event)
		require.ErrorIs(t, err, errBroker)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Publish(context.Background(), "t", event)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, next.calls, "open breaker must not reach the publisher")
}

func TestBreakerPublisher_PassesThroughOnSuccess(t *testing.T) {
	next := &failingPublisher{}
	b := NewBreakerPublisher(next, DefaultBreakerConfig("test-producer-ok"), testLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), "t", &Event{EventID: "e"}))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 10, next.calls)
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, 0.0, stateValue(gobreaker.StateClosed))
	assert.Equal(t, 1.0, stateValue(gobreaker.StateHalfOpen))
	assert.Equal(t, 2.0, stateValue(gobreaker.StateOpen))
}
