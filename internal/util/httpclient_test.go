package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", 3, time.Millisecond, 2*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", 2, time.Millisecond, time.Millisecond, func() error {
		calls++
		return errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 2, calls)
}

func TestRetry_PermanentStops(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), "test", 5, time.Millisecond, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetry_SingleAttemptUnwrapsPermanent(t *testing.T) {
	sentinel := errors.New("x")
	err := Retry(context.Background(), "test", 1, 0, 0, func() error { return Permanent(sentinel) })
	assert.Equal(t, sentinel, err)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "test", 5, time.Hour, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "éé", Truncate("ééé", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
