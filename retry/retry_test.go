package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecoverableError(t *testing.T) {
	err := NewRecoverableError(errors.New("test error"))
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsRecoverable(errors.New("test error")))
	assert.False(t, IsRecoverable(nil))
}

func TestRecoverableHeuristics(t *testing.T) {
	assert.True(t, IsRecoverable(errors.New("pq: deadlock detected")))
	assert.True(t, IsRecoverable(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRecoverable(context.DeadlineExceeded))
	assert.False(t, IsRecoverable(context.Canceled))
	assert.False(t, IsRecoverable(errors.New("invalid escrow id")))
	assert.False(t, IsRecoverable(NewNonRecoverableError(errors.New("timeout"))))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := Do(ctx, func() error {
		count++
		return NewRecoverableError(errors.New("test error"))
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond*20))
	assert.Error(t, err)
	assert.Equal(t, "test error", err.Error())
	assert.Equal(t, 4, count)
}

func TestRetryZeroMaxRetries(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := Do(ctx, func() error {
		count++
		return NewRecoverableError(errors.New("test error"))
	}, WithMaxRetries(0), WithBaseWait(time.Millisecond*20))
	assert.Error(t, err)
	assert.Equal(t, "test error", err.Error())
	assert.Equal(t, 1, count) // Should still try once even with 0 retries
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := Do(ctx, func() error {
		count++
		return errors.New("invalid request")
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := Do(ctx, func() error {
		count++
		if count < 3 {
			return NewRecoverableError(errors.New("temporary failure"))
		}
		return nil
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	count := 0
	err := Do(ctx, func() error {
		count++
		return NewRecoverableError(errors.New("test error"))
	}, WithMaxRetries(3), WithBaseWait(time.Second))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}
