package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRetry runs Retry on a goroutine and advances the mock clock until it
// returns.
func runRetry(t *testing.T, ctx context.Context, p RetryPolicy, fn func(context.Context, int) error) (error, time.Duration) {
	t.Helper()
	mock := clock.NewMock()
	start := mock.Now()

	done := make(chan error, 1)
	go func() { done <- Retry(ctx, mock, p, fn) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err, mock.Now().Sub(start)
		case <-deadline:
			t.Fatal("retry did not finish")
		default:
			mock.Add(100 * time.Millisecond)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err, _ := runRetry(t, context.Background(), RetryPolicy{Attempts: 5, Delay: time.Second}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err, elapsed := runRetry(t, context.Background(), RetryPolicy{Attempts: 3, Delay: time.Second}, func(context.Context, int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), clock.NewMock(), RetryPolicy{}, func(context.Context, int) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, clock.NewMock(), RetryPolicy{Attempts: 10, Delay: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 4*time.Second, p.delay(3))
	assert.Equal(t, 5*time.Second, p.delay(4))

	fixed := RetryPolicy{Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, fixed.delay(7))
}
