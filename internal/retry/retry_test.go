package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), Policy{
		Attempts: 5,
		Backoff:  Fixed(5 * time.Second),
		Sleep:    rec.sleep,
	}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.waits)
}

func TestDo_ExhaustedKeepsLastError(t *testing.T) {
	rec := &sleepRecorder{}
	sentinel := errors.New("still down")
	err := Do(context.Background(), Policy{Attempts: 3, Backoff: Exponential(time.Second), Sleep: rec.sleep},
		func(context.Context, int) error { return sentinel })

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, sentinel)
	// no wait after the final attempt
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
}

func TestDo_NonRetryableStopsEarly(t *testing.T) {
	fatal := errors.New("invalid params")
	calls := 0
	err := Do(context.Background(), Policy{
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:     (&sleepRecorder{}).sleep,
	}, func(context.Context, int) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Backoff: Fixed(time.Hour)}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("x")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoValue_OnRetryHook(t *testing.T) {
	var seen []int
	v, err := DoValue(context.Background(), Policy{
		Attempts: 3,
		OnRetry:  func(attempt int, _ error) { seen = append(seen, attempt) },
		Sleep:    (&sleepRecorder{}).sleep,
	}, func(_ context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("first")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1}, seen)
}

func TestExponential(t *testing.T) {
	b := Exponential(2000 * time.Millisecond)
	assert.Equal(t, 4*time.Second, b(1, nil))
	assert.Equal(t, 8*time.Second, b(2, nil))
	assert.Equal(t, 2*time.Second, b(0, nil))
}
