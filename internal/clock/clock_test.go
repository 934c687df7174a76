package clock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReliableClock_FirstServerWins(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var queried []string

	c := NewReliableClock([]string{"ntp1.test", "ntp2.test"}, time.Second, discardLogger(),
		WithQuerier(func(host string, timeout time.Duration) (time.Time, error) {
			queried = append(queried, host)
			return want, nil
		}),
	)

	got := c.Now(context.Background())
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"ntp1.test"}, queried, "should stop after first success")
}

func TestReliableClock_FallsThroughFailedServers(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var queried []string

	c := NewReliableClock([]string{"bad1.test", "bad2.test", "good.test"}, time.Second, discardLogger(),
		WithQuerier(func(host string, timeout time.Duration) (time.Time, error) {
			queried = append(queried, host)
			if host != "good.test" {
				return time.Time{}, errors.New("timeout")
			}
			return want, nil
		}),
	)

	got := c.Now(context.Background())
	assert.Equal(t, want, got)
	assert.Len(t, queried, 3)
}

func TestReliableClock_LocalFallbackWhenAllFail(t *testing.T) {
	c := NewReliableClock([]string{"bad1.test", "bad2.test"}, time.Second, discardLogger(),
		WithQuerier(func(host string, timeout time.Duration) (time.Time, error) {
			return time.Time{}, errors.New("unreachable")
		}),
	)

	before := time.Now().UTC()
	got := c.Now(context.Background())
	after := time.Now().UTC()

	require.False(t, got.IsZero())
	assert.True(t, !got.Before(before.Add(-time.Second)) && !got.After(after.Add(time.Second)),
		"fallback should be close to local time, got %v", got)
}

func TestReliableClock_CancelledContextSkipsServers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var queried int
	c := NewReliableClock([]string{"ntp1.test"}, time.Second, discardLogger(),
		WithQuerier(func(host string, timeout time.Duration) (time.Time, error) {
			queried++
			return time.Time{}, nil
		}),
	)

	got := c.Now(ctx)
	assert.Zero(t, queried, "cancelled context must not query servers")
	assert.False(t, got.IsZero())
}

func TestFixed_ReturnsPinnedInstant(t *testing.T) {
	want := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	f := Fixed{T: want}
	assert.Equal(t, want, f.Now(context.Background()))
	assert.Equal(t, want, f.Now(context.Background()))
}
