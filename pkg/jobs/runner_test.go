package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timeout waiting for signal %v", d)
	}
}

func TestSubmitWhileBusyIsRejected(t *testing.T) {
	r := New(context.Background())
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, r.Submit("daily", func(ctx context.Context) error {
		close(started)
		<-release
		close(finished)
		return nil
	}))
	waitSignal(t, started, time.Second)

	assert.True(t, r.Busy())
	assert.ErrorIs(t, r.Submit("daily", func(ctx context.Context) error { return nil }), ErrBusy)

	close(release)
	waitSignal(t, finished, time.Second)
	require.Eventually(t, func() bool { return !r.Busy() }, time.Second, time.Millisecond)

	ran := make(chan struct{})
	require.NoError(t, r.Submit("daily", func(ctx context.Context) error {
		close(ran)
		return errors.New("logged, not fatal")
	}))
	waitSignal(t, ran, time.Second)
}

func TestShutdownWaitsForInFlightJob(t *testing.T) {
	r := New(context.Background())
	started := make(chan struct{})
	var completed bool
	require.NoError(t, r.Submit("slow", func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		completed = true
		return nil
	}))
	waitSignal(t, started, time.Second)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, completed)
	assert.ErrorIs(t, r.Submit("late", func(ctx context.Context) error { return nil }), ErrClosed)
}

func TestShutdownTimeoutCancelsJob(t *testing.T) {
	r := New(context.Background())
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, r.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	waitSignal(t, started, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)
	waitSignal(t, cancelled, time.Second)
}

func TestShutdownIsIdempotent(t *testing.T) {
	r := New(context.Background())
	require.NoError(t, r.Shutdown(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))
}
