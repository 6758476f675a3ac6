package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locker := NewKeyedMutex()
	release, err := locker.Acquire(context.Background(), "progress:s1", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "progress:s1", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrLocked))

	release()
	release()

	again, err := locker.Acquire(context.Background(), "progress:s1", time.Second)
	require.NoError(t, err)
	again()

	locker.mu.Lock()
	assert.Empty(t, locker.locks)
	locker.mu.Unlock()
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locker := NewKeyedMutex()
	first, err := locker.Acquire(context.Background(), "progress:s1", time.Second)
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second, err := locker.Acquire(ctx, "progress:s2", time.Second)
	require.NoError(t, err)
	second()
}

func TestKeyedMutexWaiterAcquiresAfterRelease(t *testing.T) {
	locker := NewKeyedMutex()
	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		next, err := locker.Acquire(context.Background(), "k", time.Second)
		if err == nil {
			next()
		}
		close(acquired)
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
