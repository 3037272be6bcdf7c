package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reins-ai/agentd/pkg/vault"
)

type fakeLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	calls   int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

func TestRefreshNow_SkipsWhenDistributedLockHeldElsewhere(t *testing.T) {
	v := vault.NewInMemoryVault()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	storeOAuth(t, v, "gmail", now.Add(time.Hour))

	locker := &fakeLocker{held: map[string]bool{"gmail": true}}
	mgr := NewManager(v, nil, Options{
		Now:               func() time.Time { return now },
		DistributedLocker: locker,
	})

	var called bool
	result, err := mgr.RefreshNow(context.Background(), "gmail", func(ctx context.Context, cc CallbackContext) (Result, error) {
		called = true
		return Result{}, nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, Result{}, result)
}

func TestRefreshNow_ProceedsWhenDistributedLockAcquired(t *testing.T) {
	v := vault.NewInMemoryVault()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	storeOAuth(t, v, "gmail", now.Add(time.Hour))

	locker := &fakeLocker{}
	mgr := NewManager(v, nil, Options{
		Now:               func() time.Time { return now },
		AfterFunc:         func(d time.Duration, f func()) timer { return &fakeTimer{delay: d, fn: f} },
		DistributedLocker: locker,
	})

	var called bool
	_, err := mgr.RefreshNow(context.Background(), "gmail", func(ctx context.Context, cc CallbackContext) (Result, error) {
		called = true
		return Result{AccessToken: "new-access"}, nil
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, 1, locker.calls)

	locker.mu.Lock()
	_, stillHeld := locker.held["gmail"]
	locker.mu.Unlock()
	require.False(t, stillHeld, "lock should be released after refresh completes")
}
