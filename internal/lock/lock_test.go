package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(retries int) *Manager {
	return New(NewLocalLocker(), retries).WithIntervals(time.Millisecond, 5*time.Millisecond)
}

func TestLocalLockerIsExclusive(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryLock(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	release()
	release()

	_, ok, err = locker.TryLock(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireReturnsContentionAfterRetries(t *testing.T) {
	m := newTestManager(2)
	ctx := context.Background()

	release, err := m.Acquire(ctx, MemberKey(1))
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(ctx, MemberKey(1))
	assert.ErrorIs(t, err, ErrLockContention)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	m := newTestManager(50)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		release()
	}()

	second, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	second()
}

func TestAcquireHonoursContext(t *testing.T) {
	m := newTestManager(1000)
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLockContention))
}

func TestAcquireMembersReleasesOnFailure(t *testing.T) {
	m := newTestManager(1)
	ctx := context.Background()

	held, err := m.Acquire(ctx, MemberKey(3))
	require.NoError(t, err)

	_, err = m.AcquireMembers(ctx, []snowflake.ID{3, 1, 2})
	require.ErrorIs(t, err, ErrLockContention)

	// 1 and 2 were taken before 3 failed and must be free again.
	rel, err := m.AcquireMembers(ctx, []snowflake.ID{2, 1, 1})
	require.NoError(t, err)
	rel()
	held()
}

func TestAcquireMembersSerialisesWriters(t *testing.T) {
	m := newTestManager(1000)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []snowflake.ID{10, 20}
			if i%2 == 0 {
				ids = []snowflake.ID{20, 10}
			}
			release, err := m.AcquireMembers(ctx, ids)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []snowflake.ID{1, 2, 5}, uniqueSorted([]snowflake.ID{5, 1, 2, 5, 1}))
	_, err := newTestManager(0).Acquire(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
