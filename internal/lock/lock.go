// Package lock serialises writers of a member's balance across goroutines
// and, when redis is configured, across instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/uplink/internal/config"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrLockContention = errors.New("lock_contention")
	ErrEmptyKey       = errors.New("lock_key_empty")

	errNotAcquired = errors.New("lock_not_acquired")
)

// Release frees a held lock. Calling it more than once is safe.
type Release func()

// Locker makes a single non-blocking acquisition attempt.
type Locker interface {
	TryLock(ctx context.Context, key string) (Release, bool, error)
}

// MemberKey is the lock key guarding a member's balance.
func MemberKey(id snowflake.ID) string {
	return fmt.Sprintf("uplink:lock:member:%d", id)
}

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Client  *redis.Client               `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Manager retries acquisitions with bounded exponential backoff.
type Manager struct {
	locker          Locker
	log             *zap.Logger
	metrics         *obsmetrics.SchedulerMetrics
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewManager(p Params) *Manager {
	var locker Locker
	if p.Client != nil {
		locker = NewRedisLocker(p.Client, p.Config.LockTTL)
	} else {
		locker = NewLocalLocker()
	}
	m := New(locker, p.Config.LockMaxRetries)
	m.log = p.Log.Named("lock")
	m.metrics = p.Metrics
	return m
}

// New wraps locker with the default retry policy.
func New(locker Locker, maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		locker:          locker,
		log:             zap.NewNop(),
		maxRetries:      uint64(maxRetries),
		initialInterval: 10 * time.Millisecond,
		maxInterval:     500 * time.Millisecond,
	}
}

// WithIntervals overrides the backoff bounds.
func (m *Manager) WithIntervals(initial, max time.Duration) *Manager {
	m.initialInterval = initial
	m.maxInterval = max
	return m
}

// Acquire takes key, retrying while it is held elsewhere. It returns
// ErrLockContention once the retry budget is spent.
func (m *Manager) Acquire(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	start := time.Now()
	var release Release
	op := func() error {
		rel, ok, err := m.locker.TryLock(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotAcquired
		}
		release = rel
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx))
	m.metrics.ObserveLockWait(obsmetrics.LockResourceMember, time.Since(start))
	if err != nil {
		if errors.Is(err, errNotAcquired) {
			m.metrics.IncLockContention(obsmetrics.LockResourceMember)
			m.log.Warn("lock contention", zap.String("key", key), zap.Uint64("retries", m.maxRetries))
			return nil, fmt.Errorf("%w: %s", ErrLockContention, key)
		}
		return nil, err
	}
	return release, nil
}

// AcquireMembers locks every distinct member in ascending id order so two
// callers locking overlapping sets can never deadlock. On failure nothing
// stays held.
func (m *Manager) AcquireMembers(ctx context.Context, ids []snowflake.ID) (Release, error) {
	ordered := uniqueSorted(ids)
	held := make([]Release, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, id := range ordered {
		rel, err := m.Acquire(ctx, MemberKey(id))
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, rel)
	}
	return releaseAll, nil
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	b.MaxInterval = m.maxInterval
	b.MaxElapsedTime = 0
	return b
}

func uniqueSorted(ids []snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	seen := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
