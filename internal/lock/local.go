package lock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// LocalLocker keeps one single-slot channel per key.
type LocalLocker struct {
	slots *xsync.Map[string, chan struct{}]
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: xsync.NewMap[string, chan struct{}]()}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string) (Release, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	slot, _ := l.slots.LoadOrStore(key, make(chan struct{}, 1))
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-slot })
		}, true, nil
	default:
		return nil, false, nil
	}
}
