package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// Locker implements progress.Locker for a single process. Each user gets a
// one-slot semaphore that is dropped once nobody holds or waits for it.
type Locker struct {
	mu    sync.Mutex
	slots map[shared.UserID]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates an in-process locker. wait bounds how long Acquire
// blocks; zero means until ctx ends.
func NewLocker(wait time.Duration) *Locker {
	return &Locker{slots: make(map[shared.UserID]*slot), wait: wait}
}

var _ progress.Locker = (*Locker)(nil)

// Acquire blocks until the user's slot is free.
func (l *Locker) Acquire(ctx context.Context, userID shared.UserID) (func(), error) {
	s := l.ref(userID)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(userID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, shared.ErrLockNotAcquired
		}
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(userID)
		})
	}, nil
}

// Len returns the number of users with a live slot.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Locker) ref(userID shared.UserID) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(userID shared.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slots[userID]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
}
