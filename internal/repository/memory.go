package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liftbook/internal/domain"
)

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

// MemoryLocker implements domain.Locker for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	seq   uint64
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, fmt.Errorf("lock %s is held: %w", key, domain.ErrConcurrentModification)
	}

	l.seq++
	token := l.seq
	l.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
	}
	return unlock, nil
}

// Cleanup drops expired entries.
func (l *MemoryLocker) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, v := range l.locks {
		if !now.Before(v.expiresAt) {
			delete(l.locks, k)
		}
	}
}
