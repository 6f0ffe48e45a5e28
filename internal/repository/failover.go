package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"liftbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker prefers the primary locker and switches to the fallback when
// the primary backend fails. The primary is retried after recoveryInterval.
type FailoverLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if !l.isDown.Load() || l.recoveryDue() {
		unlock, err := l.primary.TryLock(ctx, key, ttl)
		if err == nil || errors.Is(err, domain.ErrConcurrentModification) {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary locker recovered")
			}
			return unlock, err
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.TryLock(ctx, key, ttl)
}

// IsDegraded reports whether the fallback is currently in use.
func (l *FailoverLocker) IsDegraded() bool {
	return l.isDown.Load()
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
	l.isDown.Store(true)
}

func (l *FailoverLocker) recoveryDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCheck) > recoveryInterval {
		l.lastCheck = time.Now()
		return true
	}
	return false
}
